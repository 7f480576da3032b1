// Package lockdown implements the host side of the device lockdown service:
// endpoint identification, session authentication and service startup.
package lockdown

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/pairing"
	"github.com/marmos91/dittomount/pkg/plist"
)

// Conn is the framed channel lockdown runs over. *channel.Conn implements it.
type Conn interface {
	Send(ctx context.Context, msg any) error
	Read(ctx context.Context) (*plist.Dict, error)
	StartTLS(ctx context.Context, rec *pairing.Record) error
	Close() error
}

// Client speaks lockdown over a single connection.
//
// Calls must not overlap.
type Client struct {
	conn      Conn
	label     string
	sessionID string
}

// NewClient wraps conn. label identifies this host program in every request.
func NewClient(conn Conn, label string) *Client {
	return &Client{conn: conn, label: label}
}

// SessionID returns the active session identifier, or "" before StartSession.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// request is the envelope shared by every lockdown request.
type request struct {
	Label   string `plist:"Label"`
	Request string `plist:"Request"`
}

// exchange sends req and reads one reply, turning an Error field into *Error.
func (c *Client) exchange(ctx context.Context, name string, req any) (*plist.Dict, error) {
	if err := c.conn.Send(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if code, err := resp.String("Error"); err == nil {
		logger.Debug("lockdown %s failed: %s", name, code)
		return nil, &Error{Request: name, Code: code}
	}
	return resp, nil
}

func unexpected(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnexpectedResponse, name, err)
}

package lockdown

import (
	"context"
	"errors"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/pairing"
	"github.com/marmos91/dittomount/pkg/plist"
)

// StartSessionRequest authenticates the host with its pairing identity.
type StartSessionRequest struct {
	Label      string `plist:"Label"`
	Request    string `plist:"Request"`
	HostID     string `plist:"HostID"`
	SystemBUID string `plist:"SystemBUID"`
}

// Session describes an authenticated lockdown session.
type Session struct {
	ID  string
	TLS bool
}

// StartSession authenticates with rec and, when the device asks for it,
// upgrades the connection to TLS before returning.
func (c *Client) StartSession(ctx context.Context, rec *pairing.Record) (Session, error) {
	req := StartSessionRequest{
		Label:      c.label,
		Request:    RequestStartSession,
		HostID:     rec.HostID,
		SystemBUID: rec.SystemBUID,
	}
	resp, err := c.exchange(ctx, RequestStartSession, req)
	if err != nil {
		return Session{}, err
	}

	id, err := resp.String("SessionID")
	if err != nil {
		return Session{}, unexpected(RequestStartSession, err)
	}

	enableSSL, err := resp.Bool("EnableSessionSSL")
	if err != nil && !errors.Is(err, plist.ErrMissingField) {
		return Session{}, unexpected(RequestStartSession, err)
	}

	if enableSSL {
		if err := c.conn.StartTLS(ctx, rec); err != nil {
			return Session{}, err
		}
	}

	c.sessionID = id
	logger.Debug("lockdown session %s started (tls=%t)", id, enableSSL)
	return Session{ID: id, TLS: enableSSL}, nil
}


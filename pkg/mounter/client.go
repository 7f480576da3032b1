// Package mounter is a client for the device disk-image mounter service.
//
// A Client owns one channel and runs one exchange at a time. Each operation
// is a short request/reply sequence: a structured request, zero or more raw
// payload bytes, and a structured reply whose fields are checked before the
// next step.
//
// A failed QueryPersonalizationManifest leaves the device side of the
// channel in an undefined state. The client then refuses further calls with
// ErrChannelPoisoned; Session reconnects automatically.
package mounter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/protocol/lockdown"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/marmos91/dittomount/pkg/plist"
	"github.com/marmos91/dittomount/pkg/provider"
)

// Channel is the bidirectional message transport a Client drives.
// *channel.Conn implements it.
type Channel interface {
	// Send writes one structured document.
	Send(ctx context.Context, msg any) error

	// Read reads one structured document.
	Read(ctx context.Context) (*plist.Dict, error)

	// SendRaw writes bytes verbatim, without framing.
	SendRaw(ctx context.Context, data []byte) error

	Close() error
}

// Client issues image mounter operations over a single channel.
type Client struct {
	mu       sync.Mutex
	ch       Channel
	id       string
	metrics  metrics.MounterMetrics
	poisoned bool
	closed   atomic.Bool
}

// New wraps an already established mounter channel. A nil m disables metrics.
func New(ch Channel, m metrics.MounterMetrics) *Client {
	if m == nil {
		m = metrics.NewNoopMounterMetrics()
	}
	return &Client{
		ch:      ch,
		id:      uuid.NewString(),
		metrics: m,
	}
}

// Connect reaches the mounter service through p.
//
// It opens lockdown, confirms the endpoint, starts an authenticated session,
// asks lockdown to start the mounter service, connects to the returned port
// and upgrades that channel to TLS when lockdown requires it. Nothing is
// retried. The lockdown connection is closed before returning.
func Connect(ctx context.Context, p provider.Provider, m metrics.MounterMetrics) (client *Client, err error) {
	if m == nil {
		m = metrics.NewNoopMounterMetrics()
	}
	start := time.Now()
	defer func() { m.RecordConnect(time.Since(start), err) }()

	rec, err := p.PairingRecord(ctx)
	if err != nil {
		return nil, err
	}

	ldConn, err := p.Connect(ctx, lockdown.Port)
	if err != nil {
		return nil, err
	}
	ld := lockdown.NewClient(ldConn, p.Label())
	defer func() { _ = ld.Close() }()

	if _, err := ld.QueryType(ctx); err != nil {
		return nil, err
	}
	if _, err := ld.StartSession(ctx, rec); err != nil {
		return nil, err
	}
	svc, err := ld.StartService(ctx, ServiceName)
	if err != nil {
		return nil, err
	}

	conn, err := p.Connect(ctx, svc.Port)
	if err != nil {
		return nil, err
	}
	if svc.TLS {
		if err := conn.StartTLS(ctx, rec); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	client = New(conn, m)
	logger.Info("[%s] Connected to image mounter at %s (tls=%t)", client.id, conn.Label(), svc.TLS)
	return client, nil
}

// ID returns the identifier used to correlate this client's log lines.
func (c *Client) ID() string {
	return c.id
}

// Poisoned reports whether a failed manifest query has disabled the client.
func (c *Client) Poisoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// Close releases the channel. Calling Close more than once is harmless.
//
// Close does not wait for an in-flight operation; closing the channel makes
// that operation fail with a transport error.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	logger.Debug("[%s] Closing image mounter client", c.id)
	return c.ch.Close()
}

// do runs one operation under the client lock and records its outcome.
func (c *Client) do(ctx context.Context, command string, op func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned {
		c.metrics.RecordCommand(command, 0, string(KindPoisoned))
		return ErrChannelPoisoned
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.metrics.RecordCommandStart(command)
	defer c.metrics.RecordCommandEnd(command)

	start := time.Now()
	err := op(ctx)
	c.metrics.RecordCommand(command, time.Since(start), string(Classify(err)))
	if err != nil {
		logger.Debug("[%s] %s failed: %v", c.id, command, err)
	}
	return err
}

// exchange sends req and reads the reply.
func (c *Client) exchange(ctx context.Context, req any) (*plist.Dict, error) {
	if err := c.ch.Send(ctx, req); err != nil {
		return nil, err
	}
	return c.ch.Read(ctx)
}

// expectStatus checks that resp carries the string Status want.
func (c *Client) expectStatus(command string, resp *plist.Dict, want string) error {
	status, err := resp.String("Status")
	if err != nil {
		logger.Error("[%s] Received bad response to %s: no Status", c.id, command)
		return fieldError(command, "Status", `"`+want+`"`, resp, err)
	}
	if status != want {
		logger.Error("[%s] Received bad response to %s: %q", c.id, command, status)
		return &StatusError{
			Command:     command,
			Field:       "Status",
			Want:        `"` + want + `"`,
			Got:         `"` + status + `"`,
			DeviceError: deviceError(resp),
		}
	}
	return nil
}

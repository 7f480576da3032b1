package mounter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/marmos91/dittomount/internal/protocol/lockdown"
	"github.com/marmos91/dittomount/pkg/channel"
	"github.com/marmos91/dittomount/pkg/pairing"
	"github.com/marmos91/dittomount/pkg/pairing/pairingtest"
	"github.com/marmos91/dittomount/pkg/plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servicePort uint16 = 49200

type script func(d device, raw net.Conn) error

// fakeProvider serves queued scripts per port over in-memory pipes.
type fakeProvider struct {
	t      *testing.T
	pair   *pairingtest.Device
	mu     sync.Mutex
	queues map[uint16][]script
	dials  []uint16
	errs   chan error
}

func newFakeProvider(t *testing.T) *fakeProvider {
	return &fakeProvider{
		t:      t,
		pair:   pairingtest.New(t),
		queues: map[uint16][]script{},
		errs:   make(chan error, 16),
	}
}

func (p *fakeProvider) serve(port uint16, s script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[port] = append(p.queues[port], s)
}

func (p *fakeProvider) Label() string { return "dittomount-test" }

func (p *fakeProvider) PairingRecord(context.Context) (*pairing.Record, error) {
	return p.pair.Record, nil
}

func (p *fakeProvider) Connect(_ context.Context, port uint16) (*channel.Conn, error) {
	p.mu.Lock()
	p.dials = append(p.dials, port)
	queue := p.queues[port]
	if len(queue) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection refused on port %d", port)
	}
	s := queue[0]
	p.queues[port] = queue[1:]
	p.mu.Unlock()

	host, remote := net.Pipe()
	p.t.Cleanup(func() {
		_ = host.Close()
		_ = remote.Close()
	})
	go func() {
		p.errs <- s(device{channel.NewConn(remote, channel.Options{Label: "device"})}, remote)
	}()
	return channel.NewConn(host, channel.Options{Label: fmt.Sprintf("pipe:%d", port)}), nil
}

func (p *fakeProvider) dialed() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint16(nil), p.dials...)
}

// secure upgrades the device end to TLS.
func (p *fakeProvider) secure(raw net.Conn) (device, error) {
	srv := tls.Server(raw, p.pair.ServerTLS)
	if err := srv.Handshake(); err != nil {
		return device{}, err
	}
	return device{channel.NewConn(srv, channel.Options{Label: "device-tls"})}, nil
}

func expectRequest(d device, name string) (*plist.Dict, error) {
	req, err := d.Read(context.Background())
	if err != nil {
		return nil, err
	}
	if got, _ := req.String("Request"); got != name {
		return nil, fmt.Errorf("lockdown expected %s, got %q", name, got)
	}
	return req, nil
}

// lockdownScript plays a full handshake that starts the mounter service.
func (p *fakeProvider) lockdownScript(sessionSSL, serviceSSL bool) script {
	return func(d device, raw net.Conn) error {
		if _, err := expectRequest(d, lockdown.RequestQueryType); err != nil {
			return err
		}
		if err := d.reply(plist.NewDict().Set("Type", plist.String(lockdown.ServiceType))); err != nil {
			return err
		}

		if _, err := expectRequest(d, lockdown.RequestStartSession); err != nil {
			return err
		}
		if err := d.reply(plist.NewDict().
			Set("SessionID", plist.String("SESSION")).
			Set("EnableSessionSSL", plist.Bool(sessionSSL))); err != nil {
			return err
		}
		if sessionSSL {
			var err error
			if d, err = p.secure(raw); err != nil {
				return err
			}
		}

		req, err := expectRequest(d, lockdown.RequestStartService)
		if err != nil {
			return err
		}
		if svc, _ := req.String("Service"); svc != ServiceName {
			return fmt.Errorf("service %q", svc)
		}
		return d.reply(plist.NewDict().
			Set("Port", plist.Uint(uint64(servicePort))).
			Set("EnableServiceSSL", plist.Bool(serviceSSL)))
	}
}

func (p *fakeProvider) wait(t *testing.T, n int) {
	t.Helper()
	for _i := 0; _i < n; _i++ {
		require.NoError(t, <-p.errs)
	}
}

// ============================================================================
// Connect
// ============================================================================

func TestConnect(t *testing.T) {
	t.Run("FullHandshakeWithTLS", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(true, true))
		p.serve(servicePort, func(d device, raw net.Conn) error {
			d, err := p.secure(raw)
			if err != nil {
				return err
			}
			if _, err := d.expect(CommandCopyDevices); err != nil {
				return err
			}
			return d.reply(plist.NewDict().Set("EntryList", plist.Array()))
		})
		m := newRecordingMetrics()

		c, err := Connect(context.Background(), p, m)
		require.NoError(t, err)
		defer func() { _ = c.Close() }()

		entries, err := c.CopyDevices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entries)

		p.wait(t, 2)
		assert.Equal(t, []uint16{lockdown.Port, servicePort}, p.dialed())
		require.Len(t, m.connects, 1)
		assert.NoError(t, m.connects[0])
	})

	t.Run("PlainService", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(false, false))
		p.serve(servicePort, func(d device, _ net.Conn) error {
			if _, err := d.expect(CommandQueryDeveloperModeStatus); err != nil {
				return err
			}
			return d.reply(plist.NewDict().Set("DeveloperModeStatus", plist.Bool(false)))
		})

		c, err := Connect(context.Background(), p, nil)
		require.NoError(t, err)
		defer func() { _ = c.Close() }()

		enabled, err := c.QueryDeveloperModeStatus(context.Background())
		require.NoError(t, err)
		assert.False(t, enabled)
		p.wait(t, 2)
	})

	t.Run("SessionRejected", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, func(d device, _ net.Conn) error {
			if _, err := expectRequest(d, lockdown.RequestQueryType); err != nil {
				return err
			}
			if err := d.reply(plist.NewDict().Set("Type", plist.String(lockdown.ServiceType))); err != nil {
				return err
			}
			if _, err := expectRequest(d, lockdown.RequestStartSession); err != nil {
				return err
			}
			return d.reply(plist.NewDict().Set("Error", plist.String("InvalidHostID")))
		})
		m := newRecordingMetrics()

		_, err := Connect(context.Background(), p, m)
		var lerr *lockdown.Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, "InvalidHostID", lerr.Code)
		assert.Equal(t, []uint16{lockdown.Port}, p.dialed())
		require.Len(t, m.connects, 1)
		assert.Error(t, m.connects[0])
	})

	t.Run("ServicePortUnreachable", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(false, false))

		_, err := Connect(context.Background(), p, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		p.wait(t, 1)
	})
}

// ============================================================================
// Session
// ============================================================================

func TestSession(t *testing.T) {
	t.Run("ReconnectsAfterPoison", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(false, false))
		p.serve(lockdown.Port, p.lockdownScript(false, false))
		p.serve(servicePort, func(d device, _ net.Conn) error {
			if _, err := d.expect(CommandQueryPersonalizationManifest); err != nil {
				return err
			}
			return d.reply(plist.NewDict().Set("Error", plist.String("NoManifest")))
		})
		p.serve(servicePort, func(d device, _ net.Conn) error {
			if _, err := d.expect(CommandCopyDevices); err != nil {
				return err
			}
			return d.reply(plist.NewDict().Set("EntryList", plist.Array(plist.String("entry"))))
		})

		s := NewSession(p, nil)
		defer func() { _ = s.Close() }()

		var firstID string
		err := s.Do(context.Background(), func(ctx context.Context, c *Client) error {
			firstID = c.ID()
			_, err := c.QueryPersonalizationManifest(ctx, "DeveloperDiskImage", "Personalized", []byte("digest"))
			return err
		})
		require.ErrorIs(t, err, ErrNotFound)

		var entries []plist.Value
		err = s.Do(context.Background(), func(ctx context.Context, c *Client) error {
			assert.NotEqual(t, firstID, c.ID())
			var err error
			entries, err = c.CopyDevices(ctx)
			return err
		})
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		p.wait(t, 4)
		assert.Equal(t, []uint16{lockdown.Port, servicePort, lockdown.Port, servicePort}, p.dialed())
	})

	t.Run("ReusesHealthyClient", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(false, false))
		p.serve(servicePort, func(d device, _ net.Conn) error {
			for _i := 0; _i < 2; _i++ {
				if _, err := d.expect(CommandMountImage); err != nil {
					return err
				}
				if err := d.reply(status("Failed")); err != nil {
					return err
				}
			}
			return nil
		})

		s := NewSession(p, nil)
		defer func() { _ = s.Close() }()

		for _i := 0; _i < 2; _i++ {
			err := s.Do(context.Background(), func(ctx context.Context, c *Client) error {
				return c.MountImage(ctx, "Developer", nil, nil, plist.Value{})
			})
			assert.ErrorIs(t, err, ErrUnexpectedResponse)
		}
		p.wait(t, 2)
		assert.Equal(t, []uint16{lockdown.Port, servicePort}, p.dialed())
	})

	t.Run("ConnectFailureSurfaces", func(t *testing.T) {
		p := newFakeProvider(t)
		s := NewSession(p, nil)

		called := false
		err := s.Do(context.Background(), func(context.Context, *Client) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		assert.NoError(t, s.Close())
	})

	t.Run("ErrorFromCallbackReturnedAsIs", func(t *testing.T) {
		p := newFakeProvider(t)
		p.serve(lockdown.Port, p.lockdownScript(false, false))
		p.serve(servicePort, func(device, net.Conn) error { return nil })

		s := NewSession(p, nil)
		defer func() { _ = s.Close() }()

		sentinel := errors.New("caller gave up")
		err := s.Do(context.Background(), func(context.Context, *Client) error { return sentinel })
		assert.Same(t, sentinel, err)
	})
}

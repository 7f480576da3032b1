package lockdown

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"

	"github.com/marmos91/dittomount/pkg/channel"
	"github.com/marmos91/dittomount/pkg/pairing/pairingtest"
	"github.com/marmos91/dittomount/pkg/plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice runs script against the device end of a pipe and returns a
// client bound to the host end. The script's error is reported on the channel.
func fakeDevice(t *testing.T, script func(dev *channel.Conn, raw net.Conn) error) (*Client, <-chan error) {
	t.Helper()
	host, device := net.Pipe()
	t.Cleanup(func() {
		_ = host.Close()
		_ = device.Close()
	})

	done := make(chan error, 1)
	go func() {
		done <- script(channel.NewConn(device, channel.Options{Label: "device"}), device)
	}()
	return NewClient(channel.NewConn(host, channel.Options{Label: "lockdown"}), "dittomount-test"), done
}

// expect reads one request and checks its Request and Label fields.
func expect(dev *channel.Conn, name string) (*plist.Dict, error) {
	req, err := dev.Read(context.Background())
	if err != nil {
		return nil, err
	}
	got, err := req.String("Request")
	if err != nil {
		return nil, err
	}
	if got != name {
		return nil, errors.New("unexpected request " + got)
	}
	if label, err := req.String("Label"); err != nil || label != "dittomount-test" {
		return nil, errors.New("missing label")
	}
	return req, nil
}

func TestQueryType(t *testing.T) {
	t.Run("Lockdown", func(t *testing.T) {
		c, done := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
			if _, err := expect(dev, RequestQueryType); err != nil {
				return err
			}
			return dev.Send(context.Background(), plist.NewDict().
				Set("Request", plist.String(RequestQueryType)).
				Set("Type", plist.String(ServiceType)))
		})

		typ, err := c.QueryType(context.Background())
		require.NoError(t, err)
		require.NoError(t, <-done)
		assert.Equal(t, ServiceType, typ)
	})

	t.Run("WrongEndpoint", func(t *testing.T) {
		c, _ := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
			if _, err := expect(dev, RequestQueryType); err != nil {
				return err
			}
			return dev.Send(context.Background(), plist.NewDict().Set("Type", plist.String("com.example.other")))
		})

		typ, err := c.QueryType(context.Background())
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		assert.Equal(t, "com.example.other", typ)
	})

	t.Run("MissingType", func(t *testing.T) {
		c, _ := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
			if _, err := expect(dev, RequestQueryType); err != nil {
				return err
			}
			return dev.Send(context.Background(), plist.NewDict().Set("Request", plist.String(RequestQueryType)))
		})

		_, err := c.QueryType(context.Background())
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		assert.ErrorIs(t, err, plist.ErrMissingField)
	})
}

func TestStartSession(t *testing.T) {
	pair := pairingtest.New(t)

	t.Run("Plain", func(t *testing.T) {
		c, done := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
			req, err := expect(dev, RequestStartSession)
			if err != nil {
				return err
			}
			if id, _ := req.String("HostID"); id != pair.Record.HostID {
				return errors.New("wrong HostID")
			}
			if buid, _ := req.String("SystemBUID"); buid != pair.Record.SystemBUID {
				return errors.New("wrong SystemBUID")
			}
			return dev.Send(context.Background(), plist.NewDict().
				Set("SessionID", plist.String("ABC")).
				Set("EnableSessionSSL", plist.Bool(false)))
		})

		sess, err := c.StartSession(context.Background(), pair.Record)
		require.NoError(t, err)
		require.NoError(t, <-done)
		assert.Equal(t, Session{ID: "ABC", TLS: false}, sess)
		assert.Equal(t, "ABC", c.SessionID())
	})

	t.Run("UpgradesToTLS", func(t *testing.T) {
		c, done := fakeDevice(t, func(dev *channel.Conn, raw net.Conn) error {
			if _, err := expect(dev, RequestStartSession); err != nil {
				return err
			}
			if err := dev.Send(context.Background(), plist.NewDict().
				Set("SessionID", plist.String("TLS-1")).
				Set("EnableSessionSSL", plist.Bool(true))); err != nil {
				return err
			}

			srv := tls.Server(raw, pair.ServerTLS)
			if err := srv.Handshake(); err != nil {
				return err
			}
			secure := channel.NewConn(srv, channel.Options{})
			if _, err := expect(secure, RequestStartService); err != nil {
				return err
			}
			return secure.Send(context.Background(), plist.NewDict().
				Set("Port", plist.Uint(49152)).
				Set("EnableServiceSSL", plist.Bool(true)))
		})

		sess, err := c.StartSession(context.Background(), pair.Record)
		require.NoError(t, err)
		assert.True(t, sess.TLS)

		svc, err := c.StartService(context.Background(), "com.apple.mobile.mobile_image_mounter")
		require.NoError(t, err)
		require.NoError(t, <-done)
		assert.Equal(t, uint16(49152), svc.Port)
		assert.True(t, svc.TLS)
	})

	t.Run("DeviceError", func(t *testing.T) {
		c, _ := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
			if _, err := expect(dev, RequestStartSession); err != nil {
				return err
			}
			return dev.Send(context.Background(), plist.NewDict().
				Set("Request", plist.String(RequestStartSession)).
				Set("Error", plist.String("InvalidHostID")))
		})

		_, err := c.StartSession(context.Background(), pair.Record)
		var lerr *Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, "InvalidHostID", lerr.Code)
		assert.Equal(t, RequestStartSession, lerr.Request)
		assert.Empty(t, c.SessionID())
	})
}

func TestStartService(t *testing.T) {
	tests := []struct {
		name    string
		reply   *plist.Dict
		want    ServiceDescriptor
		wantErr error
	}{
		{
			name:  "PlainService",
			reply: plist.NewDict().Set("Port", plist.Uint(50001)),
			want:  ServiceDescriptor{Service: "svc", Port: 50001},
		},
		{
			name:    "MissingPort",
			reply:   plist.NewDict().Set("Service", plist.String("svc")),
			wantErr: ErrUnexpectedResponse,
		},
		{
			name:    "PortWrongType",
			reply:   plist.NewDict().Set("Port", plist.String("50001")),
			wantErr: plist.ErrWrongType,
		},
		{
			name:    "PortOutOfRange",
			reply:   plist.NewDict().Set("Port", plist.Uint(70000)),
			wantErr: ErrUnexpectedResponse,
		},
		{
			name:    "SSLFlagWrongType",
			reply:   plist.NewDict().Set("Port", plist.Uint(1)).Set("EnableServiceSSL", plist.String("yes")),
			wantErr: ErrUnexpectedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := fakeDevice(t, func(dev *channel.Conn, _ net.Conn) error {
				req, err := expect(dev, RequestStartService)
				if err != nil {
					return err
				}
				if svc, _ := req.String("Service"); svc != "svc" {
					return errors.New("wrong service")
				}
				return dev.Send(context.Background(), tt.reply)
			})

			got, err := c.StartService(context.Background(), "svc")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

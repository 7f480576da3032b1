// Package channel implements the length-prefixed property-list transport
// spoken by device services.
//
// Every structured document travels as a 4-byte big-endian length followed by
// the serialized property list. Raw payloads share the same stream without
// any framing. A Conn is half-duplex: callers issue one exchange at a time.
package channel

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/pairing"
	"github.com/marmos91/dittomount/pkg/plist"
)

const (
	// MaxDocumentSize bounds a single framed document in either direction.
	MaxDocumentSize = 64 << 20

	// DefaultChunkSize is the write size used by SendRaw.
	DefaultChunkSize = 64 << 10

	headerSize = 4
)

var (
	// ErrDocumentTooLarge is returned when a frame length exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")

	// ErrEmptyDocument is returned when the peer announces a zero-length frame.
	ErrEmptyDocument = errors.New("empty document")
)

// Options tunes a Conn. The zero value applies no timeouts and no throttle.
type Options struct {
	// Label names the peer in log lines.
	Label string

	// ReadTimeout bounds each Read/ReadRaw. Zero means no limit beyond ctx.
	ReadTimeout time.Duration

	// WriteTimeout bounds each Send and each SendRaw chunk.
	WriteTimeout time.Duration

	// ChunkSize is the SendRaw write size. Zero uses DefaultChunkSize.
	ChunkSize int

	// Throttle limits SendRaw throughput. Nil means unlimited.
	Throttle *ratelimiter.RateLimiter
}

// Conn is a framed document channel over a stream connection.
type Conn struct {
	conn net.Conn
	opts Options
	tls  bool

	sent     atomic.Int64
	received atomic.Int64
}

// NewConn wraps an established stream connection.
func NewConn(conn net.Conn, opts Options) *Conn {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Label == "" {
		opts.Label = conn.RemoteAddr().String()
	}
	return &Conn{conn: conn, opts: opts}
}

// Dial connects to address and wraps the result.
func Dial(ctx context.Context, address string, timeout time.Duration, opts Options) (*Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if opts.Label == "" {
		opts.Label = address
	}
	return NewConn(conn, opts), nil
}

// Send serializes msg as an XML property list and writes it as one frame.
//
// msg may be a *plist.Dict, a plist.Value or a struct with `plist` tags.
func (c *Conn) Send(ctx context.Context, msg any) error {
	body, err := plist.Marshal(msg, plist.FormatXML)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if len(body) > MaxDocumentSize {
		return fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)

	logger.Debug("[%s] -> %s", c.opts.Label, body)
	return c.write(ctx, frame)
}

// Read reads one framed document whose top level must be a dictionary.
//
// XML and binary property lists are both accepted.
func (c *Conn) Read(ctx context.Context) (*plist.Dict, error) {
	var header [headerSize]byte
	if err := c.readFull(ctx, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	switch {
	case size == 0:
		return nil, ErrEmptyDocument
	case size > MaxDocumentSize:
		return nil, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, size)
	}

	body := make([]byte, size)
	if err := c.readFull(ctx, body); err != nil {
		return nil, err
	}

	dict, err := plist.UnmarshalDict(body)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	logger.Debug("[%s] <- %v", c.opts.Label, plist.DictValue(dict))
	return dict, nil
}

// SendRaw writes data verbatim, in chunks, honoring the throttle.
func (c *Conn) SendRaw(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), c.opts.ChunkSize)
		if err := c.opts.Throttle.WaitN(ctx, n); err != nil {
			return err
		}
		if err := c.write(ctx, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// ReadRaw fills buf from the stream without any framing.
func (c *Conn) ReadRaw(ctx context.Context, buf []byte) error {
	return c.readFull(ctx, buf)
}

// StartTLS upgrades the stream to TLS using the host credentials in rec.
//
// Subsequent traffic flows through the TLS session.
func (c *Conn) StartTLS(ctx context.Context, rec *pairing.Record) error {
	if c.tls {
		return nil
	}
	cfg, err := rec.TLSConfig()
	if err != nil {
		return err
	}

	tc := tls.Client(c.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tls handshake with %s: %w", c.opts.Label, err)
	}

	logger.Debug("[%s] TLS established (%s)", c.opts.Label, tls.VersionName(tc.ConnectionState().Version))
	c.conn = tc
	c.tls = true
	return nil
}

// TLS reports whether the channel has been upgraded.
func (c *Conn) TLS() bool { return c.tls }

// Label returns the peer name used in logs.
func (c *Conn) Label() string { return c.opts.Label }

// BytesSent returns the number of bytes written, framing included.
func (c *Conn) BytesSent() int64 { return c.sent.Load() }

// BytesReceived returns the number of bytes read, framing included.
func (c *Conn) BytesReceived() int64 { return c.received.Load() }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	release, err := c.bind(ctx, c.opts.WriteTimeout, c.conn.SetWriteDeadline)
	if err != nil {
		return err
	}
	defer release()

	n, err := c.conn.Write(b)
	c.sent.Add(int64(n))
	if err != nil {
		return c.wrap(ctx, "write", err)
	}
	return nil
}

func (c *Conn) readFull(ctx context.Context, b []byte) error {
	release, err := c.bind(ctx, c.opts.ReadTimeout, c.conn.SetReadDeadline)
	if err != nil {
		return err
	}
	defer release()

	n, err := io.ReadFull(c.conn, b)
	c.received.Add(int64(n))
	if err != nil {
		return c.wrap(ctx, "read", err)
	}
	return nil
}

// bind applies the earlier of ctx's deadline and timeout to the socket and
// interrupts blocked I/O when ctx is cancelled. release undoes both.
func (c *Conn) bind(ctx context.Context, timeout time.Duration, set func(time.Time) error) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := set(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = set(time.Time{})
	}, nil
}

func (c *Conn) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, c.opts.Label, ctxErr)
	}
	// The socket deadline can fire just before ctx observes its own.
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return fmt.Errorf("%s %s: %w", op, c.opts.Label, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s %s: %w", op, c.opts.Label, err)
}

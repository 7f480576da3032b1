// Package provider resolves device services to connected channels.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/protocol/lockdown"
	"github.com/marmos91/dittomount/pkg/channel"
	"github.com/marmos91/dittomount/pkg/pairing"
)

// Provider supplies the pairing credential for a device and opens channels
// to its service ports.
type Provider interface {
	// Label identifies the host program in lockdown requests.
	Label() string

	// PairingRecord returns the host pairing record for the device.
	PairingRecord(ctx context.Context) (*pairing.Record, error)

	// Connect opens a channel to the given device port.
	Connect(ctx context.Context, port uint16) (*channel.Conn, error)
}

// TCPConfig configures a TCPProvider.
type TCPConfig struct {
	// Address is the device host name or IP.
	Address string

	// LockdownPort replaces lockdown.Port when dialing lockdown, for
	// forwarded setups. Zero keeps the standard port.
	LockdownPort uint16

	// Label is sent as the host program name. Default: "dittomount".
	Label string

	// PairingRecordPath is loaded on first use when Record is nil.
	PairingRecordPath string

	// Record is a preloaded pairing record.
	Record *pairing.Record

	// DialTimeout bounds each TCP connect. Zero means no limit beyond ctx.
	DialTimeout time.Duration

	// Channel is applied to every opened channel.
	Channel channel.Options
}

// TCPProvider reaches a device directly over TCP, e.g. on the local network
// or through a tunnel.
type TCPProvider struct {
	cfg TCPConfig

	mu     sync.Mutex
	record *pairing.Record
}

// NewTCPProvider validates cfg and returns a provider.
func NewTCPProvider(cfg TCPConfig) (*TCPProvider, error) {
	if cfg.Address == "" {
		return nil, errors.New("provider: device address is required")
	}
	if cfg.Record == nil && cfg.PairingRecordPath == "" {
		return nil, errors.New("provider: pairing record or pairing record path is required")
	}
	if cfg.Label == "" {
		cfg.Label = "dittomount"
	}
	return &TCPProvider{cfg: cfg, record: cfg.Record}, nil
}

func (p *TCPProvider) Label() string {
	return p.cfg.Label
}

// PairingRecord loads the record from disk once and caches it. A failed
// load is retried on the next call.
func (p *TCPProvider) PairingRecord(ctx context.Context) (*pairing.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.record != nil {
		return p.record, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := pairing.Load(p.cfg.PairingRecordPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded pairing record for host %s from %s", rec.HostID, p.cfg.PairingRecordPath)
	p.record = rec
	return rec, nil
}

func (p *TCPProvider) Connect(ctx context.Context, port uint16) (*channel.Conn, error) {
	if port == lockdown.Port && p.cfg.LockdownPort != 0 {
		port = p.cfg.LockdownPort
	}
	address := net.JoinHostPort(p.cfg.Address, strconv.Itoa(int(port)))

	opts := p.cfg.Channel
	opts.Label = address

	conn, err := channel.Dial(ctx, address, p.cfg.DialTimeout, opts)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	logger.Debug("Connected to %s", address)
	return conn, nil
}

package mounter

import (
	"context"
	"sync"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/marmos91/dittomount/pkg/provider"
)

// Session owns a Client and replaces it whenever an operation leaves it
// poisoned. The replacement is connected lazily, before the next operation.
type Session struct {
	provider provider.Provider
	metrics  metrics.MounterMetrics

	mu     sync.Mutex
	client *Client
}

// NewSession creates a session. No connection is made until the first Do.
func NewSession(p provider.Provider, m metrics.MounterMetrics) *Session {
	if m == nil {
		m = metrics.NewNoopMounterMetrics()
	}
	return &Session{provider: p, metrics: m}
}

// Do runs fn against a live client, connecting first when needed.
//
// If the client is poisoned when fn returns, it is closed and discarded so
// the next Do starts from a fresh connection. fn's error is returned as is.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		c, err := Connect(ctx, s.provider, s.metrics)
		if err != nil {
			return err
		}
		s.client = c
	}

	err := fn(ctx, s.client)

	if s.client.Poisoned() {
		logger.Info("[%s] Discarding poisoned image mounter client", s.client.ID())
		_ = s.client.Close()
		s.client = nil
	}
	return err
}

// Close closes the current client, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

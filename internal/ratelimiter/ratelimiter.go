package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter throttles byte transfers using the token bucket algorithm.
//
// One token is one byte. The bucket refills at bytesPerSecond and holds at most
// burst tokens, so a single WaitN call larger than the burst is split into
// burst-sized waits.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing bytesPerSecond sustained throughput.
//
// Special cases:
//   - bytesPerSecond = 0: no throttling
//   - burst = 0: burst defaults to bytesPerSecond
//
// Example:
//
//	// 8 MiB/s with 64 KiB bursts
//	limiter := New(8<<20, 64<<10)
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = bytesPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter never blocks.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Burst returns the largest number of bytes a single wait can cover.
func (r *RateLimiter) Burst() int {
	if r.Unlimited() {
		return 0
	}
	return r.limiter.Burst()
}

// WaitN blocks until n bytes may be sent or the context is cancelled.
//
// A nil RateLimiter never blocks.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r.Unlimited() || n <= 0 {
		return nil
	}

	burst := r.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := r.limiter.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		n -= chunk
	}
	return nil
}


package bridge

import (
	"context"
	"io"
	"sync"
	"time"
)

// RateLimiter is a token bucket controlling the rate of data transfer.
type RateLimiter struct {
	bytesPerSecond int64
	mu             sync.Mutex
	tokens         int64
	lastRefill     time.Time
}

// NewRateLimiter creates a new rate limiter.
// bytesPerSecond of 0 means unlimited.
func NewRateLimiter(bytesPerSecond int64) *RateLimiter {
	return &RateLimiter{
		bytesPerSecond: bytesPerSecond,
		tokens:         bytesPerSecond,
		lastRefill:     time.Now(),
	}
}

// SetRate updates the rate limit.
func (r *RateLimiter) SetRate(bytesPerSecond int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesPerSecond = bytesPerSecond
	r.tokens = bytesPerSecond
}

// Rate returns the current rate limit.
func (r *RateLimiter) Rate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesPerSecond
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastRefill)
	r.tokens += int64(elapsed.Seconds() * float64(r.bytesPerSecond))
	if r.tokens > r.bytesPerSecond {
		r.tokens = r.bytesPerSecond
	}
	r.lastRefill = now
}

// Wait blocks until n bytes can be transferred or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bytesPerSecond <= 0 {
		return nil
	}

	r.refill(time.Now())
	for r.tokens < n && r.tokens < r.bytesPerSecond {
		needed := n - r.tokens
		if needed > r.bytesPerSecond {
			needed = r.bytesPerSecond
		}
		wait := time.Duration(float64(needed) / float64(r.bytesPerSecond) * float64(time.Second))

		r.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.mu.Lock()
			return ctx.Err()
		case <-timer.C:
		}
		r.mu.Lock()
		if r.bytesPerSecond <= 0 {
			return nil
		}
		r.refill(time.Now())
	}

	// Chunks larger than the bucket drive it negative so the next call waits.
	r.tokens -= n
	return nil
}

// ThrottledReader wraps an io.Reader with bandwidth limiting.
type ThrottledReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *RateLimiter
}

// NewThrottledReader creates a new throttled reader.
func NewThrottledReader(ctx context.Context, reader io.Reader, limiter *RateLimiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, reader: reader, limiter: limiter}
}

// Read implements io.Reader with rate limiting.
func (tr *ThrottledReader) Read(p []byte) (int, error) {
	n, err := tr.reader.Read(p)
	if n > 0 && tr.limiter != nil {
		if werr := tr.limiter.Wait(tr.ctx, int64(n)); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// BandwidthPreset is a named upload rate limit.
type BandwidthPreset struct {
	Name           string
	BytesPerSecond int64
}

// BandwidthPresets returns the choices offered in the settings dialog,
// unlimited first.
func BandwidthPresets() []BandwidthPreset {
	return []BandwidthPreset{
		{"Illimité", 0},
		{"256 Kio/s", 256 << 10},
		{"512 Kio/s", 512 << 10},
		{"1 Mio/s", 1 << 20},
		{"5 Mio/s", 5 << 20},
		{"10 Mio/s", 10 << 20},
		{"50 Mio/s", 50 << 20},
	}
}

package virtuallist

import (
	"sync"
	"time"
)

// DefaultFrame is one display frame at 60Hz.
const DefaultFrame = 16 * time.Millisecond

// Coalescer collapses bursts of scroll updates into at most one callback per
// frame, always delivering the latest scroll position.
type Coalescer struct {
	mu      sync.Mutex
	frame   time.Duration
	fn      func(scrollTop float64)
	latest  float64
	pending bool
	timer   *time.Timer
	stopped bool
}

// NewCoalescer calls fn at most once per frame.
func NewCoalescer(frame time.Duration, fn func(scrollTop float64)) *Coalescer {
	if frame <= 0 {
		frame = DefaultFrame
	}
	return &Coalescer{frame: frame, fn: fn}
}

// Update records a new scroll position and schedules a callback if none is
// pending.
func (c *Coalescer) Update(scrollTop float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.latest = scrollTop
	if c.pending {
		return
	}
	c.pending = true
	c.timer = time.AfterFunc(c.frame, c.fire)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if !c.pending || c.stopped {
		c.mu.Unlock()
		return
	}
	c.pending = false
	top := c.latest
	c.mu.Unlock()

	c.fn(top)
}

// Flush delivers a pending update immediately.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.fire()
}

// Stop cancels any pending update. Later updates are ignored.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

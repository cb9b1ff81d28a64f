package virtuallist

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calls struct {
	mu   sync.Mutex
	tops []float64
}

func (c *calls) record(top float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tops = append(c.tops, top)
}

func (c *calls) get() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.tops...)
}

func TestCoalescerDeliversLatestOncePerFrame(t *testing.T) {
	var got calls
	c := NewCoalescer(30*time.Millisecond, got.record)
	defer c.Stop()

	for i := 1; i <= 100; i++ {
		c.Update(float64(i))
	}

	require.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []float64{100}, got.get())

	c.Update(200)
	require.Eventually(t, func() bool { return len(got.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 200.0, got.get()[1])
}

func TestCoalescerFlushAndStop(t *testing.T) {
	var got calls
	c := NewCoalescer(time.Hour, got.record)

	c.Update(42)
	c.Flush()
	assert.Equal(t, []float64{42}, got.get())

	c.Flush()
	assert.Len(t, got.get(), 1, "nothing pending")

	c.Stop()
	c.Update(7)
	c.Flush()
	assert.Len(t, got.get(), 1)
}

func TestRowHeightSampler(t *testing.T) {
	var s RowHeightSampler
	assert.Equal(t, 24.0, s.Height(24))
	assert.False(t, s.Sample(0))
	assert.False(t, s.Sample(-3))
	assert.True(t, s.Sample(31))
	assert.False(t, s.Sample(40))
	assert.Equal(t, 31.0, s.Height(24))
	s.Reset()
	assert.Equal(t, 24.0, s.Height(24))
}

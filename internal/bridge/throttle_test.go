package bridge

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterUnlimited(t *testing.T) {
	l := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), 1<<20))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	l := NewRateLimiter(10)
	require.NoError(t, l.Wait(context.Background(), 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx, 10), context.Canceled)
}

func TestThrottledReaderPassesData(t *testing.T) {
	l := NewRateLimiter(1 << 20)
	r := NewThrottledReader(context.Background(), bytes.NewReader([]byte("payload")), l)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(1<<20), l.Rate())
}

func TestBandwidthPresets(t *testing.T) {
	presets := BandwidthPresets()
	require.NotEmpty(t, presets)
	assert.Zero(t, presets[0].BytesPerSecond)
	for i := 1; i < len(presets); i++ {
		assert.Greater(t, presets[i].BytesPerSecond, presets[i-1].BytesPerSecond)
	}
}

package dircache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panesync/internal/entry"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(t *testing.T, size int) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := New(DefaultTTL, size)
	c.SetClock(clk.now)
	t.Cleanup(c.Close)
	return c, clk
}

func listing(names ...string) []entry.FileEntry {
	out := make([]entry.FileEntry, len(names))
	for i, n := range names {
		out[i] = entry.FileEntry{Name: n}
	}
	return out
}

func TestGetWithinTTLIsIdempotent(t *testing.T) {
	c, clk := newTestCache(t, 0)
	c.Set("conn-1", "/home", listing("a", "b"))

	clk.t = clk.t.Add(3 * time.Second)
	first, ok := c.Get("conn-1", "/home", false)
	require.True(t, ok)
	clk.t = clk.t.Add(3 * time.Second)
	second, ok := c.Get("conn-1", "/home", false)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestGetExpiresAtTTL(t *testing.T) {
	c, clk := newTestCache(t, 0)
	c.Set("conn-1", "/home", listing("a"))

	clk.t = clk.t.Add(DefaultTTL)
	_, ok := c.Get("conn-1", "/home", false)
	assert.False(t, ok)
}

func TestForceBypassesCache(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Set("conn-1", "/home", listing("a"))
	_, ok := c.Get("conn-1", "/home", true)
	assert.False(t, ok)
}

func TestSetDropsParentAndCopies(t *testing.T) {
	c, _ := newTestCache(t, 0)
	in := append([]entry.FileEntry{entry.Parent()}, listing("a")...)
	c.Set("conn-1", "/home/", in)
	in[1].Name = "mutated"

	got, ok := c.Get("conn-1", "/home", false)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)

	got[0].Name = "mutated"
	again, _ := c.Get("conn-1", "/home", false)
	assert.Equal(t, "a", again[0].Name)
}

func TestConnectionsAreNamespaced(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Set("left", "/srv", listing("l"))
	c.Set("right", "/srv", listing("r"))

	l, _ := c.Get("left", "/srv", false)
	r, _ := c.Get("right", "/srv", false)
	assert.Equal(t, "l", l[0].Name)
	assert.Equal(t, "r", r[0].Name)

	c.InvalidateConnection("left")
	_, ok := c.Get("left", "/srv", false)
	assert.False(t, ok)
	_, ok = c.Get("right", "/srv", false)
	assert.True(t, ok)
}

func TestInvalidateAndPurge(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Set("c", "/a", listing("x"))
	c.Set("c", "/b", listing("y"))

	c.Invalidate("c", "/a/")
	_, ok := c.Get("c", "/a", false)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestSizeBound(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.Set("c", "/1", listing("1"))
	c.Set("c", "/2", listing("2"))
	c.Set("c", "/3", listing("3"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("c", "/1", false)
	assert.False(t, ok, "least recently used entry is evicted")
}

func TestCleanupRemovesExpired(t *testing.T) {
	c, clk := newTestCache(t, 0)
	c.Set("c", "/old", listing("x"))
	clk.t = clk.t.Add(DefaultTTL + time.Second)
	c.Set("c", "/new", listing("y"))

	c.cleanup()
	assert.Equal(t, 1, c.Len())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "/", normalize(""))
	assert.Equal(t, "/a/b", normalize("/a//b/"))
	assert.Equal(t, "C:/", normalize("C:"))
	assert.Equal(t, "C:/Users", normalize("C:/Users/"))
}

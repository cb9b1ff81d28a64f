package virtuallist

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeScenario(t *testing.T) {
	w := Compute(Params{
		Count:          80,
		RowHeight:      20,
		ViewportHeight: 300,
		ScrollTop:      400,
		Overscan:       6,
		Threshold:      DefaultThreshold,
	})
	assert.Equal(t, 14, w.Start)
	assert.Equal(t, 41, w.End)
	assert.Equal(t, 1600.0, w.TotalHeight)
	assert.Equal(t, 280.0, w.OffsetTop)
	assert.True(t, w.Virtualized)
}

func TestComputeBelowThresholdRendersAll(t *testing.T) {
	w := Compute(Params{Count: 50, RowHeight: 20, ViewportHeight: 100, ScrollTop: 300, Overscan: 6, Threshold: 50})
	assert.Equal(t, 0, w.Start)
	assert.Equal(t, 49, w.End)
	assert.False(t, w.Virtualized)
	assert.Equal(t, 1000.0, w.TotalHeight)
}

func TestComputeEmpty(t *testing.T) {
	w := Compute(Params{Count: 0, RowHeight: 20, ViewportHeight: 300})
	assert.Equal(t, 0, w.Len())
	assert.False(t, w.Contains(0))
}

func TestComputeClampsAtEdges(t *testing.T) {
	top := Compute(Params{Count: 1000, RowHeight: 20, ViewportHeight: 300, ScrollTop: 0, Overscan: 6, Threshold: 50})
	assert.Equal(t, 0, top.Start)
	assert.Equal(t, 21, top.End)

	bottom := Compute(Params{Count: 1000, RowHeight: 20, ViewportHeight: 300, ScrollTop: 1e9, Overscan: 6, Threshold: 50})
	assert.Equal(t, 999, bottom.End)
	assert.Equal(t, 985-6, bottom.Start)
}

func TestComputeRangeSizeBounds(t *testing.T) {
	const (
		count    = 5000
		row      = 22.0
		viewport = 437.0
		overscan = 6
	)
	visible := int(math.Ceil(viewport / row))
	for top := 0.0; top <= count*row; top += 7.3 {
		w := Compute(Params{Count: count, RowHeight: row, ViewportHeight: viewport, ScrollTop: top, Overscan: overscan, Threshold: 50})
		assert.GreaterOrEqual(t, w.Len(), visible, "scrollTop %v", top)
		// Partially visible rows at both edges add at most two.
		assert.LessOrEqual(t, w.Len(), visible+2*overscan+2, "scrollTop %v", top)
		assert.True(t, w.Start >= 0 && w.End <= count-1)
	}
}

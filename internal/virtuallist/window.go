// Package virtuallist computes which rows of a long list need rendering.
package virtuallist

import "math"

const (
	// DefaultThreshold is the row count above which windowing activates.
	DefaultThreshold = 50
	// DefaultOverscan is the number of extra rows rendered on each side.
	DefaultOverscan = 6
)

// Params describes the list and its viewport.
type Params struct {
	Count          int
	RowHeight      float64
	ViewportHeight float64
	ScrollTop      float64
	Overscan       int
	Threshold      int
}

// Window is the range of rows to render. Start and End are inclusive; an
// empty list yields Start 0 and End -1.
type Window struct {
	Start       int
	End         int
	TotalHeight float64
	// OffsetTop is the y position of row Start.
	OffsetTop   float64
	Virtualized bool
}

// Len returns the number of rows in the window.
func (w Window) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}

// Contains reports whether row i is inside the window.
func (w Window) Contains(i int) bool {
	return i >= w.Start && i <= w.End
}

// Compute returns the rows to render for p. Lists at or below the threshold
// are rendered in full.
func Compute(p Params) Window {
	if p.Count <= 0 {
		return Window{Start: 0, End: -1}
	}
	rowHeight := p.RowHeight
	if rowHeight <= 0 {
		rowHeight = 1
	}
	total := float64(p.Count) * rowHeight

	if p.Count <= p.Threshold || p.ViewportHeight <= 0 {
		return Window{Start: 0, End: p.Count - 1, TotalHeight: total}
	}

	overscan := p.Overscan
	if overscan < 0 {
		overscan = 0
	}

	// Scrolling past the content keeps the last viewport's worth of rows.
	scrollTop := math.Max(0, math.Min(p.ScrollTop, math.Max(0, total-p.ViewportHeight)))

	start := int(math.Floor(scrollTop/rowHeight)) - overscan
	end := int(math.Ceil((scrollTop+p.ViewportHeight)/rowHeight)) + overscan
	if start < 0 {
		start = 0
	}
	if end > p.Count-1 {
		end = p.Count - 1
	}

	return Window{
		Start:       start,
		End:         end,
		TotalHeight: total,
		OffsetTop:   float64(start) * rowHeight,
		Virtualized: true,
	}
}

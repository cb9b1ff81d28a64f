package virtuallist

import "sync"

// RowHeightSampler keeps the first valid row height measured.
type RowHeightSampler struct {
	mu     sync.Mutex
	height float64
}

// Sample records h if no height is known yet. Non-positive values are
// ignored. It reports whether h was recorded.
func (s *RowHeightSampler) Sample(h float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h <= 0 || s.height > 0 {
		return false
	}
	s.height = h
	return true
}

// Height returns the sampled height, or fallback before any sample.
func (s *RowHeightSampler) Height(fallback float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.height > 0 {
		return s.height
	}
	return fallback
}

// Reset forgets the sample, for example after a theme change.
func (s *RowHeightSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = 0
}

package dircache

import "sync"

// Sequencer hands out per-key request numbers so only the response to the
// most recent request is applied.
type Sequencer struct {
	mu     sync.Mutex
	latest map[string]uint64
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Issue records a new request for key and returns its number.
func (s *Sequencer) Issue(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key]++
	return s.latest[key]
}

// IsLatest reports whether seq is still the newest request for key.
func (s *Sequencer) IsLatest(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == seq
}

package saferand

import (
	"math/rand"
	"sync"
)

// lockedSource serializes access to a rand.Source so a shared *rand.Rand can
// be used from concurrent token issuers.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

// NewSource returns a rand.Source safe for concurrent use.
func NewSource(seed int64) rand.Source {
	return &lockedSource{src: rand.NewSource(seed)}
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	s.src.Seed(seed)
	s.mu.Unlock()
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	n := s.src.Int63()
	s.mu.Unlock()
	return n
}

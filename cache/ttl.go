package cache

import (
	"sync"
	"time"
)

// TTLSet remembers keys for a fixed TTL. Expired keys stop counting as seen
// immediately and are physically removed by Sweep.
type TTLSet struct {
	ttl  time.Duration
	seen map[string]time.Time
	mu   sync.Mutex
}

// NewTTLSet creates an empty set with the given TTL.
func NewTTLSet(ttl time.Duration) *TTLSet {
	return &TTLSet{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Observe reports whether key was recorded within the TTL as of now. If it was
// not, key is recorded at now. The check and insert are atomic.
func (s *TTLSet) Observe(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.seen[key]; ok && now.Sub(at) <= s.ttl {
		return true
	}
	s.seen[key] = now
	return false
}

// Contains reports whether key is live as of now without recording it.
func (s *TTLSet) Contains(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.seen[key]
	return ok && now.Sub(at) <= s.ttl
}

// Sweep removes entries older than the TTL and returns how many were removed.
func (s *TTLSet) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *TTLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

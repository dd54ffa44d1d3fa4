// Package stats holds the utility sub-component a service lazily
// allocates on first instrumentation use: a stat store plus subscriber
// notification fan-out.
package stats

import (
	"sync"
	"time"
)

// Stat is one named measurement. Values returned by the store are
// copies; callers never share the live entry.
type Stat struct {
	Name             string    `json:"name"`
	LatestValue      float64   `json:"latestValue"`
	AccumulatedValue float64   `json:"accumulatedValue"`
	Version          int64     `json:"version"`
	LastUpdateTime   time.Time `json:"lastUpdateTime"`
}

// Store is a concurrency-safe set of named stats.
type Store struct {
	mu    sync.RWMutex
	stats map[string]*Stat
}

// NewStore creates an empty stat store.
func NewStore() *Store {
	return &Store{stats: make(map[string]*Stat)}
}

// Set records an absolute value for the named stat, creating it if
// absent.
func (s *Store) Set(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(name)
	st.LatestValue = value
	st.AccumulatedValue += value
	st.Version++
	st.LastUpdateTime = time.Now()
}

// Adjust adds delta to the named stat, creating it at zero if absent.
func (s *Store) Adjust(name string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(name)
	st.LatestValue += delta
	st.AccumulatedValue += delta
	st.Version++
	st.LastUpdateTime = time.Now()
}

// Get returns a copy of the named stat.
func (s *Store) Get(name string) (Stat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[name]
	if !ok {
		return Stat{}, false
	}
	return *st, true
}

// Snapshot returns a copy of every stat.
func (s *Store) Snapshot() map[string]Stat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Stat, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

func (s *Store) entryLocked(name string) *Stat {
	st, ok := s.stats[name]
	if !ok {
		st = &Stat{Name: name}
		s.stats[name] = st
	}
	return st
}

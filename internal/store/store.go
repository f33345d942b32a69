// Package store is the session-scoped per-tab result store. It is the only
// mutable state shared between the coordinator, presenter, and popup
// contexts; everything else moves through the message router.
package store

import (
	"strconv"
	"sync"

	"github.com/sahir247/phishlens/internal/types"
)

// keyPrefix namespaces store keys the way the extension namespaced its
// session-storage entries.
const keyPrefix = "phishlens:"

// Store maps tab ids to their latest analysis record. Put and Get are
// atomic per key; overlapping puts for the same tab are last-write-wins.
// Entries do not survive the process.
type Store struct {
	mu sync.RWMutex
	m  map[string]*types.AnalysisRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{m: make(map[string]*types.AnalysisRecord)}
}

func key(tabID int) string {
	return keyPrefix + strconv.Itoa(tabID)
}

// Put overwrites the record for a tab unconditionally.
func (s *Store) Put(tabID int, rec *types.AnalysisRecord) {
	s.mu.Lock()
	s.m[key(tabID)] = rec
	s.mu.Unlock()
}

// Get returns the latest record for a tab, or nil if none was ever written.
func (s *Store) Get(tabID int) *types.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key(tabID)]
}

// Evict removes a tab's record. Called when the owning tab closes; a no-op
// for unknown tabs.
func (s *Store) Evict(tabID int) {
	s.mu.Lock()
	delete(s.m, key(tabID))
	s.mu.Unlock()
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

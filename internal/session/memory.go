package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pitabwire/caseview/internal/listview"
)

// MemoryStore is an in-memory Store with TTL expiry and a capacity bound.
// When full, the entry closest to expiry is evicted. Suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	state     listview.State
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a MemoryStore. maxEntries <= 0 means unbounded.
func NewMemoryStore(ttl time.Duration, maxEntries int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*memEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored snapshot.
func (s *MemoryStore) Get(_ context.Context, sessionID, pageID string) (listview.State, bool, error) {
	key := Key("", sessionID, pageID)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return listview.State{}, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return listview.State{}, false, nil
	}
	return cloneState(entry.state), true, nil
}

// Put stores a copy of state.
func (s *MemoryStore) Put(_ context.Context, sessionID, pageID string, state listview.State) error {
	key := Key("", sessionID, pageID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLocked(now)
	}
	s.entries[key] = &memEntry{state: cloneState(state), expiresAt: now.Add(s.ttl)}
	return nil
}

// Delete removes the snapshot.
func (s *MemoryStore) Delete(_ context.Context, sessionID, pageID string) error {
	s.mu.Lock()
	delete(s.entries, Key("", sessionID, pageID))
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked purges expired entries and, if still at capacity, drops the
// entry that expires first.
func (s *MemoryStore) evictLocked(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	if len(s.entries) < s.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	delete(s.entries, oldestKey)
}

func cloneState(s listview.State) listview.State {
	s.Records = slices.Clone(s.Records)
	s.Criteria = s.Criteria.Clone()
	if s.Notice != nil {
		n := *s.Notice
		s.Notice = &n
	}
	return s
}

// Package testutil provides test utilities and helpers.
package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// MemStore is an in-memory TTL key-value store matching the cache Store
// interface. It records Set calls so tests can assert on store traffic.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// SetCalls counts every Set, including overwrites.
	SetCalls int
	// GetErr / SetErr, when non-nil, are returned by every Get / Set.
	GetErr error
	SetErr error
}

type memEntry struct {
	val     []byte
	expires time.Time
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

// Get returns the stored value, or (nil, nil) on a miss, mirroring the
// gofiber storage contract.
func (s *MemStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.entries, key)
		return nil, nil
	}
	return e.val, nil
}

// Set stores a value with the given TTL (0 means no expiry).
func (s *MemStore) Set(key string, val []byte, exp time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.SetCalls++
	var expires time.Time
	if exp > 0 {
		expires = time.Now().Add(exp)
	}
	s.entries[key] = memEntry{val: append([]byte(nil), val...), expires: expires}
	return nil
}

// Keys returns all live keys, for assertions on key synthesis.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SearchBody builds a search batch payload with the given queries.
func SearchBody(t *testing.T, queries ...string) []byte {
	t.Helper()
	type item struct {
		IndexName string `json:"indexName"`
		Query     string `json:"query,omitempty"`
	}
	items := make([]item, 0, len(queries))
	for _, q := range queries {
		items = append(items, item{IndexName: "products", Query: q})
	}
	body, err := json.Marshal(map[string]any{"requests": items})
	if err != nil {
		t.Fatalf("marshal search body: %v", err)
	}
	return body
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// LivenessStore is an in-memory, TTL-aware LivenessStore. In the memory
// backend this is the only liveness representation there is — there's no
// separate durable row to fall back to, matching the key-value backend's
// "ephemeral data lives exclusively in the key-value store" rule (spec
// §4.1) by construction.
type LivenessStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewLivenessStore builds an empty LivenessStore.
func NewLivenessStore() *LivenessStore {
	return &LivenessStore{expires: make(map[string]time.Time)}
}

var _ storage.LivenessStore = (*LivenessStore)(nil)

// MarkAlive sets or renews the liveness key with ttl.
func (s *LivenessStore) MarkAlive(ctx context.Context, agentID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[agentID] = time.Now().Add(ttl)
	return nil
}

// IsAlive reports whether the liveness key is present and unexpired.
func (s *LivenessStore) IsAlive(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[agentID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(s.expires, agentID)
		return false, nil
	}
	return true, nil
}

// Remove clears the liveness key.
func (s *LivenessStore) Remove(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, agentID)
	return nil
}

// ActiveCounterStore is an in-memory ActiveCounterStore. The TaskStore's
// atomic operations are the real source of truth in the memory backend;
// this exists so callers that only hold a storage.ActiveCounterStore (the
// router/gateway side of the interface split) can still be exercised
// independently in tests.
type ActiveCounterStore struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewActiveCounterStore builds an empty ActiveCounterStore.
func NewActiveCounterStore() *ActiveCounterStore {
	return &ActiveCounterStore{counters: make(map[string]int)}
}

var _ storage.ActiveCounterStore = (*ActiveCounterStore)(nil)

// Increment increments and returns the counter for taskID.
func (s *ActiveCounterStore) Increment(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[taskID]++
	return s.counters[taskID], nil
}

// Decrement decrements, flooring at zero (spec §4.1), and returns the
// counter for taskID.
func (s *ActiveCounterStore) Decrement(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[taskID] > 0 {
		s.counters[taskID]--
	}
	return s.counters[taskID], nil
}

// Get returns the counter for taskID.
func (s *ActiveCounterStore) Get(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[taskID], nil
}

// DLQStore is an in-memory DLQStore.
type DLQStore struct {
	mu      sync.Mutex
	entries map[string]*storage.DLQEntry
}

// NewDLQStore builds an empty DLQStore.
func NewDLQStore() *DLQStore {
	return &DLQStore{entries: make(map[string]*storage.DLQEntry)}
}

var _ storage.DLQStore = (*DLQStore)(nil)

// Push records a dead-letter entry.
func (s *DLQStore) Push(ctx context.Context, e *storage.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return nil
}

// List returns up to limit dead-letter entries.
func (s *DLQStore) List(ctx context.Context, limit int) ([]*storage.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.DLQEntry
	for _, e := range s.entries {
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get looks up a dead-letter entry by id.
func (s *DLQStore) Get(ctx context.Context, id string) (*storage.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.NotFound("dlq_entry", id)
	}
	return e, nil
}

// Remove deletes a dead-letter entry.
func (s *DLQStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// IncrementAttempts bumps the retry counter for a dead-letter entry.
func (s *DLQStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return 0, errors.NotFound("dlq_entry", id)
	}
	e.Attempts++
	return e.Attempts, nil
}

// BroadcastResultStore is an in-memory BroadcastResultStore with passive
// expiry (spec §4.4: "24h TTL result persistence").
type BroadcastResultStore struct {
	mu      sync.Mutex
	results map[string]*storage.BroadcastResult
}

// NewBroadcastResultStore builds an empty BroadcastResultStore.
func NewBroadcastResultStore() *BroadcastResultStore {
	return &BroadcastResultStore{results: make(map[string]*storage.BroadcastResult)}
}

var _ storage.BroadcastResultStore = (*BroadcastResultStore)(nil)

// Save stores a broadcast result.
func (s *BroadcastResultStore) Save(ctx context.Context, r *storage.BroadcastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.BroadcastID] = r
	return nil
}

// Get looks up a broadcast result, treating an expired entry as absent.
func (s *BroadcastResultStore) Get(ctx context.Context, broadcastID string) (*storage.BroadcastResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[broadcastID]
	if !ok {
		return nil, errors.NotFound("broadcast_result", broadcastID)
	}
	if time.Now().After(r.ExpiresAt) {
		delete(s.results, broadcastID)
		return nil, errors.NotFound("broadcast_result", broadcastID)
	}
	return r, nil
}

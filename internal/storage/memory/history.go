package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/r3e-network/acn/internal/storage"
)

// MessageHistoryStore is an in-memory MessageHistoryStore.
type MessageHistoryStore struct {
	mu      sync.RWMutex
	entries []*storage.MessageLogEntry
}

// NewMessageHistoryStore builds an empty MessageHistoryStore.
func NewMessageHistoryStore() *MessageHistoryStore {
	return &MessageHistoryStore{}
}

var _ storage.MessageHistoryStore = (*MessageHistoryStore)(nil)

// Append records a delivered message.
func (s *MessageHistoryStore) Append(ctx context.Context, e *storage.MessageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// FindByAgent returns entries where agentID is either sender or recipient,
// newest first.
func (s *MessageHistoryStore) FindByAgent(ctx context.Context, agentID string, limit int) ([]*storage.MessageLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*storage.MessageLogEntry
	for _, e := range s.entries {
		if e.FromAgentID == agentID || e.ToAgentID == agentID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

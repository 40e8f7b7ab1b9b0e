package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/storage"
)

// ActivityStore is an in-memory ActivityRepository, newest-first.
type ActivityStore struct {
	mu         sync.RWMutex
	activities []*task.Activity
}

// NewActivityStore builds an empty ActivityStore.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

var _ storage.ActivityRepository = (*ActivityStore)(nil)

// Save appends an activity.
func (s *ActivityStore) Save(ctx context.Context, a *task.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	return nil
}

func (s *ActivityStore) sortedLocked() []*task.Activity {
	out := append([]*task.Activity(nil), s.activities...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func truncate(items []*task.Activity, limit int) []*task.Activity {
	if limit <= 0 || limit > len(items) {
		return items
	}
	return items[:limit]
}

// FindRecent returns the most recent activities, newest first.
func (s *ActivityStore) FindRecent(ctx context.Context, limit int) ([]*task.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return truncate(s.sortedLocked(), limit), nil
}

// FindByActor filters by actor id.
func (s *ActivityStore) FindByActor(ctx context.Context, actorID string, limit int) ([]*task.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*task.Activity
	for _, a := range s.sortedLocked() {
		if a.ActorID == actorID {
			matched = append(matched, a)
		}
	}
	return truncate(matched, limit), nil
}

// FindByTask filters by related task id.
func (s *ActivityStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*task.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*task.Activity
	for _, a := range s.sortedLocked() {
		if a.TaskID == taskID {
			matched = append(matched, a)
		}
	}
	return truncate(matched, limit), nil
}

// AuditStore is an in-memory AuditRepository.
type AuditStore struct {
	mu     sync.RWMutex
	events []*audit.Event
}

// NewAuditStore builds an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ storage.AuditRepository = (*AuditStore)(nil)

// Save appends an audit event.
func (s *AuditStore) Save(ctx context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Find returns events matching q, newest first, honoring limit/offset.
func (s *AuditStore) Find(ctx context.Context, q audit.Query) ([]*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := append([]*audit.Event(nil), s.events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	var matched []*audit.Event
	for _, e := range sorted {
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}
	if q.Offset > 0 && q.Offset < len(matched) {
		matched = matched[q.Offset:]
	} else if q.Offset >= len(matched) {
		matched = nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/r3e-network/acn/internal/storage"
)

const webhookDeliveryTTL = 7 * 24 * time.Hour

// WebhookDeliveryStore is an in-memory WebhookDeliveryStore.
type WebhookDeliveryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*storage.WebhookDelivery
	expires    map[string]time.Time
}

// NewWebhookDeliveryStore builds an empty WebhookDeliveryStore.
func NewWebhookDeliveryStore() *WebhookDeliveryStore {
	return &WebhookDeliveryStore{
		deliveries: make(map[string]*storage.WebhookDelivery),
		expires:    make(map[string]time.Time),
	}
}

var _ storage.WebhookDeliveryStore = (*WebhookDeliveryStore)(nil)

func cloneDelivery(d *storage.WebhookDelivery) *storage.WebhookDelivery {
	cp := *d
	return &cp
}

// Save persists or updates a delivery record, resetting its 7-day TTL.
func (s *WebhookDeliveryStore) Save(ctx context.Context, d *storage.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = cloneDelivery(d)
	s.expires[d.ID] = time.Now().UTC().Add(webhookDeliveryTTL)
	return nil
}

// Get retrieves a delivery by id, honoring passive TTL expiry.
func (s *WebhookDeliveryStore) Get(ctx context.Context, id string) (*storage.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if exp, ok := s.expires[id]; !ok || time.Now().UTC().After(exp) {
		return nil, nil
	}
	d, ok := s.deliveries[id]
	if !ok {
		return nil, nil
	}
	return cloneDelivery(d), nil
}

// FindByTask returns a task's delivery history, newest first.
func (s *WebhookDeliveryStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*storage.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var matched []*storage.WebhookDelivery
	for id, d := range s.deliveries {
		if d.TaskID != taskID {
			continue
		}
		if exp, ok := s.expires[id]; !ok || now.After(exp) {
			continue
		}
		matched = append(matched, cloneDelivery(d))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// FindRecent returns the most recent deliveries across all tasks.
func (s *WebhookDeliveryStore) FindRecent(ctx context.Context, limit int) ([]*storage.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var matched []*storage.WebhookDelivery
	for id, d := range s.deliveries {
		if exp, ok := s.expires[id]; !ok || now.After(exp) {
			continue
		}
		matched = append(matched, cloneDelivery(d))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

package memory

import (
	"context"
	"sync"

	"github.com/r3e-network/acn/internal/storage"
)

// PaymentTaskStore is an in-memory PaymentTaskRepository.
type PaymentTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*storage.PaymentTask
	byTask map[string][]string
}

// NewPaymentTaskStore builds an empty PaymentTaskStore.
func NewPaymentTaskStore() *PaymentTaskStore {
	return &PaymentTaskStore{
		tasks:  make(map[string]*storage.PaymentTask),
		byTask: make(map[string][]string),
	}
}

var _ storage.PaymentTaskRepository = (*PaymentTaskStore)(nil)

func clonePaymentTask(p *storage.PaymentTask) *storage.PaymentTask {
	cp := *p
	return &cp
}

// Save inserts or updates a payment task.
func (s *PaymentTaskStore) Save(ctx context.Context, p *storage.PaymentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[p.PaymentTaskID]; !exists {
		s.byTask[p.TaskID] = append(s.byTask[p.TaskID], p.PaymentTaskID)
	}
	s.tasks[p.PaymentTaskID] = clonePaymentTask(p)
	return nil
}

// FindByID retrieves a payment task by id.
func (s *PaymentTaskStore) FindByID(ctx context.Context, paymentTaskID string) (*storage.PaymentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.tasks[paymentTaskID]
	if !ok {
		return nil, nil
	}
	return clonePaymentTask(p), nil
}

// FindByTask returns every payment task raised against taskID.
func (s *PaymentTaskStore) FindByTask(ctx context.Context, taskID string) ([]*storage.PaymentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTask[taskID]
	out := make([]*storage.PaymentTask, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.tasks[id]; ok {
			out = append(out, clonePaymentTask(p))
		}
	}
	return out, nil
}

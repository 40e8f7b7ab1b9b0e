package kv

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// PaymentTaskStore is the Redis-backed PaymentTaskRepository.
type PaymentTaskStore struct{ Store }

// NewPaymentTaskStore wraps rdb as a PaymentTaskRepository.
func NewPaymentTaskStore(rdb *redis.Client) *PaymentTaskStore { return &PaymentTaskStore{newStore(rdb)} }

var _ storage.PaymentTaskRepository = (*PaymentTaskStore)(nil)

// Save upserts a payment task and its by-task index.
func (s *PaymentTaskStore) Save(ctx context.Context, p *storage.PaymentTask) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return acnerrors.Internal("encode payment task", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, paymentTaskKey(p.PaymentTaskID), raw, 0)
	pipe.SAdd(ctx, paymentTasksByTask(p.TaskID), p.PaymentTaskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save payment task", err)
	}
	return nil
}

// FindByID retrieves a payment task by id. Returns (nil, nil) when absent,
// matching the in-memory backend's not-found-is-nil contract.
func (s *PaymentTaskStore) FindByID(ctx context.Context, paymentTaskID string) (*storage.PaymentTask, error) {
	raw, err := s.rdb.Get(ctx, paymentTaskKey(paymentTaskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("get payment task", err)
	}
	var p storage.PaymentTask
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, acnerrors.Internal("decode payment task", err)
	}
	return &p, nil
}

// FindByTask returns every payment task raised against taskID.
func (s *PaymentTaskStore) FindByTask(ctx context.Context, taskID string) ([]*storage.PaymentTask, error) {
	ids, err := s.rdb.SMembers(ctx, paymentTasksByTask(taskID)).Result()
	if err != nil {
		return nil, acnerrors.Internal("list payment tasks", err)
	}
	out := make([]*storage.PaymentTask, 0, len(ids))
	for _, id := range ids {
		p, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

package kv

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// webhookDeliveryTTL matches the original's Redis `ex=86400*7` key
// expiry (internal/storage/relational.webhookDeliveryTTL carries the same
// constant for the Postgres backend's passive-expiry column).
const webhookDeliveryTTL = 7 * 24 * time.Hour

// WebhookDeliveryStore is the Redis-backed WebhookDeliveryStore, using
// Redis's native key TTL instead of relational's expires_at column filter
// — the original's own mechanism for this 7-day retention window.
type WebhookDeliveryStore struct{ Store }

// NewWebhookDeliveryStore wraps rdb as a WebhookDeliveryStore.
func NewWebhookDeliveryStore(rdb *redis.Client) *WebhookDeliveryStore {
	return &WebhookDeliveryStore{newStore(rdb)}
}

var _ storage.WebhookDeliveryStore = (*WebhookDeliveryStore)(nil)

// Save upserts a delivery row, resetting its TTL on every save.
func (s *WebhookDeliveryStore) Save(ctx context.Context, d *storage.WebhookDelivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return acnerrors.Internal("encode webhook delivery", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, webhookDeliveryKey(d.ID), raw, webhookDeliveryTTL)
	pipe.ZAdd(ctx, webhookDeliveriesRecent(), &redis.Z{Score: float64(d.CreatedAt.UnixNano()), Member: d.ID})
	pipe.Expire(ctx, webhookDeliveriesRecent(), webhookDeliveryTTL)
	if d.TaskID != "" {
		pipe.SAdd(ctx, webhookDeliveriesByTask(d.TaskID), d.ID)
		pipe.Expire(ctx, webhookDeliveriesByTask(d.TaskID), webhookDeliveryTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save webhook delivery", err)
	}
	return nil
}

// Get retrieves a delivery by id.
func (s *WebhookDeliveryStore) Get(ctx context.Context, id string) (*storage.WebhookDelivery, error) {
	raw, err := s.rdb.Get(ctx, webhookDeliveryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("get webhook delivery", err)
	}
	var d storage.WebhookDelivery
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, acnerrors.Internal("decode webhook delivery", err)
	}
	return &d, nil
}

func (s *WebhookDeliveryStore) loadMany(ctx context.Context, ids []string, limit int) ([]*storage.WebhookDelivery, error) {
	out := make([]*storage.WebhookDelivery, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		d, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindByTask returns taskID's delivery attempts, newest first.
func (s *WebhookDeliveryStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*storage.WebhookDelivery, error) {
	ids, err := s.rdb.SMembers(ctx, webhookDeliveriesByTask(taskID)).Result()
	if err != nil {
		return nil, acnerrors.Internal("list webhook deliveries", err)
	}
	out, err := s.loadMany(ctx, ids, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// FindRecent returns the most recent delivery attempts, newest first.
func (s *WebhookDeliveryStore) FindRecent(ctx context.Context, limit int) ([]*storage.WebhookDelivery, error) {
	ids, err := s.rdb.ZRevRange(ctx, webhookDeliveriesRecent(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list webhook deliveries", err)
	}
	return s.loadMany(ctx, ids, limit)
}

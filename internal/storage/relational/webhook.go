package relational

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

const webhookDeliveryTTL = 7 * 24 * time.Hour

// WebhookDeliveryStore is the Postgres-backed WebhookDeliveryStore,
// generalizing the original's Redis `ex=86400*7` TTL key into an
// expires_at column filtered on read (see internal/storage/memory/webhook.go
// for the same passive-expiry idiom against the in-memory backend).
type WebhookDeliveryStore struct{ Store }

// NewWebhookDeliveryStore wraps db as a WebhookDeliveryStore.
func NewWebhookDeliveryStore(db *sqlx.DB) *WebhookDeliveryStore { return &WebhookDeliveryStore{newStore(db)} }

var _ storage.WebhookDeliveryStore = (*WebhookDeliveryStore)(nil)

const webhookDeliverySelect = `
	SELECT id, task_id, event, url, payload, status, attempts, response_code, last_error,
		created_at, delivered_at
	FROM webhook_deliveries`

// Save upserts a delivery row, resetting its TTL on every save.
func (s *WebhookDeliveryStore) Save(ctx context.Context, d *storage.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, task_id, event, url, payload, status, attempts,
			response_code, last_error, created_at, delivered_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, attempts = EXCLUDED.attempts,
			response_code = EXCLUDED.response_code, last_error = EXCLUDED.last_error,
			delivered_at = EXCLUDED.delivered_at, expires_at = EXCLUDED.expires_at
	`, d.ID, d.TaskID, d.Event, d.URL, d.Payload, d.Status, d.Attempts, d.ResponseCode,
		d.LastError, d.CreatedAt, d.DeliveredAt, time.Now().UTC().Add(webhookDeliveryTTL))
	if err != nil {
		return acnerrors.Internal("save webhook delivery", err)
	}
	return nil
}

// Get retrieves a delivery by id, excluding expired rows.
func (s *WebhookDeliveryStore) Get(ctx context.Context, id string) (*storage.WebhookDelivery, error) {
	var d storage.WebhookDelivery
	err := s.db.GetContext(ctx, &d, webhookDeliverySelect+" WHERE id = $1 AND expires_at > now()", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("find webhook delivery", err)
	}
	return &d, nil
}

// FindByTask returns taskID's non-expired delivery attempts, newest first.
func (s *WebhookDeliveryStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*storage.WebhookDelivery, error) {
	var out []*storage.WebhookDelivery
	err := s.db.SelectContext(ctx, &out,
		webhookDeliverySelect+" WHERE task_id = $1 AND expires_at > now() ORDER BY created_at DESC LIMIT $2",
		taskID, limit)
	if err != nil {
		return nil, acnerrors.Internal("list webhook deliveries", err)
	}
	return out, nil
}

// FindRecent returns the most recent non-expired delivery attempts.
func (s *WebhookDeliveryStore) FindRecent(ctx context.Context, limit int) ([]*storage.WebhookDelivery, error) {
	var out []*storage.WebhookDelivery
	err := s.db.SelectContext(ctx, &out,
		webhookDeliverySelect+" WHERE expires_at > now() ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, acnerrors.Internal("list webhook deliveries", err)
	}
	return out, nil
}

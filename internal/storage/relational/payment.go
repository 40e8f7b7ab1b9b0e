package relational

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// PaymentTaskStore is the Postgres-backed PaymentTaskRepository.
type PaymentTaskStore struct{ Store }

// NewPaymentTaskStore wraps db as a PaymentTaskRepository.
func NewPaymentTaskStore(db *sqlx.DB) *PaymentTaskStore { return &PaymentTaskStore{newStore(db)} }

var _ storage.PaymentTaskRepository = (*PaymentTaskStore)(nil)

const paymentTaskSelect = `
	SELECT payment_task_id, task_id, buyer_agent_id, seller_agent_id, description, amount,
		currency, method, network, status, created_at, updated_at
	FROM payment_tasks`

// Save upserts a payment task row.
func (s *PaymentTaskStore) Save(ctx context.Context, p *storage.PaymentTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_tasks (payment_task_id, task_id, buyer_agent_id, seller_agent_id,
			description, amount, currency, method, network, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (payment_task_id) DO UPDATE SET
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, p.PaymentTaskID, p.TaskID, p.BuyerAgentID, p.SellerAgentID, p.Description, p.Amount,
		p.Currency, p.Method, p.Network, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return acnerrors.Internal("save payment task", err)
	}
	return nil
}

// FindByID retrieves a payment task by id. Returns (nil, nil) when absent,
// matching storage.PaymentTaskRepository's not-found-is-nil contract (see
// the in-memory implementation).
func (s *PaymentTaskStore) FindByID(ctx context.Context, paymentTaskID string) (*storage.PaymentTask, error) {
	var p storage.PaymentTask
	err := s.db.GetContext(ctx, &p, paymentTaskSelect+" WHERE payment_task_id = $1", paymentTaskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("find payment task", err)
	}
	return &p, nil
}

// FindByTask returns every payment task raised against taskID.
func (s *PaymentTaskStore) FindByTask(ctx context.Context, taskID string) ([]*storage.PaymentTask, error) {
	var out []*storage.PaymentTask
	if err := s.db.SelectContext(ctx, &out, paymentTaskSelect+" WHERE task_id = $1 ORDER BY created_at", taskID); err != nil {
		return nil, acnerrors.Internal("list payment tasks", err)
	}
	return out, nil
}

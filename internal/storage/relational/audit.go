package relational

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/acn/internal/domain/audit"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// AuditStore is the Postgres-backed AuditRepository.
type AuditStore struct{ Store }

// NewAuditStore wraps db as an AuditRepository.
func NewAuditStore(db *sqlx.DB) *AuditStore { return &AuditStore{newStore(db)} }

var _ storage.AuditRepository = (*AuditStore)(nil)

type auditRow struct {
	ID         string       `db:"id"`
	Timestamp  sql.NullTime `db:"timestamp"`
	Type       string       `db:"type"`
	Level      string       `db:"level"`
	ActorID    string       `db:"actor_id"`
	ActorType  string       `db:"actor_type"`
	TargetID   string       `db:"target_id"`
	TargetType string       `db:"target_type"`
	SubnetID   string       `db:"subnet_id"`
	MessageID  string       `db:"message_id"`
	Details    []byte       `db:"details"`
	SourceIP   string       `db:"source_ip"`
	UserAgent  string       `db:"user_agent"`
}

func (r auditRow) toDomain() (*audit.Event, error) {
	var details map[string]any
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, err
		}
	}
	return &audit.Event{
		ID:         r.ID,
		Timestamp:  r.Timestamp.Time,
		Type:       audit.EventType(r.Type),
		Level:      audit.Level(r.Level),
		ActorID:    r.ActorID,
		ActorType:  r.ActorType,
		TargetID:   r.TargetID,
		TargetType: r.TargetType,
		SubnetID:   r.SubnetID,
		MessageID:  r.MessageID,
		Details:    details,
		SourceIP:   r.SourceIP,
		UserAgent:  r.UserAgent,
	}, nil
}

// Save inserts one audit event.
func (s *AuditStore) Save(ctx context.Context, e *audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return acnerrors.Internal("marshal audit details", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, type, level, actor_id, actor_type, target_id,
			target_type, subnet_id, message_id, details, source_ip, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID, e.Timestamp, string(e.Type), string(e.Level), e.ActorID, e.ActorType, e.TargetID,
		e.TargetType, e.SubnetID, e.MessageID, details, e.SourceIP, e.UserAgent)
	if err != nil {
		return acnerrors.Internal("save audit event", err)
	}
	return nil
}

// Find lists audit events matching every non-zero field of q, newest first.
func (s *AuditStore) Find(ctx context.Context, q audit.Query) ([]*audit.Event, error) {
	query := `
		SELECT id, timestamp, type, level, actor_id, actor_type, target_id, target_type,
			subnet_id, message_id, details, source_ip, user_agent
		FROM audit_events WHERE 1=1`
	var args []any
	if q.Type != "" {
		args = append(args, string(q.Type))
		query += " AND type = $" + placeholder(len(args))
	}
	if q.ActorID != "" {
		args = append(args, q.ActorID)
		query += " AND actor_id = $" + placeholder(len(args))
	}
	if q.TargetID != "" {
		args = append(args, q.TargetID)
		query += " AND target_id = $" + placeholder(len(args))
	}
	if q.SubnetID != "" {
		args = append(args, q.SubnetID)
		query += " AND subnet_id = $" + placeholder(len(args))
	}
	if q.Level != "" {
		args = append(args, string(q.Level))
		query += " AND level = $" + placeholder(len(args))
	}
	if !q.StartTime.IsZero() {
		args = append(args, q.StartTime)
		query += " AND timestamp >= $" + placeholder(len(args))
	}
	if !q.EndTime.IsZero() {
		args = append(args, q.EndTime)
		query += " AND timestamp <= $" + placeholder(len(args))
	}
	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + placeholder(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += " OFFSET $" + placeholder(len(args))
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, acnerrors.Internal("query audit events", err)
	}
	out := make([]*audit.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode audit event", err)
		}
		out = append(out, e)
	}
	return out, nil
}

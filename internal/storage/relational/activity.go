package relational

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/acn/internal/domain/task"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// ActivityStore is the Postgres-backed ActivityRepository.
type ActivityStore struct{ Store }

// NewActivityStore wraps db as an ActivityRepository.
func NewActivityStore(db *sqlx.DB) *ActivityStore { return &ActivityStore{newStore(db)} }

var _ storage.ActivityRepository = (*ActivityStore)(nil)

type activityRow struct {
	EventID     string        `db:"event_id"`
	Type        string        `db:"type"`
	ActorType   string        `db:"actor_type"`
	ActorID     string        `db:"actor_id"`
	ActorName   string        `db:"actor_name"`
	Description string        `db:"description"`
	Points      sql.NullInt64 `db:"points"`
	TaskID      string        `db:"task_id"`
	Metadata    []byte        `db:"metadata"`
	Timestamp   sql.NullTime  `db:"timestamp"`
}

func (r activityRow) toDomain() (*task.Activity, error) {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, err
		}
	}
	var points *int
	if r.Points.Valid {
		v := int(r.Points.Int64)
		points = &v
	}
	return &task.Activity{
		EventID:     r.EventID,
		Type:        task.ActivityType(r.Type),
		ActorType:   task.CreatorType(r.ActorType),
		ActorID:     r.ActorID,
		ActorName:   r.ActorName,
		Description: r.Description,
		Points:      points,
		TaskID:      r.TaskID,
		Metadata:    meta,
		Timestamp:   r.Timestamp.Time,
	}, nil
}

const activitySelect = `
	SELECT event_id, type, actor_type, actor_id, actor_name, description, points, task_id,
		metadata, timestamp
	FROM activities`

// Save inserts one append-only activity row.
func (s *ActivityStore) Save(ctx context.Context, a *task.Activity) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return acnerrors.Internal("marshal activity metadata", err)
	}
	var points any
	if a.Points != nil {
		points = *a.Points
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activities (event_id, type, actor_type, actor_id, actor_name, description,
			points, task_id, metadata, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.EventID, string(a.Type), string(a.ActorType), a.ActorID, a.ActorName, a.Description,
		points, a.TaskID, meta, a.Timestamp)
	if err != nil {
		return acnerrors.Internal("save activity", err)
	}
	return nil
}

func (s *ActivityStore) scanMany(ctx context.Context, query string, args ...any) ([]*task.Activity, error) {
	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, acnerrors.Internal("list activities", err)
	}
	out := make([]*task.Activity, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode activity", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// FindRecent returns the most recent activity entries, newest first.
func (s *ActivityStore) FindRecent(ctx context.Context, limit int) ([]*task.Activity, error) {
	return s.scanMany(ctx, activitySelect+" ORDER BY timestamp DESC LIMIT $1", limit)
}

// FindByActor returns actorID's activity entries, newest first.
func (s *ActivityStore) FindByActor(ctx context.Context, actorID string, limit int) ([]*task.Activity, error) {
	return s.scanMany(ctx, activitySelect+" WHERE actor_id = $1 ORDER BY timestamp DESC LIMIT $2", actorID, limit)
}

// FindByTask returns taskID's activity entries, newest first.
func (s *ActivityStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*task.Activity, error) {
	return s.scanMany(ctx, activitySelect+" WHERE task_id = $1 ORDER BY timestamp DESC LIMIT $2", taskID, limit)
}

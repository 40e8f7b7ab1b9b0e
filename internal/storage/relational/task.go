package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/r3e-network/acn/internal/domain/task"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/money"
	"github.com/r3e-network/acn/internal/storage"
)

// TaskStore is the Postgres-backed TaskRepository. The three atomic
// operations (spec §4.1 points 1-3) run inside a `SELECT ... FOR UPDATE`
// transaction, locking the task row (AtomicJoin) or participation row
// (AtomicCancelParticipation, AtomicCompleteParticipation) for the
// transaction's duration — the row-level equivalent of the original's
// `SELECT ... FOR UPDATE` in infrastructure/persistence/postgres/
// task_repository.py, following the teacher's BeginTx/defer-Rollback idiom
// (applications/jam/store_pg.go's NextPending).
type TaskStore struct{ Store }

// NewTaskStore wraps db as a TaskRepository.
func NewTaskStore(db *sqlx.DB) *TaskStore { return &TaskStore{newStore(db)} }

var _ storage.TaskRepository = (*TaskStore)(nil)

type taskRow struct {
	TaskID              string         `db:"task_id"`
	Mode                string         `db:"mode"`
	Status               string        `db:"status"`
	CreatorType          string        `db:"creator_type"`
	CreatorID            string        `db:"creator_id"`
	CreatorName          string        `db:"creator_name"`
	Title                string        `db:"title"`
	Description          string        `db:"description"`
	TaskType             string        `db:"task_type"`
	RequiredSkills       pq.StringArray `db:"required_skills"`
	RewardAmount         string        `db:"reward_amount"`
	RewardCurrency       string        `db:"reward_currency"`
	RewardUnit           string        `db:"reward_unit"`
	TotalBudget          string        `db:"total_budget"`
	ReleasedAmount       string        `db:"released_amount"`
	IsMultiParticipant   bool          `db:"is_multi_participant"`
	AllowRepeatBySame    bool          `db:"allow_repeat_by_same"`
	MaxCompletions       sql.NullInt64 `db:"max_completions"`
	CompletedCount       int           `db:"completed_count"`
	AssigneeID           string        `db:"assignee_id"`
	AssigneeName         string        `db:"assignee_name"`
	AssignedAt           sql.NullTime  `db:"assigned_at"`
	Submission           string        `db:"submission"`
	SubmissionArtifacts  []byte        `db:"submission_artifacts"`
	SubmittedAt          sql.NullTime  `db:"submitted_at"`
	ReviewNotes          string        `db:"review_notes"`
	ReviewedBy           string        `db:"reviewed_by"`
	CreatedAt            sql.NullTime  `db:"created_at"`
	Deadline             sql.NullTime  `db:"deadline"`
	CompletedAt          sql.NullTime  `db:"completed_at"`
	ApprovalType         string        `db:"approval_type"`
	ValidatorID          string        `db:"validator_id"`
	PaymentTaskID        string        `db:"payment_task_id"`
	PaymentReleased      bool          `db:"payment_released"`
	Metadata             []byte        `db:"metadata"`
}

func (r taskRow) toDomain() (*task.Task, error) {
	reward, err := money.Parse(r.RewardAmount)
	if err != nil {
		return nil, err
	}
	total, err := money.Parse(r.TotalBudget)
	if err != nil {
		return nil, err
	}
	released, err := money.Parse(r.ReleasedAmount)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, err
		}
	}
	var artifacts []map[string]any
	if len(r.SubmissionArtifacts) > 0 {
		if err := json.Unmarshal(r.SubmissionArtifacts, &artifacts); err != nil {
			return nil, err
		}
	}
	var maxCompletions *int
	if r.MaxCompletions.Valid {
		v := int(r.MaxCompletions.Int64)
		maxCompletions = &v
	}
	return &task.Task{
		TaskID:                  r.TaskID,
		Mode:                    task.Mode(r.Mode),
		Status:                  task.Status(r.Status),
		CreatorType:             task.CreatorType(r.CreatorType),
		CreatorID:               r.CreatorID,
		CreatorName:             r.CreatorName,
		Title:                   r.Title,
		Description:             r.Description,
		TaskType:                r.TaskType,
		RequiredSkills:          r.RequiredSkills,
		RewardAmount:            reward,
		RewardCurrency:          r.RewardCurrency,
		RewardUnit:              task.RewardUnit(r.RewardUnit),
		TotalBudget:             total,
		ReleasedAmount:          released,
		IsMultiParticipant:      r.IsMultiParticipant,
		AllowRepeatBySame:       r.AllowRepeatBySame,
		MaxCompletions:          maxCompletions,
		CompletedCount:          r.CompletedCount,
		AssigneeID:              r.AssigneeID,
		AssigneeName:            r.AssigneeName,
		AssignedAt:              r.AssignedAt.Time,
		Submission:              r.Submission,
		SubmissionArtifacts:     artifacts,
		SubmittedAt:             r.SubmittedAt.Time,
		ReviewNotes:             r.ReviewNotes,
		ReviewedBy:              r.ReviewedBy,
		CreatedAt:               r.CreatedAt.Time,
		Deadline:                r.Deadline.Time,
		CompletedAt:             r.CompletedAt.Time,
		ApprovalType:            task.ApprovalType(r.ApprovalType),
		ValidatorID:             r.ValidatorID,
		PaymentTaskID:           r.PaymentTaskID,
		PaymentReleased:         r.PaymentReleased,
		Metadata:                meta,
	}, nil
}

const taskSelect = `
	SELECT task_id, mode, status, creator_type, creator_id, creator_name, title, description,
		task_type, required_skills, reward_amount, reward_currency, reward_unit, total_budget,
		released_amount, is_multi_participant, allow_repeat_by_same, max_completions,
		completed_count, assignee_id, assignee_name, assigned_at, submission,
		submission_artifacts, submitted_at, review_notes, reviewed_by, created_at, deadline,
		completed_at, approval_type, validator_id, payment_task_id, payment_released, metadata
	FROM tasks`

// execer is the minimal subset of *sql.DB/*sql.Tx/*sqlx.DB the write helpers
// need, so the same insert/update code runs against either a bare
// connection or an in-flight transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save upserts a task row.
func (s *TaskStore) Save(ctx context.Context, t *task.Task) error {
	return s.save(ctx, s.db, t)
}

func (s *TaskStore) save(ctx context.Context, q execer, t *task.Task) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return acnerrors.Internal("marshal task metadata", err)
	}
	artifacts, err := json.Marshal(t.SubmissionArtifacts)
	if err != nil {
		return acnerrors.Internal("marshal submission artifacts", err)
	}
	var maxCompletions any
	if t.MaxCompletions != nil {
		maxCompletions = *t.MaxCompletions
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (task_id, mode, status, creator_type, creator_id, creator_name, title,
			description, task_type, required_skills, reward_amount, reward_currency, reward_unit,
			total_budget, released_amount, is_multi_participant, allow_repeat_by_same,
			max_completions, completed_count, assignee_id, assignee_name, assigned_at, submission,
			submission_artifacts, submitted_at, review_notes, reviewed_by, created_at, deadline,
			completed_at, approval_type, validator_id, payment_task_id, payment_released, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,
			$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status, total_budget = EXCLUDED.total_budget,
			released_amount = EXCLUDED.released_amount, completed_count = EXCLUDED.completed_count,
			assignee_id = EXCLUDED.assignee_id, assignee_name = EXCLUDED.assignee_name,
			assigned_at = EXCLUDED.assigned_at, submission = EXCLUDED.submission,
			submission_artifacts = EXCLUDED.submission_artifacts, submitted_at = EXCLUDED.submitted_at,
			review_notes = EXCLUDED.review_notes, reviewed_by = EXCLUDED.reviewed_by,
			completed_at = EXCLUDED.completed_at, payment_task_id = EXCLUDED.payment_task_id,
			payment_released = EXCLUDED.payment_released, metadata = EXCLUDED.metadata
	`, t.TaskID, string(t.Mode), string(t.Status), string(t.CreatorType), t.CreatorID, t.CreatorName,
		t.Title, t.Description, t.TaskType, pq.Array(t.RequiredSkills), t.RewardAmount.String(),
		t.RewardCurrency, string(t.RewardUnit), t.TotalBudget.String(), t.ReleasedAmount.String(),
		t.IsMultiParticipant, t.AllowRepeatBySame, maxCompletions, t.CompletedCount, t.AssigneeID,
		t.AssigneeName, nullableTime(t.AssignedAt), t.Submission, artifacts,
		nullableTime(t.SubmittedAt), t.ReviewNotes, t.ReviewedBy, t.CreatedAt,
		nullableTime(t.Deadline), nullableTime(t.CompletedAt), string(t.ApprovalType), t.ValidatorID,
		t.PaymentTaskID, t.PaymentReleased, meta)
	if err != nil {
		return acnerrors.Internal("save task", err)
	}
	return nil
}

// FindByID looks up a task by id.
func (s *TaskStore) FindByID(ctx context.Context, taskID string) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, taskSelect+" WHERE task_id = $1", taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("task", taskID)
	}
	if err != nil {
		return nil, acnerrors.Internal("find task", err)
	}
	return row.toDomain()
}

// Find lists tasks matching every non-zero field of filter.
func (s *TaskStore) Find(ctx context.Context, filter storage.TaskFilter) ([]*task.Task, error) {
	query, args := s.filterQuery(taskSelect, filter)
	query += " ORDER BY created_at DESC"
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, acnerrors.Internal("list tasks", err)
	}
	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode task", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *TaskStore) filterQuery(base string, filter storage.TaskFilter) (string, []any) {
	query := base + " WHERE 1=1"
	var args []any
	if filter.CreatorID != "" {
		args = append(args, filter.CreatorID)
		query += " AND creator_id = $" + placeholder(len(args))
	}
	if filter.AssigneeID != "" {
		args = append(args, filter.AssigneeID)
		query += " AND assignee_id = $" + placeholder(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " AND status = $" + placeholder(len(args))
	}
	if filter.OpenOnly {
		args = append(args, string(task.StatusOpen))
		query += " AND status = $" + placeholder(len(args))
	}
	if filter.Skill != "" {
		args = append(args, filter.Skill)
		query += " AND $" + placeholder(len(args)) + " = ANY(required_skills)"
	}
	return query, args
}

// Delete removes a task by id.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE task_id = $1", taskID)
	if err != nil {
		return acnerrors.Internal("delete task", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return acnerrors.NotFound("task", taskID)
	}
	return nil
}

// Exists reports whether taskID is present.
func (s *TaskStore) Exists(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)", taskID)
	if err != nil {
		return false, acnerrors.Internal("check task exists", err)
	}
	return exists, nil
}

// Count returns the number of tasks matching filter.
func (s *TaskStore) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	query, args := s.filterQuery("SELECT COUNT(*) FROM tasks", filter)
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, acnerrors.Internal("count tasks", err)
	}
	return count, nil
}

type participationRow struct {
	ParticipationID string       `db:"participation_id"`
	TaskID          string       `db:"task_id"`
	ParticipantID   string       `db:"participant_id"`
	ParticipantName string       `db:"participant_name"`
	ParticipantType string       `db:"participant_type"`
	Status          string       `db:"status"`
	JoinedAt        sql.NullTime `db:"joined_at"`
	SubmittedAt     sql.NullTime `db:"submitted_at"`
	ReviewedAt      sql.NullTime `db:"reviewed_at"`
	Submission      string       `db:"submission"`
	ReviewNotes     string       `db:"review_notes"`
	ReviewedBy      string       `db:"reviewed_by"`
}

func (r participationRow) toDomain() *task.Participation {
	return &task.Participation{
		ParticipationID: r.ParticipationID,
		TaskID:          r.TaskID,
		ParticipantID:   r.ParticipantID,
		ParticipantName: r.ParticipantName,
		ParticipantType: task.CreatorType(r.ParticipantType),
		Status:          task.ParticipationStatus(r.Status),
		JoinedAt:        r.JoinedAt.Time,
		SubmittedAt:     r.SubmittedAt.Time,
		ReviewedAt:      r.ReviewedAt.Time,
		Submission:      r.Submission,
		ReviewNotes:     r.ReviewNotes,
		ReviewedBy:      r.ReviewedBy,
	}
}

const participationSelect = `
	SELECT participation_id, task_id, participant_id, participant_name, participant_type, status,
		joined_at, submitted_at, reviewed_at, submission, review_notes, reviewed_by
	FROM participations`

func insertParticipation(ctx context.Context, q execer, p *task.Participation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO participations (participation_id, task_id, participant_id, participant_name,
			participant_type, status, joined_at, submitted_at, reviewed_at, submission,
			review_notes, reviewed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ParticipationID, p.TaskID, p.ParticipantID, p.ParticipantName, string(p.ParticipantType),
		string(p.Status), p.JoinedAt, nullableTime(p.SubmittedAt), nullableTime(p.ReviewedAt),
		p.Submission, p.ReviewNotes, p.ReviewedBy)
	return err
}

func updateParticipation(ctx context.Context, q execer, p *task.Participation) error {
	_, err := q.ExecContext(ctx, `
		UPDATE participations SET status = $1, submitted_at = $2, reviewed_at = $3,
			submission = $4, review_notes = $5, reviewed_by = $6
		WHERE participation_id = $7
	`, string(p.Status), nullableTime(p.SubmittedAt), nullableTime(p.ReviewedAt), p.Submission,
		p.ReviewNotes, p.ReviewedBy, p.ParticipationID)
	return err
}

// activeCountForUpdate counts non-terminal participations for taskID within
// tx, locking every matching participation row so a concurrent join/cancel/
// complete cannot race the count (spec §4.1 point 1).
func activeCountForUpdate(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT status FROM participations WHERE task_id = $1 FOR UPDATE
	`, taskID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		if !task.ParticipationStatus(status).IsTerminal() {
			count++
		}
	}
	return count, rows.Err()
}

// AtomicJoin implements spec §4.1 point 1: the task row is locked for the
// transaction's duration (`SELECT ... FOR UPDATE`), so a concurrent Join
// sees either the pre- or post-insert participation set, never a
// capacity/dedup check racing an in-flight insert.
func (s *TaskStore) AtomicJoin(ctx context.Context, taskID, participantID, participantName string, participantType task.CreatorType, allowRepeatBySame bool) (*storage.JoinResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, acnerrors.Internal("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxCompletions sql.NullInt64
	var completedCount int
	err = tx.QueryRowContext(ctx, `
		SELECT max_completions, completed_count FROM tasks WHERE task_id = $1 FOR UPDATE
	`, taskID).Scan(&maxCompletions, &completedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("task", taskID)
	}
	if err != nil {
		return nil, acnerrors.Internal("lock task", err)
	}

	active, err := activeCountForUpdate(ctx, tx.Tx, taskID)
	if err != nil {
		return nil, acnerrors.Internal("lock participations", err)
	}

	if maxCompletions.Valid && completedCount+active >= int(maxCompletions.Int64) {
		return nil, acnerrors.CapacityExceeded("TASK_FULL")
	}
	if !allowRepeatBySame {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM participations
				WHERE task_id = $1 AND participant_id = $2
					AND status NOT IN ('completed', 'rejected', 'cancelled')
			)
		`, taskID, participantID).Scan(&exists)
		if err != nil {
			return nil, acnerrors.Internal("check existing participation", err)
		}
		if exists {
			return nil, acnerrors.Conflict("ALREADY_JOINED")
		}
	}

	p, err := task.NewParticipation(taskID, participantID, participantName, participantType)
	if err != nil {
		return nil, acnerrors.ValidationError("participation", err.Error())
	}
	if err := insertParticipation(ctx, tx.Tx, p); err != nil {
		return nil, acnerrors.Internal("insert participation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, acnerrors.Internal("commit join", err)
	}
	return &storage.JoinResult{Participation: p, ActiveCount: active + 1}, nil
}

// AtomicCancelParticipation implements spec §4.1 point 2 under a
// `SELECT ... FOR UPDATE` lock on the participation row.
func (s *TaskStore) AtomicCancelParticipation(ctx context.Context, participationID string) (*task.Participation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, acnerrors.Internal("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := lockParticipation(ctx, tx.Tx, participationID)
	if err != nil {
		return nil, err
	}
	if err := p.Cancel(); err != nil {
		return nil, acnerrors.InvalidState(err.Error())
	}
	if err := updateParticipation(ctx, tx.Tx, p); err != nil {
		return nil, acnerrors.Internal("update participation", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, acnerrors.Internal("commit cancel", err)
	}
	return p, nil
}

// AtomicCompleteParticipation implements spec §4.1 point 3: the
// participation row is locked, transitioned to completed, and the parent
// task's completed_count is incremented in the same transaction.
func (s *TaskStore) AtomicCompleteParticipation(ctx context.Context, participationID, reviewerID, notes string) (*storage.CompleteResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, acnerrors.Internal("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := lockParticipation(ctx, tx.Tx, participationID)
	if err != nil {
		return nil, err
	}
	if err := p.Complete(reviewerID, notes); err != nil {
		return nil, acnerrors.InvalidState(err.Error())
	}
	if err := updateParticipation(ctx, tx.Tx, p); err != nil {
		return nil, acnerrors.Internal("update participation", err)
	}

	var completedCount int
	err = tx.QueryRowContext(ctx, `
		UPDATE tasks SET completed_count = completed_count + 1
		WHERE task_id = $1
		RETURNING completed_count
	`, p.TaskID).Scan(&completedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("task", p.TaskID)
	}
	if err != nil {
		return nil, acnerrors.Internal("increment completed_count", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, acnerrors.Internal("commit complete", err)
	}
	return &storage.CompleteResult{Participation: p, CompletedCount: completedCount}, nil
}

func lockParticipation(ctx context.Context, tx *sql.Tx, participationID string) (*task.Participation, error) {
	var row participationRow
	err := tx.QueryRowContext(ctx, `
		SELECT participation_id, task_id, participant_id, participant_name, participant_type,
			status, joined_at, submitted_at, reviewed_at, submission, review_notes, reviewed_by
		FROM participations WHERE participation_id = $1 FOR UPDATE
	`, participationID).Scan(&row.ParticipationID, &row.TaskID, &row.ParticipantID,
		&row.ParticipantName, &row.ParticipantType, &row.Status, &row.JoinedAt, &row.SubmittedAt,
		&row.ReviewedAt, &row.Submission, &row.ReviewNotes, &row.ReviewedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("participation", participationID)
	}
	if err != nil {
		return nil, acnerrors.Internal("lock participation", err)
	}
	return row.toDomain(), nil
}

// FindParticipationByID looks up a participation by id.
func (s *TaskStore) FindParticipationByID(ctx context.Context, participationID string) (*task.Participation, error) {
	var row participationRow
	err := s.db.GetContext(ctx, &row, participationSelect+" WHERE participation_id = $1", participationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("participation", participationID)
	}
	if err != nil {
		return nil, acnerrors.Internal("find participation", err)
	}
	return row.toDomain(), nil
}

// FindParticipationsByTask lists every participation for a task.
func (s *TaskStore) FindParticipationsByTask(ctx context.Context, taskID string) ([]*task.Participation, error) {
	var rows []participationRow
	if err := s.db.SelectContext(ctx, &rows, participationSelect+" WHERE task_id = $1", taskID); err != nil {
		return nil, acnerrors.Internal("list participations", err)
	}
	out := make([]*task.Participation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// FindParticipationsByParticipant lists every participation for a participant.
func (s *TaskStore) FindParticipationsByParticipant(ctx context.Context, participantID string) ([]*task.Participation, error) {
	var rows []participationRow
	if err := s.db.SelectContext(ctx, &rows, participationSelect+" WHERE participant_id = $1", participantID); err != nil {
		return nil, acnerrors.Internal("list participations", err)
	}
	out := make([]*task.Participation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// HasNonTerminalParticipation reports whether participantID has an active or
// submitted participation on taskID.
func (s *TaskStore) HasNonTerminalParticipation(ctx context.Context, taskID, participantID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM participations
			WHERE task_id = $1 AND participant_id = $2
				AND status NOT IN ('completed', 'rejected', 'cancelled')
		)
	`, taskID, participantID)
	if err != nil {
		return false, acnerrors.Internal("check participation", err)
	}
	return exists, nil
}

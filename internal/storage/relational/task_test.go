package relational

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
)

func newMockTaskStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTaskStore(sqlx.NewDb(db, "postgres")), mock
}

func TestAtomicJoinLocksTaskRowAndInserts(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT max_completions, completed_count FROM tasks WHERE task_id = \$1 FOR UPDATE`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_completions", "completed_count"}).AddRow(5, 1))
	mock.ExpectQuery(`SELECT status FROM participations WHERE task_id = \$1 FOR UPDATE`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery(`SELECT EXISTS\(`).
		WithArgs("task-1", "agent-9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO participations`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := store.AtomicJoin(context.Background(), "task-1", "agent-9", "Agent Nine", task.CreatorAgent, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.ActiveCount)
	require.Equal(t, "agent-9", result.Participation.ParticipantID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicJoinRejectsWhenTaskFull(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT max_completions, completed_count FROM tasks`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_completions", "completed_count"}).AddRow(2, 1))
	mock.ExpectQuery(`SELECT status FROM participations`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectRollback()

	_, err := store.AtomicJoin(context.Background(), "task-1", "agent-9", "Agent Nine", task.CreatorAgent, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindCapacityExceeded))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicCompleteParticipationIncrementsTaskCount(t *testing.T) {
	store, mock := newMockTaskStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT participation_id, task_id, participant_id, participant_name, participant_type,\s*status, joined_at, submitted_at, reviewed_at, submission, review_notes, reviewed_by\s*FROM participations WHERE participation_id = \$1 FOR UPDATE`).
		WithArgs("part-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"participation_id", "task_id", "participant_id", "participant_name", "participant_type",
			"status", "joined_at", "submitted_at", "reviewed_at", "submission", "review_notes", "reviewed_by",
		}).AddRow("part-1", "task-1", "agent-9", "Agent Nine", "agent", "submitted",
			nowRFC3339(), nowRFC3339(), nil, "done", "", ""))
	mock.ExpectExec(`UPDATE participations SET status = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE tasks SET completed_count = completed_count \+ 1`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"completed_count"}).AddRow(3))
	mock.ExpectCommit()

	result, err := store.AtomicCompleteParticipation(context.Background(), "part-1", "creator-1", "looks good")
	require.NoError(t, err)
	require.Equal(t, 3, result.CompletedCount)
	require.Equal(t, task.ParticipationCompleted, result.Participation.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func nowRFC3339() time.Time {
	t, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	return t
}

package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParticipationStatus is the per-participant lifecycle state for a
// multi-participant task (spec §3 Participation, §4.1 "at most one
// non-terminal participation per (task, participant) unless
// allow_repeat_by_same").
type ParticipationStatus string

const (
	ParticipationActive    ParticipationStatus = "active"
	ParticipationSubmitted ParticipationStatus = "submitted"
	ParticipationCompleted ParticipationStatus = "completed"
	ParticipationRejected  ParticipationStatus = "rejected"
	ParticipationCancelled ParticipationStatus = "cancelled"
)

// IsTerminal reports whether the participation no longer counts toward the
// task's active_participants_count.
func (s ParticipationStatus) IsTerminal() bool {
	switch s {
	case ParticipationCompleted, ParticipationRejected, ParticipationCancelled:
		return true
	default:
		return false
	}
}

// Participation records one participant's engagement with a task. Capacity
// enforcement (TASK_FULL) and dedup enforcement (ALREADY_JOINED) happen
// under a row lock in the storage layer (spec §4.1); this type only carries
// the per-participation state machine.
type Participation struct {
	ParticipationID string
	TaskID          string
	ParticipantID   string
	ParticipantName string
	ParticipantType CreatorType

	Status ParticipationStatus

	JoinedAt    time.Time
	SubmittedAt time.Time
	ReviewedAt  time.Time

	Submission  string
	ReviewNotes string
	ReviewedBy  string
}

// NewParticipation constructs a Participation in the active state (spec
// §4.1 Join).
func NewParticipation(taskID, participantID, participantName string, participantType CreatorType) (*Participation, error) {
	if taskID == "" || participantID == "" {
		return nil, fmt.Errorf("participation: task_id and participant_id are required")
	}
	return &Participation{
		ParticipationID: uuid.NewString(),
		TaskID:          taskID,
		ParticipantID:   participantID,
		ParticipantName: participantName,
		ParticipantType: participantType,
		Status:          ParticipationActive,
		JoinedAt:        time.Now().UTC(),
	}, nil
}

// Submit transitions active -> submitted.
func (p *Participation) Submit(submission string) error {
	if p.Status != ParticipationActive {
		return fmt.Errorf("participation: cannot submit in status %s", p.Status)
	}
	p.Submission = submission
	p.SubmittedAt = time.Now().UTC()
	p.Status = ParticipationSubmitted
	return nil
}

// Complete transitions submitted -> completed (spec §4.1 atomic_complete_participation).
func (p *Participation) Complete(reviewerID, notes string) error {
	if p.Status != ParticipationSubmitted {
		return fmt.Errorf("participation: cannot complete in status %s", p.Status)
	}
	p.ReviewedBy = reviewerID
	p.ReviewNotes = notes
	p.ReviewedAt = time.Now().UTC()
	p.Status = ParticipationCompleted
	return nil
}

// Reject transitions submitted -> rejected.
func (p *Participation) Reject(reviewerID, notes string) error {
	if p.Status != ParticipationSubmitted {
		return fmt.Errorf("participation: cannot reject in status %s", p.Status)
	}
	p.ReviewedBy = reviewerID
	p.ReviewNotes = notes
	p.ReviewedAt = time.Now().UTC()
	p.Status = ParticipationRejected
	return nil
}

// Cancel transitions any non-terminal participation to cancelled (spec §4.1
// atomic_cancel_participation).
func (p *Participation) Cancel() error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("participation: cannot cancel in status %s", p.Status)
	}
	p.Status = ParticipationCancelled
	return nil
}

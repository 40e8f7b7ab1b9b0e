// Package task defines the Task, Participation, and Activity entities
// (spec §3) plus the lifecycle transitions they expose. Atomicity of the
// multi-participant counters is owned by the storage layer (spec §4.1);
// these methods only enforce the in-process state-machine invariants.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/acn/internal/money"
)

// Mode distinguishes open (first-come / multi-participant) tasks from
// pre-assigned tasks.
type Mode string

const (
	ModeOpen     Mode = "open"
	ModeAssigned Mode = "assigned"
)

// Status is the task's overall lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// ApprovalType selects how a submission is adjudicated.
type ApprovalType string

const (
	ApprovalManual    ApprovalType = "manual"
	ApprovalAuto      ApprovalType = "auto"
	ApprovalValidator ApprovalType = "validator"
)

// RewardUnit names what one reward_amount pays for.
type RewardUnit string

const (
	RewardUnitCompletion RewardUnit = "completion"
	RewardUnitToken      RewardUnit = "token"
	RewardUnitHour       RewardUnit = "hour"
	RewardUnitMilestone  RewardUnit = "milestone"
)

// CreatorType distinguishes a human principal from an autonomous agent
// creator, since settlement routes differently for each (spec §4.5).
type CreatorType string

const (
	CreatorHuman CreatorType = "human"
	CreatorAgent CreatorType = "agent"
)

// Task is the core unit of paid work in the task pool.
type Task struct {
	TaskID string
	Mode   Mode
	Status Status

	CreatorType CreatorType
	CreatorID   string
	CreatorName string

	Title           string
	Description     string
	TaskType        string
	RequiredSkills  []string

	RewardAmount   money.Amount
	RewardCurrency string
	RewardUnit     RewardUnit
	TotalBudget    money.Amount
	ReleasedAmount money.Amount

	IsMultiParticipant       bool
	AllowRepeatBySame        bool
	MaxCompletions           *int
	CompletedCount           int
	ActiveParticipantsCount  int // cache of the ephemeral counter, refreshed on read

	AssigneeID   string
	AssigneeName string
	AssignedAt   time.Time

	Submission         string
	SubmissionArtifacts []map[string]any
	SubmittedAt        time.Time

	ReviewNotes string
	ReviewedBy  string

	CreatedAt   time.Time
	Deadline    time.Time
	CompletedAt time.Time

	ApprovalType ApprovalType
	ValidatorID  string

	PaymentTaskID    string
	PaymentReleased  bool

	Metadata map[string]any
}

// CreateParams bundles the inputs to New (spec §4.5 Create).
type CreateParams struct {
	CreatorType       CreatorType
	CreatorID         string
	CreatorName       string
	Title             string
	Description       string
	Mode              Mode
	TaskType          string
	RequiredSkills    []string
	RewardAmount      string
	RewardCurrency    string
	RewardUnit        RewardUnit
	IsMultiParticipant bool
	AllowRepeatBySame bool
	MaxCompletions    *int
	DeadlineHours     *int
	AssigneeID        string
	AssigneeName      string
	ApprovalType      ApprovalType
	ValidatorID       string
	Metadata          map[string]any
}

// New constructs a Task, computing total_budget per spec §4.5: reward ×
// max_completions for capacity-bounded tasks, reward × 1 otherwise.
func New(p CreateParams) (*Task, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("task: title is required")
	}
	if p.CreatorID == "" {
		return nil, fmt.Errorf("task: creator_id is required")
	}
	reward, err := money.Parse(p.RewardAmount)
	if err != nil {
		return nil, fmt.Errorf("task: invalid reward_amount: %w", err)
	}
	if reward.IsNegative() {
		return nil, fmt.Errorf("task: reward_amount cannot be negative")
	}

	maxCompletions := p.MaxCompletions
	if p.Mode == ModeOpen && !p.IsMultiParticipant && maxCompletions == nil {
		one := 1
		maxCompletions = &one
	}

	var total money.Amount
	if maxCompletions != nil {
		total = reward.MulInt(*maxCompletions)
	} else {
		total = reward
	}

	approval := p.ApprovalType
	if approval == "" {
		approval = ApprovalManual
	}
	unit := p.RewardUnit
	if unit == "" {
		unit = RewardUnitCompletion
	}

	now := time.Now().UTC()
	t := &Task{
		TaskID:             uuid.NewString(),
		Mode:               p.Mode,
		Status:             StatusOpen,
		CreatorType:        p.CreatorType,
		CreatorID:          p.CreatorID,
		CreatorName:        p.CreatorName,
		Title:              p.Title,
		Description:        p.Description,
		TaskType:           p.TaskType,
		RequiredSkills:     p.RequiredSkills,
		RewardAmount:       reward,
		RewardCurrency:     p.RewardCurrency,
		RewardUnit:         unit,
		TotalBudget:        total,
		ReleasedAmount:     money.Zero(),
		IsMultiParticipant: p.IsMultiParticipant,
		AllowRepeatBySame:  p.AllowRepeatBySame,
		MaxCompletions:     maxCompletions,
		ApprovalType:       approval,
		ValidatorID:        p.ValidatorID,
		CreatedAt:          now,
		Metadata:           p.Metadata,
	}
	if p.DeadlineHours != nil {
		t.Deadline = now.Add(time.Duration(*p.DeadlineHours) * time.Hour)
	}
	if p.Mode == ModeAssigned && p.AssigneeID != "" {
		t.AssigneeID = p.AssigneeID
		t.AssigneeName = p.AssigneeName
		t.AssignedAt = now
		t.Status = StatusAssigned
	}
	return t, nil
}

// CanBeAccepted reports whether a single-assignee accept/join is legal.
func (t *Task) CanBeAccepted() bool {
	if t.Mode == ModeOpen {
		if t.AllowRepeatBySame || t.IsMultiParticipant {
			return t.Status == StatusOpen || t.Status == StatusAssigned
		}
		return t.Status == StatusOpen && t.CompletedCount == 0
	}
	return t.Status == StatusOpen || t.Status == StatusAssigned
}

// Accept transitions a single-assignee task to in_progress (spec §4.5
// Accept/Join).
func (t *Task) Accept(agentID, agentName string) error {
	if !t.CanBeAccepted() {
		return fmt.Errorf("task: cannot be accepted in status %s", t.Status)
	}
	t.AssigneeID = agentID
	t.AssigneeName = agentName
	t.AssignedAt = time.Now().UTC()
	t.Status = StatusInProgress
	return nil
}

// Submit transitions in_progress to submitted (single-assignee path).
func (t *Task) Submit(submission string, artifacts []map[string]any) error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("task: cannot submit in status %s", t.Status)
	}
	t.Submission = submission
	t.SubmissionArtifacts = artifacts
	t.SubmittedAt = time.Now().UTC()
	t.Status = StatusSubmitted
	return nil
}

// RemainingBudget returns total_budget - released_amount.
func (t *Task) RemainingBudget() money.Amount {
	return t.TotalBudget.Sub(t.ReleasedAmount)
}

// CanReleaseReward reports whether the remaining budget covers one more
// reward_amount release.
func (t *Task) CanReleaseReward() bool {
	return t.RemainingBudget().Cmp(t.RewardAmount) >= 0
}

// ReleaseReward increments released_amount by one reward_amount. Never
// called on rejection — the spec's Open Question decision preserves the
// original's "increment only on completion" behavior.
func (t *Task) ReleaseReward() {
	t.ReleasedAmount = t.ReleasedAmount.Add(t.RewardAmount)
}

// Complete transitions submitted -> completed for the single-assignee path,
// releasing reward budget and resetting repeatable open tasks.
func (t *Task) Complete(reviewerID, notes string) error {
	if t.Status != StatusSubmitted {
		return fmt.Errorf("task: cannot complete in status %s", t.Status)
	}
	if !t.TotalBudget.IsZero() && !t.CanReleaseReward() {
		return fmt.Errorf("task: insufficient budget to release reward")
	}
	t.ReviewedBy = reviewerID
	t.ReviewNotes = notes
	t.CompletedAt = time.Now().UTC()
	t.CompletedCount++
	if !t.TotalBudget.IsZero() {
		t.ReleaseReward()
	}
	t.Status = StatusCompleted

	if t.AllowRepeatBySame && t.Mode == ModeOpen {
		if t.MaxCompletions == nil || t.CompletedCount < *t.MaxCompletions {
			t.resetForNextCompletion()
		}
	}
	return nil
}

func (t *Task) resetForNextCompletion() {
	t.Status = StatusOpen
	t.AssigneeID = ""
	t.AssigneeName = ""
	t.AssignedAt = time.Time{}
	t.Submission = ""
	t.SubmissionArtifacts = nil
	t.SubmittedAt = time.Time{}
	t.ReviewNotes = ""
	t.ReviewedBy = ""
}

// Reject transitions submitted -> rejected (single-assignee path).
func (t *Task) Reject(reviewerID, notes string) error {
	if t.Status != StatusSubmitted {
		return fmt.Errorf("task: cannot reject in status %s", t.Status)
	}
	t.ReviewedBy = reviewerID
	t.ReviewNotes = notes
	t.Status = StatusRejected
	return nil
}

// Cancel transitions any non-completed task to cancelled (spec §4.5 Cancel).
func (t *Task) Cancel() error {
	if t.Status == StatusCompleted {
		return fmt.Errorf("task: cannot cancel a completed task")
	}
	t.Status = StatusCancelled
	return nil
}

// MatchesSkills reports whether agentSkills is a superset of RequiredSkills.
func (t *Task) MatchesSkills(agentSkills map[string]struct{}) bool {
	for _, s := range t.RequiredSkills {
		if _, ok := agentSkills[s]; !ok {
			return false
		}
	}
	return true
}

// HasCapacity reports whether another completion/participation slot remains,
// given the authoritative relational completed+active count (spec §4.1
// "Capacity MUST be enforced inside the lock using the relational count").
func (t *Task) HasCapacity(activeCount int) bool {
	if t.MaxCompletions == nil {
		return true
	}
	return t.CompletedCount+activeCount < *t.MaxCompletions
}

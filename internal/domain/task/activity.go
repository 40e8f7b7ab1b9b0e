package task

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType names one of the lifecycle events surfaced in the activity
// feed (spec §3 Activity, grounded on the activity service's event types).
type ActivityType string

const (
	ActivityTaskCreated   ActivityType = "task_created"
	ActivityTaskAccepted  ActivityType = "task_accepted"
	ActivityTaskSubmitted ActivityType = "task_submitted"
	ActivityTaskApproved  ActivityType = "task_approved"
	ActivityTaskRejected  ActivityType = "task_rejected"
	ActivityTaskCancelled ActivityType = "task_cancelled"
	ActivityAgentJoined   ActivityType = "agent_joined"
	ActivityPaymentSent   ActivityType = "payment_sent"
)

// Activity is one append-only feed entry (spec §3: "event_id, type,
// actor_type/id/name, description, optional points/task_id/metadata,
// timestamp").
type Activity struct {
	EventID     string
	Type        ActivityType
	ActorType   CreatorType
	ActorID     string
	ActorName   string
	Description string
	Points      *int
	TaskID      string
	Metadata    map[string]any
	Timestamp   time.Time
}

// NewActivity constructs an Activity stamped with the current time.
func NewActivity(eventType ActivityType, actorType CreatorType, actorID, actorName, description string) *Activity {
	return &Activity{
		EventID:     "evt-" + uuid.NewString(),
		Type:        eventType,
		ActorType:   actorType,
		ActorID:     actorID,
		ActorName:   actorName,
		Description: description,
		Timestamp:   time.Now().UTC(),
	}
}

// WithTask attaches a related task id.
func (a *Activity) WithTask(taskID string) *Activity {
	a.TaskID = taskID
	return a
}

// WithPoints attaches a points value (e.g. reward amount in whole units).
func (a *Activity) WithPoints(points int) *Activity {
	a.Points = &points
	return a
}

// WithMetadata attaches free-form metadata.
func (a *Activity) WithMetadata(metadata map[string]any) *Activity {
	a.Metadata = metadata
	return a
}

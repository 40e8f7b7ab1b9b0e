// Package storage defines the repository contracts C2–C5 persist through
// (spec §4.1). Two interchangeable backends — internal/storage/relational
// (Postgres) and internal/storage/kv (Redis) — implement these contracts;
// internal/storage/memory implements them for tests.
package storage

import (
	"context"
	"time"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/domain/task"
)

// AgentFilter selects agents by secondary index (spec §4.1: "by owner, by
// skill, by subnet, by creator, by assignee, by status, by api_key").
type AgentFilter struct {
	Owner      string
	Skill      string
	SubnetID   string
	Status     agent.Status
	NameSubstr string
}

// AgentRepository persists Agent rows.
type AgentRepository interface {
	Save(ctx context.Context, a *agent.Agent) error
	FindByID(ctx context.Context, agentID string) (*agent.Agent, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error)
	FindByEndpoint(ctx context.Context, owner, endpoint string) (*agent.Agent, error)
	// FindByTokenID looks up the agent currently bound to an on-chain token
	// id, via the agents:by_erc8004_id reverse index (spec §3 invariant iv:
	// a bound token id is globally unique).
	FindByTokenID(ctx context.Context, tokenID string) (*agent.Agent, error)
	Find(ctx context.Context, filter AgentFilter) ([]*agent.Agent, error)
	Delete(ctx context.Context, agentID string) error
	Exists(ctx context.Context, agentID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// SubnetRepository persists Subnet rows.
type SubnetRepository interface {
	Save(ctx context.Context, s *agent.Subnet) error
	FindByID(ctx context.Context, subnetID string) (*agent.Subnet, error)
	FindByOwner(ctx context.Context, owner string) ([]*agent.Subnet, error)
	Delete(ctx context.Context, subnetID string) error
	Exists(ctx context.Context, subnetID string) (bool, error)
}

// TaskFilter selects tasks by secondary index (spec §4.1).
type TaskFilter struct {
	CreatorID  string
	AssigneeID string
	Status     task.Status
	Skill      string
	OpenOnly   bool
}

// JoinResult is returned by AtomicJoin on success.
type JoinResult struct {
	Participation *task.Participation
	ActiveCount   int
}

// CompleteResult is returned by AtomicCompleteParticipation on success.
type CompleteResult struct {
	Participation  *task.Participation
	CompletedCount int
}

// TaskRepository persists Task and Participation rows, including the three
// atomic operations spec §4.1 requires row-level serialization for.
type TaskRepository interface {
	Save(ctx context.Context, t *task.Task) error
	FindByID(ctx context.Context, taskID string) (*task.Task, error)
	Find(ctx context.Context, filter TaskFilter) ([]*task.Task, error)
	Delete(ctx context.Context, taskID string) error
	Exists(ctx context.Context, taskID string) (bool, error)
	Count(ctx context.Context, filter TaskFilter) (int, error)

	// AtomicJoin locks the task row, enforces capacity (completed_count +
	// active_count >= max_completions => TASK_FULL) and dedup (non-terminal
	// participation already exists and !allowRepeatBySame => ALREADY_JOINED)
	// under that lock, then inserts the participation (spec §4.1 point 1).
	AtomicJoin(ctx context.Context, taskID, participantID, participantName string, participantType task.CreatorType, allowRepeatBySame bool) (*JoinResult, error)

	// AtomicCancelParticipation locks the participation row, rejects if
	// terminal, and transitions it to cancelled (spec §4.1 point 2).
	AtomicCancelParticipation(ctx context.Context, participationID string) (*task.Participation, error)

	// AtomicCompleteParticipation locks the participation row, requires
	// status submitted, transitions to completed, and atomically increments
	// the task's completed_count (spec §4.1 point 3).
	AtomicCompleteParticipation(ctx context.Context, participationID, reviewerID, notes string) (*CompleteResult, error)

	FindParticipationByID(ctx context.Context, participationID string) (*task.Participation, error)
	FindParticipationsByTask(ctx context.Context, taskID string) ([]*task.Participation, error)
	FindParticipationsByParticipant(ctx context.Context, participantID string) ([]*task.Participation, error)
	HasNonTerminalParticipation(ctx context.Context, taskID, participantID string) (bool, error)
}

// ActivityRepository persists the append-only activity feed.
type ActivityRepository interface {
	Save(ctx context.Context, a *task.Activity) error
	FindRecent(ctx context.Context, limit int) ([]*task.Activity, error)
	FindByActor(ctx context.Context, actorID string, limit int) ([]*task.Activity, error)
	FindByTask(ctx context.Context, taskID string, limit int) ([]*task.Activity, error)
}

// AuditRepository persists the audit trail.
type AuditRepository interface {
	Save(ctx context.Context, e *audit.Event) error
	Find(ctx context.Context, q audit.Query) ([]*audit.Event, error)
}

// LivenessStore tracks agent liveness TTL keys exclusively on the ephemeral
// backend (spec §4.1: "grace 30 min on first write, renewed to 60 min on
// each heartbeat").
type LivenessStore interface {
	MarkAlive(ctx context.Context, agentID string, ttl time.Duration) error
	IsAlive(ctx context.Context, agentID string) (bool, error)
	Remove(ctx context.Context, agentID string) error
}

// ActiveCounterStore tracks the per-task active-participant counter, the
// ephemeral cache spec §4.1 calls out as never authoritative for capacity.
type ActiveCounterStore interface {
	Increment(ctx context.Context, taskID string) (int, error)
	Decrement(ctx context.Context, taskID string) (int, error)
	Get(ctx context.Context, taskID string) (int, error)
}

// DLQEntry is one undeliverable message recorded for operator retry (spec
// §4.4 DLQ).
type DLQEntry struct {
	ID          string
	FromAgentID string
	ToAgentID   string
	Message     []byte
	Reason      string
	Attempts    int
	CreatedAt   time.Time
}

// DLQStore persists router dead-letter entries.
type DLQStore interface {
	Push(ctx context.Context, e *DLQEntry) error
	List(ctx context.Context, limit int) ([]*DLQEntry, error)
	Get(ctx context.Context, id string) (*DLQEntry, error)
	Remove(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
}

// BroadcastResult is persisted for 24h after a broadcast completes (spec
// §4.4 broadcast).
type BroadcastResult struct {
	BroadcastID string
	Succeeded   []string
	Failed      []string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// BroadcastResultStore persists broadcast outcomes with a TTL.
type BroadcastResultStore interface {
	Save(ctx context.Context, r *BroadcastResult) error
	Get(ctx context.Context, broadcastID string) (*BroadcastResult, error)
}

// MessageLogEntry records one delivered message for the per-agent history
// view (spec §4.4 "structured logs to per-agent message history").
type MessageLogEntry struct {
	MessageID   string
	FromAgentID string
	ToAgentID   string
	Summary     string
	Success     bool
	Timestamp   time.Time
}

// MessageHistoryStore persists the per-agent and global message log.
type MessageHistoryStore interface {
	Append(ctx context.Context, e *MessageLogEntry) error
	FindByAgent(ctx context.Context, agentID string, limit int) ([]*MessageLogEntry, error)
}

// WebhookDelivery records one outbound webhook attempt for the 7-day
// delivery history (spec §4.5 / ap2 webhook service).
type WebhookDelivery struct {
	ID           string     `db:"id"`
	TaskID       string     `db:"task_id"`
	Event        string     `db:"event"`
	URL          string     `db:"url"`
	Payload      []byte     `db:"payload"`
	Status       string     `db:"status"` // pending, delivered, failed
	Attempts     int        `db:"attempts"`
	ResponseCode int        `db:"response_code"`
	LastError    string     `db:"last_error"`
	CreatedAt    time.Time  `db:"created_at"`
	DeliveredAt  *time.Time `db:"delivered_at"`
}

// WebhookDeliveryStore persists webhook delivery attempts with a 7-day TTL.
type WebhookDeliveryStore interface {
	Save(ctx context.Context, d *WebhookDelivery) error
	Get(ctx context.Context, id string) (*WebhookDelivery, error)
	FindByTask(ctx context.Context, taskID string, limit int) ([]*WebhookDelivery, error)
	FindRecent(ctx context.Context, limit int) ([]*WebhookDelivery, error)
}

// PaymentTask is the AP2+A2A fusion record tracking a payment request
// alongside the task it was raised for (spec §4.5 "payment discovery and
// A2A + AP2 fusion").
type PaymentTask struct {
	PaymentTaskID string    `db:"payment_task_id"`
	TaskID        string    `db:"task_id"`
	BuyerAgentID  string    `db:"buyer_agent_id"`
	SellerAgentID string    `db:"seller_agent_id"`
	Description   string    `db:"description"`
	Amount        string    `db:"amount"`
	Currency      string    `db:"currency"`
	Method        string    `db:"method"`
	Network       string    `db:"network"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// PaymentTaskRepository persists PaymentTask rows.
type PaymentTaskRepository interface {
	Save(ctx context.Context, p *PaymentTask) error
	FindByID(ctx context.Context, paymentTaskID string) (*PaymentTask, error)
	FindByTask(ctx context.Context, taskID string) ([]*PaymentTask, error)
}

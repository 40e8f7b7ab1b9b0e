// Package httpapi implements the ACN request surface: the gin-based HTTP
// interface that fronts the registry, gateway, router, and task engine for
// external callers (spec §6 "Request surface"). Grounded in structure on
// the teacher's cmd/gateway handler-factory idiom (one function per
// operation, closing over its collaborators), generalized from
// net/http+gorilla/mux to gin.
package httpapi

import (
	"time"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/storage"
)

// agentView is the wire representation of agent.Agent. The API key is
// never included; it is returned exactly once, from join, as a sibling
// field on the enclosing response.
type agentView struct {
	AgentID       string         `json:"agent_id"`
	Owner         string         `json:"owner,omitempty"`
	Endpoint      string         `json:"endpoint"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Skills        []string       `json:"skills"`
	SubnetIDs     []string       `json:"subnet_ids"`
	Status        string         `json:"status"`
	RegisteredAt  time.Time      `json:"registered_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	ClaimStatus   string         `json:"claim_status,omitempty"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	OwnerShare    float64        `json:"owner_share,omitempty"`
	OnChain       *onChainView   `json:"on_chain,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// onChainView is the wire representation of agent.OnChainIdentity.
type onChainView struct {
	ChainNamespace string `json:"chain_namespace"`
	TokenID        string `json:"token_id"`
	TxHash         string `json:"tx_hash,omitempty"`
}

func toAgentView(a *agent.Agent) agentView {
	v := agentView{
		AgentID:       a.AgentID,
		Owner:         a.Owner,
		Endpoint:      a.Endpoint,
		Name:          a.Name,
		Description:   a.Description,
		Skills:        setToSlice(a.Skills),
		SubnetIDs:     setToSlice(a.SubnetIDs),
		Status:        string(a.Status),
		RegisteredAt:  a.RegisteredAt,
		LastHeartbeat: a.LastHeartbeat,
		ClaimStatus:   string(a.ClaimStatus),
		WalletAddress: a.WalletAddress,
		OwnerShare:    a.OwnerShare,
		Metadata:      a.Metadata,
	}
	if a.OnChain != nil {
		v.OnChain = &onChainView{
			ChainNamespace: a.OnChain.ChainNamespace,
			TokenID:        a.OnChain.TokenID,
			TxHash:         a.OnChain.TxHash,
		}
	}
	return v
}

func toAgentViews(as []*agent.Agent) []agentView {
	out := make([]agentView, 0, len(as))
	for _, a := range as {
		out = append(out, toAgentView(a))
	}
	return out
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// subnetView is the wire representation of agent.Subnet. Security scheme
// secrets are never included.
type subnetView struct {
	SubnetID  string   `json:"subnet_id"`
	Name      string   `json:"name"`
	Owner     string   `json:"owner"`
	IsPrivate bool     `json:"is_private"`
	Members   []string `json:"members"`
}

func toSubnetView(s *agent.Subnet) subnetView {
	return subnetView{
		SubnetID:  s.SubnetID,
		Name:      s.Name,
		Owner:     s.Owner,
		IsPrivate: s.IsPrivate,
		Members:   setToSlice(s.MemberAgentIDs),
	}
}

func toSubnetViews(ss []*agent.Subnet) []subnetView {
	out := make([]subnetView, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSubnetView(s))
	}
	return out
}

// taskView is the wire representation of task.Task.
type taskView struct {
	TaskID                  string           `json:"task_id"`
	Mode                    string           `json:"mode"`
	Status                  string           `json:"status"`
	CreatorType             string           `json:"creator_type"`
	CreatorID               string           `json:"creator_id"`
	CreatorName             string           `json:"creator_name,omitempty"`
	Title                   string           `json:"title"`
	Description             string           `json:"description,omitempty"`
	TaskType                string           `json:"task_type,omitempty"`
	RequiredSkills          []string         `json:"required_skills,omitempty"`
	RewardAmount            string           `json:"reward_amount"`
	RewardCurrency          string           `json:"reward_currency"`
	RewardUnit              string           `json:"reward_unit,omitempty"`
	TotalBudget             string           `json:"total_budget"`
	ReleasedAmount          string           `json:"released_amount"`
	IsMultiParticipant      bool             `json:"is_multi_participant"`
	AllowRepeatBySame       bool             `json:"allow_repeat_by_same"`
	MaxCompletions          *int             `json:"max_completions,omitempty"`
	CompletedCount          int              `json:"completed_count"`
	ActiveParticipantsCount int              `json:"active_participants_count"`
	AssigneeID              string           `json:"assignee_id,omitempty"`
	AssigneeName            string           `json:"assignee_name,omitempty"`
	Submission              string           `json:"submission,omitempty"`
	SubmissionArtifacts     []map[string]any `json:"submission_artifacts,omitempty"`
	ReviewNotes             string           `json:"review_notes,omitempty"`
	ReviewedBy              string           `json:"reviewed_by,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	Deadline                *time.Time       `json:"deadline,omitempty"`
	CompletedAt             *time.Time       `json:"completed_at,omitempty"`
	ApprovalType            string           `json:"approval_type,omitempty"`
	ValidatorID             string           `json:"validator_id,omitempty"`
	PaymentTaskID           string           `json:"payment_task_id,omitempty"`
	Metadata                map[string]any   `json:"metadata,omitempty"`
}

func toTaskView(t *task.Task) taskView {
	v := taskView{
		TaskID:                  t.TaskID,
		Mode:                    string(t.Mode),
		Status:                  string(t.Status),
		CreatorType:             string(t.CreatorType),
		CreatorID:               t.CreatorID,
		CreatorName:             t.CreatorName,
		Title:                   t.Title,
		Description:             t.Description,
		TaskType:                t.TaskType,
		RequiredSkills:          t.RequiredSkills,
		RewardAmount:            t.RewardAmount.String(),
		RewardCurrency:          t.RewardCurrency,
		RewardUnit:              string(t.RewardUnit),
		TotalBudget:             t.TotalBudget.String(),
		ReleasedAmount:          t.ReleasedAmount.String(),
		IsMultiParticipant:      t.IsMultiParticipant,
		AllowRepeatBySame:       t.AllowRepeatBySame,
		MaxCompletions:          t.MaxCompletions,
		CompletedCount:          t.CompletedCount,
		ActiveParticipantsCount: t.ActiveParticipantsCount,
		AssigneeID:              t.AssigneeID,
		AssigneeName:            t.AssigneeName,
		Submission:              t.Submission,
		SubmissionArtifacts:     t.SubmissionArtifacts,
		ReviewNotes:             t.ReviewNotes,
		ReviewedBy:              t.ReviewedBy,
		CreatedAt:               t.CreatedAt,
		ApprovalType:            string(t.ApprovalType),
		ValidatorID:             t.ValidatorID,
		PaymentTaskID:           t.PaymentTaskID,
		Metadata:                t.Metadata,
	}
	if !t.Deadline.IsZero() {
		v.Deadline = &t.Deadline
	}
	if !t.CompletedAt.IsZero() {
		v.CompletedAt = &t.CompletedAt
	}
	return v
}

func toTaskViews(ts []*task.Task) []taskView {
	out := make([]taskView, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTaskView(t))
	}
	return out
}

// participationView is the wire representation of task.Participation.
type participationView struct {
	ParticipationID string     `json:"participation_id"`
	TaskID          string     `json:"task_id"`
	ParticipantID   string     `json:"participant_id"`
	ParticipantName string     `json:"participant_name,omitempty"`
	ParticipantType string     `json:"participant_type"`
	Status          string     `json:"status"`
	JoinedAt        time.Time  `json:"joined_at"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	Submission      string     `json:"submission,omitempty"`
	ReviewNotes     string     `json:"review_notes,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
}

func toParticipationView(p *task.Participation) participationView {
	v := participationView{
		ParticipationID: p.ParticipationID,
		TaskID:          p.TaskID,
		ParticipantID:   p.ParticipantID,
		ParticipantName: p.ParticipantName,
		ParticipantType: string(p.ParticipantType),
		Status:          string(p.Status),
		JoinedAt:        p.JoinedAt,
		Submission:      p.Submission,
		ReviewNotes:     p.ReviewNotes,
		ReviewedBy:      p.ReviewedBy,
	}
	if !p.SubmittedAt.IsZero() {
		v.SubmittedAt = &p.SubmittedAt
	}
	if !p.ReviewedAt.IsZero() {
		v.ReviewedAt = &p.ReviewedAt
	}
	return v
}

func toParticipationViews(ps []*task.Participation) []participationView {
	out := make([]participationView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toParticipationView(p))
	}
	return out
}

// activityView is the wire representation of task.Activity.
type activityView struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	ActorType   string    `json:"actor_type"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

func toActivityView(a *task.Activity) activityView {
	return activityView{
		EventID:     a.EventID,
		Type:        string(a.Type),
		ActorType:   string(a.ActorType),
		ActorID:     a.ActorID,
		ActorName:   a.ActorName,
		TaskID:      a.TaskID,
		Description: a.Description,
		Timestamp:   a.Timestamp,
	}
}

func toActivityViews(as []*task.Activity) []activityView {
	out := make([]activityView, 0, len(as))
	for _, a := range as {
		out = append(out, toActivityView(a))
	}
	return out
}

// auditEventView is the wire representation of audit.Event.
type auditEventView struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	Level      string         `json:"level"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorType  string         `json:"actor_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	TargetType string         `json:"target_type,omitempty"`
	SubnetID   string         `json:"subnet_id,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func toAuditEventView(e *audit.Event) auditEventView {
	return auditEventView{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Type:       string(e.Type),
		Level:      string(e.Level),
		ActorID:    e.ActorID,
		ActorType:  e.ActorType,
		TargetID:   e.TargetID,
		TargetType: e.TargetType,
		SubnetID:   e.SubnetID,
		MessageID:  e.MessageID,
		Details:    e.Details,
	}
}

func toAuditEventViews(es []*audit.Event) []auditEventView {
	out := make([]auditEventView, 0, len(es))
	for _, e := range es {
		out = append(out, toAuditEventView(e))
	}
	return out
}

// messageLogEntryView is the wire representation of storage.MessageLogEntry.
type messageLogEntryView struct {
	MessageID   string    `json:"message_id"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Summary     string    `json:"summary,omitempty"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

func toMessageLogEntryViews(es []*storage.MessageLogEntry) []messageLogEntryView {
	out := make([]messageLogEntryView, 0, len(es))
	for _, e := range es {
		out = append(out, messageLogEntryView{
			MessageID:   e.MessageID,
			FromAgentID: e.FromAgentID,
			ToAgentID:   e.ToAgentID,
			Summary:     e.Summary,
			Success:     e.Success,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}

// paymentTaskView is the wire representation of storage.PaymentTask.
type paymentTaskView struct {
	PaymentTaskID string    `json:"payment_task_id"`
	TaskID        string    `json:"task_id"`
	BuyerAgentID  string    `json:"buyer_agent_id"`
	SellerAgentID string    `json:"seller_agent_id"`
	Description   string    `json:"description,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method,omitempty"`
	Network       string    `json:"network,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPaymentTaskView(p *storage.PaymentTask) paymentTaskView {
	return paymentTaskView{
		PaymentTaskID: p.PaymentTaskID,
		TaskID:        p.TaskID,
		BuyerAgentID:  p.BuyerAgentID,
		SellerAgentID: p.SellerAgentID,
		Description:   p.Description,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		Network:       p.Network,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toPaymentTaskViews(ps []*storage.PaymentTask) []paymentTaskView {
	out := make([]paymentTaskView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentTaskView(p))
	}
	return out
}

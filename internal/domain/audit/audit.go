// Package audit defines the AuditEvent type recorded for every
// significant registry, gateway, routing, and security action (spec §3
// Audit event, §7).
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the audit event taxonomy, grounded on the stream's
// event-type catalogue.
type EventType string

const (
	EventAgentRegistered      EventType = "agent_registered"
	EventAgentUnregistered    EventType = "agent_unregistered"
	EventAgentHeartbeat       EventType = "agent_heartbeat"
	EventAgentHeartbeatMissed EventType = "agent_heartbeat_missed"
	EventAgentStatusChanged   EventType = "agent_status_changed"
	EventAgentOnChainBound    EventType = "agent_onchain_bound"

	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"
	EventMessageFailed   EventType = "message_failed"
	EventMessageRetry    EventType = "message_retry"
	EventBroadcastSent   EventType = "broadcast_sent"

	EventSubnetCreated     EventType = "subnet_created"
	EventSubnetDeleted     EventType = "subnet_deleted"
	EventSubnetAgentJoined EventType = "subnet_agent_joined"
	EventSubnetAgentLeft   EventType = "subnet_agent_left"

	EventGatewayConnected        EventType = "gateway_connected"
	EventGatewayDisconnected     EventType = "gateway_disconnected"
	EventGatewayMessageForwarded EventType = "gateway_message_forwarded"

	EventSecurityAuthSuccess    EventType = "security_auth_success"
	EventSecurityAuthFailure    EventType = "security_auth_failure"
	EventSecurityTokenGenerated EventType = "security_token_generated"

	EventSystemStarted EventType = "system_started"
	EventSystemStopped EventType = "system_stopped"
	EventConfigChanged EventType = "config_changed"
	EventErrorOccurred EventType = "error_occurred"
)

// Level is the audit event's severity.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is one audit log entry.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Level     Level

	ActorID   string
	ActorType string

	TargetID   string
	TargetType string

	SubnetID  string
	MessageID string

	Details map[string]any

	SourceIP  string
	UserAgent string
}

// New constructs an Event at LevelInfo stamped with the current time.
func New(eventType EventType, actorID, actorType string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Level:     LevelInfo,
		ActorID:   actorID,
		ActorType: actorType,
		Details:   map[string]any{},
	}
}

// WithTarget attaches target entity identification.
func (e *Event) WithTarget(targetID, targetType string) *Event {
	e.TargetID = targetID
	e.TargetType = targetType
	return e
}

// WithSubnet attaches a related subnet id.
func (e *Event) WithSubnet(subnetID string) *Event {
	e.SubnetID = subnetID
	return e
}

// WithMessage attaches a related message id.
func (e *Event) WithMessage(messageID string) *Event {
	e.MessageID = messageID
	return e
}

// WithLevel overrides the default info severity.
func (e *Event) WithLevel(level Level) *Event {
	e.Level = level
	return e
}

// WithDetails merges additional structured context.
func (e *Event) WithDetails(details map[string]any) *Event {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Query filters a Find over the audit trail (spec §6 monitoring/audit
// endpoints).
type Query struct {
	Type      EventType
	ActorID   string
	TargetID  string
	SubnetID  string
	Level     Level
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Matches reports whether e satisfies every non-zero filter in q.
func (q Query) Matches(e *Event) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.TargetID != "" && e.TargetID != q.TargetID {
		return false
	}
	if q.SubnetID != "" && e.SubnetID != q.SubnetID {
		return false
	}
	if q.Level != "" && e.Level != q.Level {
		return false
	}
	if !q.StartTime.IsZero() && e.Timestamp.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && e.Timestamp.After(q.EndTime) {
		return false
	}
	return true
}

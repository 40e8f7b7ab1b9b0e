package kv

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/domain/audit"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// AuditStore is the Redis-backed AuditRepository. Grounded on
// original_source/acn/monitoring/audit.py, stored the same way as
// ActivityStore — a global recency sorted set plus per-event JSON blob,
// since the original's audit stream has no documented Redis-specific
// secondary-index key layout beyond "append to the stream".
type AuditStore struct{ Store }

// NewAuditStore wraps rdb as an AuditRepository.
func NewAuditStore(rdb *redis.Client) *AuditStore { return &AuditStore{newStore(rdb)} }

var _ storage.AuditRepository = (*AuditStore)(nil)

type auditDoc struct {
	ID         string         `json:"id"`
	Timestamp  int64          `json:"timestamp"`
	Type       string         `json:"type"`
	Level      string         `json:"level"`
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	TargetID   string         `json:"target_id"`
	TargetType string         `json:"target_type"`
	SubnetID   string         `json:"subnet_id"`
	MessageID  string         `json:"message_id"`
	Details    map[string]any `json:"details"`
	SourceIP   string         `json:"source_ip"`
	UserAgent  string         `json:"user_agent"`
}

func toAuditDoc(e *audit.Event) *auditDoc {
	return &auditDoc{
		ID:         e.ID,
		Timestamp:  e.Timestamp.UnixNano(),
		Type:       string(e.Type),
		Level:      string(e.Level),
		ActorID:    e.ActorID,
		ActorType:  e.ActorType,
		TargetID:   e.TargetID,
		TargetType: e.TargetType,
		SubnetID:   e.SubnetID,
		MessageID:  e.MessageID,
		Details:    e.Details,
		SourceIP:   e.SourceIP,
		UserAgent:  e.UserAgent,
	}
}

func (d *auditDoc) toDomain() *audit.Event {
	return &audit.Event{
		ID:         d.ID,
		Timestamp:  unixNanoToTime(d.Timestamp),
		Type:       audit.EventType(d.Type),
		Level:      audit.Level(d.Level),
		ActorID:    d.ActorID,
		ActorType:  d.ActorType,
		TargetID:   d.TargetID,
		TargetType: d.TargetType,
		SubnetID:   d.SubnetID,
		MessageID:  d.MessageID,
		Details:    d.Details,
		SourceIP:   d.SourceIP,
		UserAgent:  d.UserAgent,
	}
}

// Save appends an audit event to the global recency index.
func (s *AuditStore) Save(ctx context.Context, e *audit.Event) error {
	raw, err := json.Marshal(toAuditDoc(e))
	if err != nil {
		return acnerrors.Internal("encode audit event", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, auditKey(e.ID), raw, 0)
	pipe.ZAdd(ctx, auditRecent(), &redis.Z{Score: float64(e.Timestamp.UnixNano()), Member: e.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save audit event", err)
	}
	return nil
}

// Find scans the recency index newest-first, applying q's in-process
// filter (audit.Query.Matches), the same fallback filtering approach
// AgentStore.Find uses for NameSubstr — no per-field Redis index exists
// for the audit trail's many optional query dimensions.
func (s *AuditStore) Find(ctx context.Context, q audit.Query) ([]*audit.Event, error) {
	ids, err := s.rdb.ZRevRange(ctx, auditRecent(), 0, -1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list audit events", err)
	}

	var matched []*audit.Event
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, auditKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, acnerrors.Internal("get audit event", err)
		}
		var doc auditDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, acnerrors.Internal("decode audit event", err)
		}
		e := doc.toDomain()
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

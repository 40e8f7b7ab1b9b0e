package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// LivenessStore tracks agent liveness via a TTL key (spec §4.1/§4.2: grace
// 30 min on first write, renewed to 60 min on each heartbeat), grounded on
// the "EX" pattern every original redis/*.py repository uses for its own
// keys.
type LivenessStore struct{ Store }

// NewLivenessStore wraps rdb as a LivenessStore.
func NewLivenessStore(rdb *redis.Client) *LivenessStore { return &LivenessStore{newStore(rdb)} }

var _ storage.LivenessStore = (*LivenessStore)(nil)

// MarkAlive sets or renews agentID's liveness key with ttl.
func (s *LivenessStore) MarkAlive(ctx context.Context, agentID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, livenessKey(agentID), "1", ttl).Err(); err != nil {
		return acnerrors.Internal("mark agent alive", err)
	}
	return nil
}

// IsAlive reports whether agentID's liveness key has not expired.
func (s *LivenessStore) IsAlive(ctx context.Context, agentID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, livenessKey(agentID)).Result()
	if err != nil {
		return false, acnerrors.Internal("check agent liveness", err)
	}
	return n > 0, nil
}

// Remove clears agentID's liveness key, e.g. on explicit unregister.
func (s *LivenessStore) Remove(ctx context.Context, agentID string) error {
	if err := s.rdb.Del(ctx, livenessKey(agentID)).Err(); err != nil {
		return acnerrors.Internal("remove agent liveness", err)
	}
	return nil
}

// ActiveCounterStore tracks the per-task active-participant counter as a
// plain Redis counter — spec §4.1 is explicit that this cache is never
// authoritative for capacity (the Lua-scripted atomic ops recompute the
// real count from the participation set every time), so INCR/DECR drift
// under a crash is an accepted, advisory-only staleness window.
type ActiveCounterStore struct{ Store }

// NewActiveCounterStore wraps rdb as an ActiveCounterStore.
func NewActiveCounterStore(rdb *redis.Client) *ActiveCounterStore {
	return &ActiveCounterStore{newStore(rdb)}
}

var _ storage.ActiveCounterStore = (*ActiveCounterStore)(nil)

// Increment bumps taskID's advisory active-participant counter.
func (s *ActiveCounterStore) Increment(ctx context.Context, taskID string) (int, error) {
	n, err := s.rdb.Incr(ctx, activeCountKey(taskID)).Result()
	if err != nil {
		return 0, acnerrors.Internal("increment active counter", err)
	}
	return int(n), nil
}

// Decrement lowers taskID's advisory active-participant counter, floored
// at zero.
func (s *ActiveCounterStore) Decrement(ctx context.Context, taskID string) (int, error) {
	n, err := s.rdb.Decr(ctx, activeCountKey(taskID)).Result()
	if err != nil {
		return 0, acnerrors.Internal("decrement active counter", err)
	}
	if n < 0 {
		s.rdb.Set(ctx, activeCountKey(taskID), 0, 0)
		return 0, nil
	}
	return int(n), nil
}

// Get reads taskID's advisory active-participant counter.
func (s *ActiveCounterStore) Get(ctx context.Context, taskID string) (int, error) {
	n, err := s.rdb.Get(ctx, activeCountKey(taskID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, acnerrors.Internal("get active counter", err)
	}
	return n, nil
}

// DLQStore persists router dead-letter entries in a Redis list, grounded
// on spec §6's "acn:dlq" key (SPEC_FULL.md §4.4).
type DLQStore struct{ Store }

// NewDLQStore wraps rdb as a DLQStore.
func NewDLQStore(rdb *redis.Client) *DLQStore { return &DLQStore{newStore(rdb)} }

var _ storage.DLQStore = (*DLQStore)(nil)

// Push appends e to the DLQ list, minting an id if e.ID is empty.
func (s *DLQStore) Push(ctx context.Context, e *storage.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return acnerrors.Internal("encode dlq entry", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(e.ID), raw, 0)
	pipe.LPush(ctx, dlqList(), e.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("push dlq entry", err)
	}
	return nil
}

// List returns the most recently pushed DLQ entries, up to limit.
func (s *DLQStore) List(ctx context.Context, limit int) ([]*storage.DLQEntry, error) {
	ids, err := s.rdb.LRange(ctx, dlqList(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list dlq entries", err)
	}
	out := make([]*storage.DLQEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get retrieves a DLQ entry by id.
func (s *DLQStore) Get(ctx context.Context, id string) (*storage.DLQEntry, error) {
	raw, err := s.rdb.Get(ctx, dlqEntryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("dlq entry", id)
	}
	if err != nil {
		return nil, acnerrors.Internal("get dlq entry", err)
	}
	var e storage.DLQEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, acnerrors.Internal("decode dlq entry", err)
	}
	return &e, nil
}

// Remove deletes a DLQ entry, e.g. after a successful operator retry.
func (s *DLQStore) Remove(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, dlqEntryKey(id))
	pipe.LRem(ctx, dlqList(), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("remove dlq entry", err)
	}
	return nil
}

// IncrementAttempts bumps and returns an entry's retry attempt count.
func (s *DLQStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	e.Attempts++
	raw, err := json.Marshal(e)
	if err != nil {
		return 0, acnerrors.Internal("encode dlq entry", err)
	}
	if err := s.rdb.Set(ctx, dlqEntryKey(id), raw, 0).Err(); err != nil {
		return 0, acnerrors.Internal("save dlq entry", err)
	}
	return e.Attempts, nil
}

// broadcastResultTTL matches spec §4.4's "persisted for 24h after a
// broadcast completes".
const broadcastResultTTL = 24 * time.Hour

// BroadcastResultStore persists broadcast outcomes with a 24h Redis TTL.
type BroadcastResultStore struct{ Store }

// NewBroadcastResultStore wraps rdb as a BroadcastResultStore.
func NewBroadcastResultStore(rdb *redis.Client) *BroadcastResultStore {
	return &BroadcastResultStore{newStore(rdb)}
}

var _ storage.BroadcastResultStore = (*BroadcastResultStore)(nil)

// Save persists a broadcast result with a 24h TTL.
func (s *BroadcastResultStore) Save(ctx context.Context, r *storage.BroadcastResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return acnerrors.Internal("encode broadcast result", err)
	}
	if err := s.rdb.Set(ctx, broadcastResultKey(r.BroadcastID), raw, broadcastResultTTL).Err(); err != nil {
		return acnerrors.Internal("save broadcast result", err)
	}
	return nil
}

// Get retrieves a broadcast result by id.
func (s *BroadcastResultStore) Get(ctx context.Context, broadcastID string) (*storage.BroadcastResult, error) {
	raw, err := s.rdb.Get(ctx, broadcastResultKey(broadcastID)).Bytes()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("broadcast result", broadcastID)
	}
	if err != nil {
		return nil, acnerrors.Internal("get broadcast result", err)
	}
	var r storage.BroadcastResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, acnerrors.Internal("decode broadcast result", err)
	}
	return &r, nil
}

// messageHistoryCap bounds the per-agent log to a sliding window, matching
// the original's bounded list trimming for message history.
const messageHistoryCap = 500

// MessageHistoryStore persists the per-agent message log as a capped
// Redis list (spec §4.4 "structured logs to per-agent message history").
type MessageHistoryStore struct{ Store }

// NewMessageHistoryStore wraps rdb as a MessageHistoryStore.
func NewMessageHistoryStore(rdb *redis.Client) *MessageHistoryStore {
	return &MessageHistoryStore{newStore(rdb)}
}

var _ storage.MessageHistoryStore = (*MessageHistoryStore)(nil)

// Append records e in fromAgentID's and toAgentID's history lists,
// trimming each to messageHistoryCap entries.
func (s *MessageHistoryStore) Append(ctx context.Context, e *storage.MessageLogEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return acnerrors.Internal("encode message log entry", err)
	}
	pipe := s.rdb.TxPipeline()
	for _, agentID := range []string{e.FromAgentID, e.ToAgentID} {
		if agentID == "" {
			continue
		}
		key := messageHistoryKey(agentID)
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, messageHistoryCap-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("append message history", err)
	}
	return nil
}

// FindByAgent returns agentID's most recent message log entries.
func (s *MessageHistoryStore) FindByAgent(ctx context.Context, agentID string, limit int) ([]*storage.MessageLogEntry, error) {
	raws, err := s.rdb.LRange(ctx, messageHistoryKey(agentID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list message history", err)
	}
	out := make([]*storage.MessageLogEntry, 0, len(raws))
	for _, raw := range raws {
		var e storage.MessageLogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, acnerrors.Internal("decode message log entry", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

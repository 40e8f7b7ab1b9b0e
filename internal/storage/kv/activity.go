package kv

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/domain/task"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// ActivityStore is the Redis-backed ActivityRepository. Grounded on
// original_source/acn/services/activity_service.py's append-only feed,
// expressed with the same sorted-set-of-ids idiom the original's task
// repository uses for acn:tasks:open (newest first via ZREVRANGE).
type ActivityStore struct{ Store }

// NewActivityStore wraps rdb as an ActivityRepository.
func NewActivityStore(rdb *redis.Client) *ActivityStore { return &ActivityStore{newStore(rdb)} }

var _ storage.ActivityRepository = (*ActivityStore)(nil)

type activityDoc struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	ActorType   string         `json:"actor_type"`
	ActorID     string         `json:"actor_id"`
	ActorName   string         `json:"actor_name"`
	Description string         `json:"description"`
	Points      *int           `json:"points"`
	TaskID      string         `json:"task_id"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   int64          `json:"timestamp"`
}

func toActivityDoc(a *task.Activity) *activityDoc {
	return &activityDoc{
		EventID:     a.EventID,
		Type:        string(a.Type),
		ActorType:   string(a.ActorType),
		ActorID:     a.ActorID,
		ActorName:   a.ActorName,
		Description: a.Description,
		Points:      a.Points,
		TaskID:      a.TaskID,
		Metadata:    a.Metadata,
		Timestamp:   a.Timestamp.UnixNano(),
	}
}

func (d *activityDoc) toDomain() *task.Activity {
	return &task.Activity{
		EventID:     d.EventID,
		Type:        task.ActivityType(d.Type),
		ActorType:   task.CreatorType(d.ActorType),
		ActorID:     d.ActorID,
		ActorName:   d.ActorName,
		Description: d.Description,
		Points:      d.Points,
		TaskID:      d.TaskID,
		Metadata:    d.Metadata,
		Timestamp:   unixNanoToTime(d.Timestamp),
	}
}

// Save appends an activity to the global feed plus its actor/task indices.
func (s *ActivityStore) Save(ctx context.Context, a *task.Activity) error {
	raw, err := json.Marshal(toActivityDoc(a))
	if err != nil {
		return acnerrors.Internal("encode activity", err)
	}
	score := float64(a.Timestamp.UnixNano())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, activityKey(a.EventID), raw, 0)
	pipe.ZAdd(ctx, activitiesRecent(), &redis.Z{Score: score, Member: a.EventID})
	pipe.ZAdd(ctx, activitiesByActor(a.ActorID), &redis.Z{Score: score, Member: a.EventID})
	if a.TaskID != "" {
		pipe.ZAdd(ctx, activitiesByTask(a.TaskID), &redis.Z{Score: score, Member: a.EventID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save activity", err)
	}
	return nil
}

func (s *ActivityStore) loadMany(ctx context.Context, ids []string) ([]*task.Activity, error) {
	out := make([]*task.Activity, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, activityKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, acnerrors.Internal("get activity", err)
		}
		var doc activityDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, acnerrors.Internal("decode activity", err)
		}
		out = append(out, doc.toDomain())
	}
	return out, nil
}

// FindRecent returns the most recent activities, newest first.
func (s *ActivityStore) FindRecent(ctx context.Context, limit int) ([]*task.Activity, error) {
	ids, err := s.rdb.ZRevRange(ctx, activitiesRecent(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list activities", err)
	}
	return s.loadMany(ctx, ids)
}

// FindByActor returns actorID's most recent activities, newest first.
func (s *ActivityStore) FindByActor(ctx context.Context, actorID string, limit int) ([]*task.Activity, error) {
	ids, err := s.rdb.ZRevRange(ctx, activitiesByActor(actorID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list activities by actor", err)
	}
	return s.loadMany(ctx, ids)
}

// FindByTask returns taskID's most recent activities, newest first.
func (s *ActivityStore) FindByTask(ctx context.Context, taskID string, limit int) ([]*task.Activity, error) {
	ids, err := s.rdb.ZRevRange(ctx, activitiesByTask(taskID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, acnerrors.Internal("list activities by task", err)
	}
	return s.loadMany(ctx, ids)
}

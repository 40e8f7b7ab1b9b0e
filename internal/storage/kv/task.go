package kv

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/domain/task"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/money"
	"github.com/r3e-network/acn/internal/storage"
)

// TaskStore is the Redis-backed TaskRepository, grounded on
// original_source/acn/infrastructure/persistence/redis/task_repository.py's
// key layout (acn:task:{id}, acn:tasks:open zset, by_creator/by_assignee/
// by_status/by_skill sets). The three atomic operations spec §4.1 requires
// are implemented as EVAL Lua scripts rather than Go-side transactions,
// per the "single-threaded scripting facility" substitute for row locks
// the spec calls out for the KV-only backend — Redis executes a script
// body without interleaving any other client's commands, the same
// guarantee Postgres's FOR UPDATE gives internal/storage/relational.
type TaskStore struct{ Store }

// NewTaskStore wraps rdb as a TaskRepository.
func NewTaskStore(rdb *redis.Client) *TaskStore { return &TaskStore{newStore(rdb)} }

var _ storage.TaskRepository = (*TaskStore)(nil)

type taskDoc struct {
	TaskID             string           `json:"task_id"`
	Mode               string           `json:"mode"`
	Status             string           `json:"status"`
	CreatorType        string           `json:"creator_type"`
	CreatorID          string           `json:"creator_id"`
	CreatorName        string           `json:"creator_name"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	TaskType           string           `json:"task_type"`
	RequiredSkills     []string         `json:"required_skills"`
	RewardAmount       string           `json:"reward_amount"`
	RewardCurrency     string           `json:"reward_currency"`
	RewardUnit         string           `json:"reward_unit"`
	TotalBudget        string           `json:"total_budget"`
	ReleasedAmount     string           `json:"released_amount"`
	IsMultiParticipant bool             `json:"is_multi_participant"`
	AllowRepeatBySame  bool             `json:"allow_repeat_by_same"`
	MaxCompletions     *int             `json:"max_completions"`
	CompletedCount     int              `json:"completed_count"`
	AssigneeID         string           `json:"assignee_id"`
	AssigneeName       string           `json:"assignee_name"`
	AssignedAt         time.Time        `json:"assigned_at"`
	Submission         string           `json:"submission"`
	SubmissionArtifacts []map[string]any `json:"submission_artifacts"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	ReviewNotes        string           `json:"review_notes"`
	ReviewedBy         string           `json:"reviewed_by"`
	CreatedAt          time.Time        `json:"created_at"`
	Deadline           time.Time        `json:"deadline"`
	CompletedAt        time.Time        `json:"completed_at"`
	ApprovalType       string           `json:"approval_type"`
	ValidatorID        string           `json:"validator_id"`
	PaymentTaskID      string           `json:"payment_task_id"`
	PaymentReleased    bool             `json:"payment_released"`
	Metadata           map[string]any   `json:"metadata"`
}

func toTaskDoc(t *task.Task) *taskDoc {
	return &taskDoc{
		TaskID:              t.TaskID,
		Mode:                string(t.Mode),
		Status:              string(t.Status),
		CreatorType:         string(t.CreatorType),
		CreatorID:           t.CreatorID,
		CreatorName:         t.CreatorName,
		Title:               t.Title,
		Description:         t.Description,
		TaskType:            t.TaskType,
		RequiredSkills:      t.RequiredSkills,
		RewardAmount:        t.RewardAmount.String(),
		RewardCurrency:      t.RewardCurrency,
		RewardUnit:          string(t.RewardUnit),
		TotalBudget:         t.TotalBudget.String(),
		ReleasedAmount:      t.ReleasedAmount.String(),
		IsMultiParticipant:  t.IsMultiParticipant,
		AllowRepeatBySame:   t.AllowRepeatBySame,
		MaxCompletions:      t.MaxCompletions,
		CompletedCount:      t.CompletedCount,
		AssigneeID:          t.AssigneeID,
		AssigneeName:        t.AssigneeName,
		AssignedAt:          t.AssignedAt,
		Submission:          t.Submission,
		SubmissionArtifacts: t.SubmissionArtifacts,
		SubmittedAt:         t.SubmittedAt,
		ReviewNotes:         t.ReviewNotes,
		ReviewedBy:          t.ReviewedBy,
		CreatedAt:           t.CreatedAt,
		Deadline:            t.Deadline,
		CompletedAt:         t.CompletedAt,
		ApprovalType:        string(t.ApprovalType),
		ValidatorID:         t.ValidatorID,
		PaymentTaskID:       t.PaymentTaskID,
		PaymentReleased:     t.PaymentReleased,
		Metadata:            t.Metadata,
	}
}

func (d *taskDoc) toDomain() (*task.Task, error) {
	reward, err := money.Parse(d.RewardAmount)
	if err != nil {
		return nil, err
	}
	total, err := money.Parse(d.TotalBudget)
	if err != nil {
		return nil, err
	}
	released, err := money.Parse(d.ReleasedAmount)
	if err != nil {
		return nil, err
	}
	return &task.Task{
		TaskID:              d.TaskID,
		Mode:                task.Mode(d.Mode),
		Status:              task.Status(d.Status),
		CreatorType:         task.CreatorType(d.CreatorType),
		CreatorID:           d.CreatorID,
		CreatorName:         d.CreatorName,
		Title:               d.Title,
		Description:         d.Description,
		TaskType:            d.TaskType,
		RequiredSkills:      d.RequiredSkills,
		RewardAmount:        reward,
		RewardCurrency:      d.RewardCurrency,
		RewardUnit:          task.RewardUnit(d.RewardUnit),
		TotalBudget:         total,
		ReleasedAmount:      released,
		IsMultiParticipant:  d.IsMultiParticipant,
		AllowRepeatBySame:   d.AllowRepeatBySame,
		MaxCompletions:      d.MaxCompletions,
		CompletedCount:      d.CompletedCount,
		AssigneeID:          d.AssigneeID,
		AssigneeName:        d.AssigneeName,
		AssignedAt:          d.AssignedAt,
		Submission:          d.Submission,
		SubmissionArtifacts: d.SubmissionArtifacts,
		SubmittedAt:         d.SubmittedAt,
		ReviewNotes:         d.ReviewNotes,
		ReviewedBy:          d.ReviewedBy,
		CreatedAt:           d.CreatedAt,
		Deadline:            d.Deadline,
		CompletedAt:         d.CompletedAt,
		ApprovalType:        task.ApprovalType(d.ApprovalType),
		ValidatorID:         d.ValidatorID,
		PaymentTaskID:       d.PaymentTaskID,
		PaymentReleased:     d.PaymentReleased,
		Metadata:            d.Metadata,
	}, nil
}

func (s *TaskStore) loadTask(ctx context.Context, taskID string) (*taskDoc, error) {
	raw, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("get task", err)
	}
	var doc taskDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, acnerrors.Internal("decode task", err)
	}
	return &doc, nil
}

// Save upserts a task and its secondary indices.
func (s *TaskStore) Save(ctx context.Context, t *task.Task) error {
	prev, err := s.loadTask(ctx, t.TaskID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(toTaskDoc(t))
	if err != nil {
		return acnerrors.Internal("encode task", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(t.TaskID), raw, 0)
	pipe.SAdd(ctx, tasksAll(), t.TaskID)
	if t.Status == task.StatusOpen {
		pipe.ZAdd(ctx, tasksOpen(), &redis.Z{Score: float64(t.CreatedAt.Unix()), Member: t.TaskID})
	} else {
		pipe.ZRem(ctx, tasksOpen(), t.TaskID)
	}
	pipe.SAdd(ctx, tasksByStatus(string(t.Status)), t.TaskID)
	pipe.SAdd(ctx, tasksByCreator(t.CreatorID), t.TaskID)
	if t.AssigneeID != "" {
		pipe.SAdd(ctx, tasksByAssignee(t.AssigneeID), t.TaskID)
	}
	for _, skill := range t.RequiredSkills {
		pipe.SAdd(ctx, tasksBySkill(skill), t.TaskID)
	}
	if prev != nil {
		if prev.Status != string(t.Status) {
			pipe.SRem(ctx, tasksByStatus(prev.Status), t.TaskID)
		}
		if prev.AssigneeID != "" && prev.AssigneeID != t.AssigneeID {
			pipe.SRem(ctx, tasksByAssignee(prev.AssigneeID), t.TaskID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save task", err)
	}
	return nil
}

// FindByID looks up a task by id.
func (s *TaskStore) FindByID(ctx context.Context, taskID string) (*task.Task, error) {
	doc, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, acnerrors.NotFound("task", taskID)
	}
	return doc.toDomain()
}

// Find intersects the matching secondary-index sets.
func (s *TaskStore) Find(ctx context.Context, filter storage.TaskFilter) ([]*task.Task, error) {
	var sets []string
	if filter.CreatorID != "" {
		sets = append(sets, tasksByCreator(filter.CreatorID))
	}
	if filter.AssigneeID != "" {
		sets = append(sets, tasksByAssignee(filter.AssigneeID))
	}
	if filter.Status != "" {
		sets = append(sets, tasksByStatus(string(filter.Status)))
	}
	if filter.OpenOnly {
		sets = append(sets, tasksByStatus(string(task.StatusOpen)))
	}
	if filter.Skill != "" {
		sets = append(sets, tasksBySkill(filter.Skill))
	}

	var ids []string
	var err error
	switch len(sets) {
	case 0:
		ids, err = s.rdb.SMembers(ctx, tasksAll()).Result()
	case 1:
		ids, err = s.rdb.SMembers(ctx, sets[0]).Result()
	default:
		ids, err = s.rdb.SInter(ctx, sets...).Result()
	}
	if err != nil {
		return nil, acnerrors.Internal("find tasks", err)
	}

	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		doc, err := s.loadTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		t, err := doc.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode task", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes a task and its index entries.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	doc, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if doc == nil {
		return acnerrors.NotFound("task", taskID)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, taskKey(taskID))
	pipe.SRem(ctx, tasksAll(), taskID)
	pipe.ZRem(ctx, tasksOpen(), taskID)
	pipe.SRem(ctx, tasksByStatus(doc.Status), taskID)
	pipe.SRem(ctx, tasksByCreator(doc.CreatorID), taskID)
	if doc.AssigneeID != "" {
		pipe.SRem(ctx, tasksByAssignee(doc.AssigneeID), taskID)
	}
	for _, skill := range doc.RequiredSkills {
		pipe.SRem(ctx, tasksBySkill(skill), taskID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("delete task", err)
	}
	return nil
}

// Exists reports whether taskID is present.
func (s *TaskStore) Exists(ctx context.Context, taskID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, taskKey(taskID)).Result()
	if err != nil {
		return false, acnerrors.Internal("check task exists", err)
	}
	return n > 0, nil
}

// Count returns the number of tasks matching filter.
func (s *TaskStore) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	tasks, err := s.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

type participationDoc struct {
	ParticipationID string    `json:"participation_id"`
	TaskID          string    `json:"task_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	ParticipantType string    `json:"participant_type"`
	Status          string    `json:"status"`
	JoinedAt        time.Time `json:"joined_at"`
	SubmittedAt     time.Time `json:"submitted_at"`
	ReviewedAt      time.Time `json:"reviewed_at"`
	Submission      string    `json:"submission"`
	ReviewNotes     string    `json:"review_notes"`
	ReviewedBy      string    `json:"reviewed_by"`
}

func toParticipationDoc(p *task.Participation) *participationDoc {
	return &participationDoc{
		ParticipationID: p.ParticipationID,
		TaskID:          p.TaskID,
		ParticipantID:   p.ParticipantID,
		ParticipantName: p.ParticipantName,
		ParticipantType: string(p.ParticipantType),
		Status:          string(p.Status),
		JoinedAt:        p.JoinedAt,
		SubmittedAt:     p.SubmittedAt,
		ReviewedAt:      p.ReviewedAt,
		Submission:      p.Submission,
		ReviewNotes:     p.ReviewNotes,
		ReviewedBy:      p.ReviewedBy,
	}
}

func (d *participationDoc) toDomain() *task.Participation {
	return &task.Participation{
		ParticipationID: d.ParticipationID,
		TaskID:          d.TaskID,
		ParticipantID:   d.ParticipantID,
		ParticipantName: d.ParticipantName,
		ParticipantType: task.CreatorType(d.ParticipantType),
		Status:          task.ParticipationStatus(d.Status),
		JoinedAt:        d.JoinedAt,
		SubmittedAt:     d.SubmittedAt,
		ReviewedAt:      d.ReviewedAt,
		Submission:      d.Submission,
		ReviewNotes:     d.ReviewNotes,
		ReviewedBy:      d.ReviewedBy,
	}
}

// atomicJoinScript locks nothing explicitly — Redis runs the whole script
// body without interleaving any other client's commands, so the capacity
// count, dedup check, and insert all observe a consistent snapshot (spec
// §4.1 point 1, the KV-backend equivalent of AtomicJoin's SELECT ... FOR
// UPDATE transaction in internal/storage/relational).
var atomicJoinScript = redis.NewScript(`
local task_raw = redis.call('GET', KEYS[1])
if not task_raw then
	return redis.error_reply('NOT_FOUND')
end
local t = cjson.decode(task_raw)

local pids = redis.call('SMEMBERS', KEYS[2])
local active = 0
local dup = false
for _, pid in ipairs(pids) do
	local praw = redis.call('GET', ARGV[4] .. pid)
	if praw then
		local p = cjson.decode(praw)
		if p.status ~= 'completed' and p.status ~= 'rejected' and p.status ~= 'cancelled' then
			active = active + 1
			if p.participant_id == ARGV[1] then
				dup = true
			end
		end
	end
end

if t.max_completions and t.max_completions ~= cjson.null then
	if (t.completed_count + active) >= t.max_completions then
		return redis.error_reply('TASK_FULL')
	end
end
if ARGV[2] == '0' and dup then
	return redis.error_reply('ALREADY_JOINED')
end

redis.call('SET', KEYS[4], ARGV[3])
redis.call('SADD', KEYS[2], ARGV[5])
redis.call('SADD', KEYS[3], ARGV[5])

return active + 1
`)

// AtomicJoin implements spec §4.1 point 1 as a Lua script.
func (s *TaskStore) AtomicJoin(ctx context.Context, taskID, participantID, participantName string, participantType task.CreatorType, allowRepeatBySame bool) (*storage.JoinResult, error) {
	p, err := task.NewParticipation(taskID, participantID, participantName, participantType)
	if err != nil {
		return nil, acnerrors.ValidationError("participation", err.Error())
	}
	raw, err := json.Marshal(toParticipationDoc(p))
	if err != nil {
		return nil, acnerrors.Internal("encode participation", err)
	}
	allowFlag := "0"
	if allowRepeatBySame {
		allowFlag = "1"
	}

	keys := []string{
		taskKey(taskID),
		participationsByTask(taskID),
		participationsByParticipant(participantID),
		participationKey(p.ParticipationID),
	}
	args := []interface{}{participantID, allowFlag, string(raw), keyPrefix + "participation:", p.ParticipationID}

	res, err := atomicJoinScript.Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		return nil, translateAtomicErr(err, taskID)
	}
	active, _ := res.(int64)
	return &storage.JoinResult{Participation: p, ActiveCount: int(active)}, nil
}

// atomicCancelScript transitions a non-terminal participation to cancelled.
var atomicCancelScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return redis.error_reply('NOT_FOUND')
end
local p = cjson.decode(raw)
if p.status == 'completed' or p.status == 'rejected' or p.status == 'cancelled' then
	return redis.error_reply('INVALID_STATE')
end
p.status = 'cancelled'
local updated = cjson.encode(p)
redis.call('SET', KEYS[1], updated)
return updated
`)

// AtomicCancelParticipation implements spec §4.1 point 2 as a Lua script.
func (s *TaskStore) AtomicCancelParticipation(ctx context.Context, participationID string) (*task.Participation, error) {
	res, err := atomicCancelScript.Run(ctx, s.rdb, []string{participationKey(participationID)}).Result()
	if err != nil {
		return nil, translateAtomicErr(err, participationID)
	}
	var doc participationDoc
	if err := json.Unmarshal([]byte(res.(string)), &doc); err != nil {
		return nil, acnerrors.Internal("decode participation", err)
	}
	return doc.toDomain(), nil
}

// atomicCompleteScript transitions a submitted participation to completed
// and increments the parent task's completed_count in the same script
// invocation (spec §4.1 point 3).
var atomicCompleteScript = redis.NewScript(`
local praw = redis.call('GET', KEYS[1])
if not praw then
	return redis.error_reply('NOT_FOUND')
end
local p = cjson.decode(praw)
if p.status ~= 'submitted' then
	return redis.error_reply('INVALID_STATE')
end
p.status = 'completed'
p.reviewed_by = ARGV[1]
p.review_notes = ARGV[2]
p.reviewed_at = ARGV[3]
local updated_p = cjson.encode(p)
redis.call('SET', KEYS[1], updated_p)

local traw = redis.call('GET', KEYS[2])
if not traw then
	return redis.error_reply('NOT_FOUND')
end
local t = cjson.decode(traw)
t.completed_count = t.completed_count + 1
redis.call('SET', KEYS[2], cjson.encode(t))

return {updated_p, tostring(t.completed_count)}
`)

// AtomicCompleteParticipation implements spec §4.1 point 3 as a Lua script.
func (s *TaskStore) AtomicCompleteParticipation(ctx context.Context, participationID, reviewerID, notes string) (*storage.CompleteResult, error) {
	existing, err := s.FindParticipationByID(ctx, participationID)
	if err != nil {
		return nil, err
	}
	keys := []string{participationKey(participationID), taskKey(existing.TaskID)}
	args := []interface{}{reviewerID, notes, time.Now().UTC().Format(time.RFC3339Nano)}

	res, err := atomicCompleteScript.Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		return nil, translateAtomicErr(err, participationID)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, acnerrors.Internal("atomic complete participation", nil)
	}
	var doc participationDoc
	if err := json.Unmarshal([]byte(parts[0].(string)), &doc); err != nil {
		return nil, acnerrors.Internal("decode participation", err)
	}
	completedCount, err := strconv.Atoi(parts[1].(string))
	if err != nil {
		return nil, acnerrors.Internal("decode completed count", err)
	}
	return &storage.CompleteResult{Participation: doc.toDomain(), CompletedCount: completedCount}, nil
}

func translateAtomicErr(err error, resourceID string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "TASK_FULL"):
		return acnerrors.CapacityExceeded("TASK_FULL")
	case strings.Contains(msg, "ALREADY_JOINED"):
		return acnerrors.Conflict("ALREADY_JOINED")
	case strings.Contains(msg, "INVALID_STATE"):
		return acnerrors.InvalidState("participation not in a cancellable/completable state")
	case strings.Contains(msg, "NOT_FOUND"):
		return acnerrors.NotFound("participation or task", resourceID)
	default:
		return acnerrors.Internal("atomic task operation", err)
	}
}

// FindParticipationByID looks up a participation by id.
func (s *TaskStore) FindParticipationByID(ctx context.Context, participationID string) (*task.Participation, error) {
	raw, err := s.rdb.Get(ctx, participationKey(participationID)).Bytes()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("participation", participationID)
	}
	if err != nil {
		return nil, acnerrors.Internal("get participation", err)
	}
	var doc participationDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, acnerrors.Internal("decode participation", err)
	}
	return doc.toDomain(), nil
}

// FindParticipationsByTask lists every participation for a task.
func (s *TaskStore) FindParticipationsByTask(ctx context.Context, taskID string) ([]*task.Participation, error) {
	ids, err := s.rdb.SMembers(ctx, participationsByTask(taskID)).Result()
	if err != nil {
		return nil, acnerrors.Internal("list participations", err)
	}
	return s.loadParticipations(ctx, ids)
}

// FindParticipationsByParticipant lists every participation for a participant.
func (s *TaskStore) FindParticipationsByParticipant(ctx context.Context, participantID string) ([]*task.Participation, error) {
	ids, err := s.rdb.SMembers(ctx, participationsByParticipant(participantID)).Result()
	if err != nil {
		return nil, acnerrors.Internal("list participations", err)
	}
	return s.loadParticipations(ctx, ids)
}

func (s *TaskStore) loadParticipations(ctx context.Context, ids []string) ([]*task.Participation, error) {
	out := make([]*task.Participation, 0, len(ids))
	for _, id := range ids {
		p, err := s.FindParticipationByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// HasNonTerminalParticipation reports whether participantID has an active
// or submitted participation on taskID.
func (s *TaskStore) HasNonTerminalParticipation(ctx context.Context, taskID, participantID string) (bool, error) {
	ps, err := s.FindParticipationsByTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, p := range ps {
		if p.ParticipantID == participantID && !p.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

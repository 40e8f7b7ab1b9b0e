package memory

import (
	"context"
	"sync"

	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// TaskStore is an in-memory TaskRepository. The atomic operations hold the
// store's mutex for their entire critical section, which is
// the in-process equivalent of the relational backend's row lock and the
// key-value backend's Lua script (spec §4.1).
type TaskStore struct {
	mu             sync.Mutex
	tasks          map[string]*task.Task
	participations map[string]*task.Participation
}

// NewTaskStore builds an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:          make(map[string]*task.Task),
		participations: make(map[string]*task.Participation),
	}
}

var _ storage.TaskRepository = (*TaskStore)(nil)

func cloneTask(t *task.Task) *task.Task {
	cp := *t
	cp.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	if t.MaxCompletions != nil {
		v := *t.MaxCompletions
		cp.MaxCompletions = &v
	}
	return &cp
}

func cloneParticipation(p *task.Participation) *task.Participation {
	cp := *p
	return &cp
}

// Save upserts a task by id.
func (s *TaskStore) Save(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = cloneTask(t)
	return nil
}

// FindByID looks up a task by id.
func (s *TaskStore) FindByID(ctx context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.NotFound("task", taskID)
	}
	return cloneTask(t), nil
}

// Find lists tasks matching every non-zero field of filter.
func (s *TaskStore) Find(ctx context.Context, filter storage.TaskFilter) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if filter.CreatorID != "" && t.CreatorID != filter.CreatorID {
			continue
		}
		if filter.AssigneeID != "" && t.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.OpenOnly && t.Status != task.StatusOpen {
			continue
		}
		if filter.Skill != "" {
			has := false
			for _, sk := range t.RequiredSkills {
				if sk == filter.Skill {
					has = true
					break
				}
			}
			if !has {
				continue
			}
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return errors.NotFound("task", taskID)
	}
	delete(s.tasks, taskID)
	return nil
}

// Exists reports whether taskID is present.
func (s *TaskStore) Exists(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskID]
	return ok, nil
}

// Count returns the number of tasks matching filter.
func (s *TaskStore) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	tasks, err := s.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (s *TaskStore) activeCountLocked(taskID string) int {
	count := 0
	for _, p := range s.participations {
		if p.TaskID == taskID && !p.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// AtomicJoin implements spec §4.1 point 1 under the store's single mutex.
func (s *TaskStore) AtomicJoin(ctx context.Context, taskID, participantID, participantName string, participantType task.CreatorType, allowRepeatBySame bool) (*storage.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.NotFound("task", taskID)
	}

	active := s.activeCountLocked(taskID)
	if !t.HasCapacity(active) {
		return nil, errors.CapacityExceeded("TASK_FULL")
	}
	if !allowRepeatBySame {
		for _, p := range s.participations {
			if p.TaskID == taskID && p.ParticipantID == participantID && !p.Status.IsTerminal() {
				return nil, errors.Conflict("ALREADY_JOINED")
			}
		}
	}

	p, err := task.NewParticipation(taskID, participantID, participantName, participantType)
	if err != nil {
		return nil, errors.ValidationError("participation", err.Error())
	}
	s.participations[p.ParticipationID] = p

	return &storage.JoinResult{
		Participation: cloneParticipation(p),
		ActiveCount:   s.activeCountLocked(taskID),
	}, nil
}

// AtomicCancelParticipation implements spec §4.1 point 2.
func (s *TaskStore) AtomicCancelParticipation(ctx context.Context, participationID string) (*task.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participations[participationID]
	if !ok {
		return nil, errors.NotFound("participation", participationID)
	}
	if err := p.Cancel(); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	return cloneParticipation(p), nil
}

// AtomicCompleteParticipation implements spec §4.1 point 3.
func (s *TaskStore) AtomicCompleteParticipation(ctx context.Context, participationID, reviewerID, notes string) (*storage.CompleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participations[participationID]
	if !ok {
		return nil, errors.NotFound("participation", participationID)
	}
	if err := p.Complete(reviewerID, notes); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	t, ok := s.tasks[p.TaskID]
	if !ok {
		return nil, errors.NotFound("task", p.TaskID)
	}
	t.CompletedCount++

	return &storage.CompleteResult{
		Participation:  cloneParticipation(p),
		CompletedCount: t.CompletedCount,
	}, nil
}

// FindParticipationByID looks up a participation by id.
func (s *TaskStore) FindParticipationByID(ctx context.Context, participationID string) (*task.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participations[participationID]
	if !ok {
		return nil, errors.NotFound("participation", participationID)
	}
	return cloneParticipation(p), nil
}

// FindParticipationsByTask lists every participation for a task.
func (s *TaskStore) FindParticipationsByTask(ctx context.Context, taskID string) ([]*task.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Participation
	for _, p := range s.participations {
		if p.TaskID == taskID {
			out = append(out, cloneParticipation(p))
		}
	}
	return out, nil
}

// FindParticipationsByParticipant lists every participation for a participant.
func (s *TaskStore) FindParticipationsByParticipant(ctx context.Context, participantID string) ([]*task.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Participation
	for _, p := range s.participations {
		if p.ParticipantID == participantID {
			out = append(out, cloneParticipation(p))
		}
	}
	return out, nil
}

// HasNonTerminalParticipation reports whether participantID has an active or
// submitted participation on taskID (spec §4.5 non-repeatable dedup check).
func (s *TaskStore) HasNonTerminalParticipation(ctx context.Context, taskID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participations {
		if p.TaskID == taskID && p.ParticipantID == participantID && !p.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

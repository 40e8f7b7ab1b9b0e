package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/storage"
)

// taskFilterFromQuery builds a storage.TaskFilter from query parameters
// (spec §4.1 secondary indexes: by creator, by assignee, by status, by
// skill, open-only).
func taskFilterFromQuery(c *gin.Context) storage.TaskFilter {
	return storage.TaskFilter{
		CreatorID:  c.Query("creator_id"),
		AssigneeID: c.Query("assignee_id"),
		Status:     task.Status(c.Query("status")),
		Skill:      c.Query("skill"),
		OpenOnly:   queryBool(c, "open_only", false),
	}
}

// actorID resolves the authenticated caller's own id and creator type: an
// agent API key resolves to (AgentID, CreatorAgent), a principal JWT
// resolves to (Subject, CreatorHuman) (spec §4.5: both humans and agents
// may create/own/review tasks).
func actorID(c *gin.Context) (id string, creatorType task.CreatorType, err error) {
	ident, ok := callerIdentity(c)
	if !ok {
		return "", "", errors.Unauthenticated("authentication required")
	}
	switch ident.Kind {
	case middleware.KindAgent:
		return ident.AgentID, task.CreatorAgent, nil
	case middleware.KindPrincipal:
		return ident.Subject, task.CreatorHuman, nil
	default:
		return "", "", errors.PermissionDenied("task actions require an agent or principal identity")
	}
}

// requireAgentActor resolves the caller as an agent, the only identity
// allowed to accept/join/submit work (spec §4.5 Accept/Join/Submit).
func requireAgentActor(c *gin.Context) (agentID, agentName string, err error) {
	ident, ok := callerIdentity(c)
	if !ok || ident.Kind != middleware.KindAgent {
		return "", "", errors.PermissionDenied("agent API key required")
	}
	return ident.AgentID, ident.AgentID, nil
}

type createTaskRequest struct {
	Title              string           `json:"title" binding:"required"`
	Description        string           `json:"description"`
	Mode               task.Mode        `json:"mode"`
	TaskType           string           `json:"task_type"`
	RequiredSkills     []string         `json:"required_skills"`
	RewardAmount       string           `json:"reward_amount"`
	RewardCurrency     string           `json:"reward_currency"`
	RewardUnit         task.RewardUnit  `json:"reward_unit"`
	IsMultiParticipant bool             `json:"is_multi_participant"`
	AllowRepeatBySame  bool             `json:"allow_repeat_by_same"`
	MaxCompletions     *int             `json:"max_completions"`
	DeadlineHours      *int             `json:"deadline_hours"`
	AssigneeID         string           `json:"assignee_id"`
	AssigneeName       string           `json:"assignee_name"`
	ApprovalType       task.ApprovalType `json:"approval_type"`
	ValidatorID        string           `json:"validator_id"`
	Metadata           map[string]any   `json:"metadata"`
}

// createTask implements spec §4.5 Create.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	creatorID, creatorType, err := actorID(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	t, err := s.Tasks.Create(c.Request.Context(), task.CreateParams{
		CreatorType:        creatorType,
		CreatorID:          creatorID,
		Title:              req.Title,
		Description:        req.Description,
		Mode:               req.Mode,
		TaskType:           req.TaskType,
		RequiredSkills:     req.RequiredSkills,
		RewardAmount:       req.RewardAmount,
		RewardCurrency:     req.RewardCurrency,
		RewardUnit:         req.RewardUnit,
		IsMultiParticipant: req.IsMultiParticipant,
		AllowRepeatBySame:  req.AllowRepeatBySame,
		MaxCompletions:     req.MaxCompletions,
		DeadlineHours:      req.DeadlineHours,
		AssigneeID:         req.AssigneeID,
		AssigneeName:       req.AssigneeName,
		ApprovalType:       req.ApprovalType,
		ValidatorID:        req.ValidatorID,
		Metadata:           req.Metadata,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	mode := "single"
	if t.IsMultiParticipant {
		mode = "multi"
	}
	s.Metrics.TasksCreatedTotal.WithLabelValues(mode).Inc()
	c.JSON(http.StatusCreated, toTaskView(t))
}

// listTasks implements spec §4.5 List, filtered by the same secondary
// indexes the storage layer exposes (spec §4.1).
func (s *Server) listTasks(c *gin.Context) {
	filter := taskFilterFromQuery(c)
	ts, err := s.Tasks.List(c.Request.Context(), filter)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskViews(ts))
}

// getTask returns a single task by id.
func (s *Server) getTask(c *gin.Context) {
	t, err := s.Tasks.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskView(t))
}

// acceptTask implements spec §4.5 Accept: agent-only, self-action.
func (s *Server) acceptTask(c *gin.Context) {
	agentID, agentName, err := requireAgentActor(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	t, err := s.Tasks.Accept(c.Request.Context(), c.Param("task_id"), agentID, agentName)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskView(t))
}

// joinTask implements spec §4.5 Join / §4.1 atomic join.
func (s *Server) joinTask(c *gin.Context) {
	agentID, agentName, err := requireAgentActor(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	result, err := s.Tasks.Join(c.Request.Context(), c.Param("task_id"), agentID, agentName, task.CreatorAgent)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	s.Metrics.ParticipationsTotal.WithLabelValues(string(result.Participation.Status)).Inc()
	c.JSON(http.StatusCreated, gin.H{
		"participation": toParticipationView(result.Participation),
		"active_count":  result.ActiveCount,
	})
}

type submitTaskRequest struct {
	Submission string           `json:"submission" binding:"required"`
	Artifacts  []map[string]any `json:"artifacts"`
}

// submitTask implements spec §4.5 Submit.
func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	agentID, _, err := requireAgentActor(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	t, err := s.Tasks.Submit(c.Request.Context(), c.Param("task_id"), agentID, req.Submission, req.Artifacts)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskView(t))
}

type reviewTaskRequest struct {
	Notes string `json:"notes"`
}

// completeTask implements spec §4.5 Review (accept path). Creator-only.
func (s *Server) completeTask(c *gin.Context) {
	var req reviewTaskRequest
	_ = c.ShouldBindJSON(&req)
	approverID, _, err := actorID(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	t, err := s.Tasks.Complete(c.Request.Context(), c.Param("task_id"), approverID, req.Notes)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	s.Metrics.EscrowReleasedTotal.Inc()
	c.JSON(http.StatusOK, toTaskView(t))
}

// rejectTask implements spec §4.5 Review (reject path). Creator-only.
func (s *Server) rejectTask(c *gin.Context) {
	var req reviewTaskRequest
	_ = c.ShouldBindJSON(&req)
	reviewerID, _, err := actorID(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	t, err := s.Tasks.Reject(c.Request.Context(), c.Param("task_id"), reviewerID, req.Notes)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskView(t))
}

// cancelTask implements spec §4.5 Cancel. Creator-only.
func (s *Server) cancelTask(c *gin.Context) {
	cancellerID, _, err := actorID(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	t, err := s.Tasks.Cancel(c.Request.Context(), c.Param("task_id"), cancellerID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskView(t))
}

// listParticipationsByTask backs the "participation list" request-surface
// operation, scoped to one task (spec §6).
func (s *Server) listParticipationsByTask(c *gin.Context) {
	ps, err := s.Tasks.ListParticipationsByTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toParticipationViews(ps))
}

// listParticipationsByParticipant returns every participation recorded for
// the caller's own agent identity.
func (s *Server) listParticipationsByParticipant(c *gin.Context) {
	agentID, _, err := requireAgentActor(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	ps, err := s.Tasks.ListParticipationsByParticipant(c.Request.Context(), agentID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toParticipationViews(ps))
}

// cancelParticipation implements spec §4.1 point 2 / §4.5 "participation
// list and cancel": a participant may withdraw their own non-terminal
// participation.
func (s *Server) cancelParticipation(c *gin.Context) {
	requesterID, _, err := actorID(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	p, err := s.Tasks.CancelParticipation(c.Request.Context(), c.Param("participation_id"), requesterID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toParticipationView(p))
}

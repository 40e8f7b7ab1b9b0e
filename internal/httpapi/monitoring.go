package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/storage"
)

// dashboard implements spec §6 "monitoring endpoints: ... dashboard
// aggregate": a one-shot summary across registry and task-engine state,
// cheap enough to poll without scraping /metrics.
func (s *Server) dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	agentsTotal, err := s.Registry.Count(ctx)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	online, err := s.Registry.Search(ctx, registry.SearchParams{Status: agent.StatusOnline})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	openTasks, err := s.Tasks.Count(ctx, storage.TaskFilter{OpenOnly: true})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	completedTasks, err := s.Tasks.Count(ctx, storage.TaskFilter{Status: task.StatusCompleted})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents_total":    agentsTotal,
		"agents_online":   len(online),
		"tasks_open":      openTasks,
		"tasks_completed": completedTasks,
		"generated_at":    time.Now().UTC(),
	})
}

// queryAudit implements spec §6 "audit query".
func (s *Server) queryAudit(c *gin.Context) {
	q := audit.Query{
		Type:     audit.EventType(c.Query("type")),
		ActorID:  c.Query("actor_id"),
		TargetID: c.Query("target_id"),
		SubnetID: c.Query("subnet_id"),
		Level:    audit.Level(c.Query("level")),
		Limit:    queryInt(c, "limit", 100),
		Offset:   queryInt(c, "offset", 0),
	}
	if start := c.Query("start_time"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			middleware.RespondError(c, errors.ValidationError("start_time", "must be RFC3339"))
			return
		}
		q.StartTime = t
	}
	if end := c.Query("end_time"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			middleware.RespondError(c, errors.ValidationError("end_time", "must be RFC3339"))
			return
		}
		q.EndTime = t
	}

	events, err := s.Audit.Find(c.Request.Context(), q)
	if err != nil {
		middleware.RespondError(c, errors.Internal("query audit", err))
		return
	}
	c.JSON(http.StatusOK, toAuditEventViews(events))
}

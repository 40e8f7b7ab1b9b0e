// Package router implements C4: point-to-point routing, skill-based
// discovery, broadcast, the dead-letter queue, and incoming handler
// dispatch (spec §4.4). Grounded on
// original_source/acn/infrastructure/messaging/message_router.py and
// broadcast_service.py.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/storage"
)

const broadcastResultTTL = 24 * time.Hour

// Deliverer abstracts the transport used to actually hand a message to an
// agent: either a direct A2A HTTP client (for agents with a public
// endpoint) or the gateway tunnel (for agents behind NAT). Both
// internal/a2a.ClientCache and internal/gateway.Gateway satisfy this
// shape once adapted at wiring time in internal/app.
type Deliverer interface {
	Deliver(ctx context.Context, a *agent.Agent, message a2a.Message) (*a2a.DeliverResult, error)
}

// Handler processes an inbound A2A message dispatched by message-type key
// (spec §4.4 "Incoming handler dispatch").
type Handler func(ctx context.Context, from string, message a2a.Message) error

// Router is the C4 service.
type Router struct {
	registry  *registry.Registry
	deliver   Deliverer
	history   storage.MessageHistoryStore
	dlq       storage.DLQStore
	results   storage.BroadcastResultStore
	auditRepo storage.AuditRepository
	log       *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New constructs a Router.
func New(reg *registry.Registry, deliver Deliverer, history storage.MessageHistoryStore, dlq storage.DLQStore, results storage.BroadcastResultStore, auditRepo storage.AuditRepository, log *logger.Logger) *Router {
	return &Router{
		registry:  reg,
		deliver:   deliver,
		history:   history,
		dlq:       dlq,
		results:   results,
		auditRepo: auditRepo,
		log:       log,
		handlers:  make(map[string][]Handler),
	}
}

// Route implements spec §4.4 "Point-to-point routing".
func (r *Router) Route(ctx context.Context, fromAgentID, toAgentID string, message a2a.Message) (*a2a.DeliverResult, error) {
	to, err := r.registry.Get(ctx, toAgentID)
	if err != nil {
		return nil, errors.NotFound("agent", toAgentID).WithDetail("reason", "AGENT_NOT_FOUND")
	}

	result, deliverErr := r.deliver.Deliver(ctx, to, message)
	entry := &storage.MessageLogEntry{
		MessageID:   message.MessageID,
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		Summary:     message.Text(),
		Success:     deliverErr == nil,
		Timestamp:   time.Now().UTC(),
	}
	_ = r.history.Append(ctx, entry)

	if deliverErr != nil {
		r.enqueueDLQ(ctx, fromAgentID, toAgentID, message, deliverErr)
		r.recordAudit(ctx, audit.EventMessageFailed, fromAgentID, message.MessageID)
		return nil, errors.ExternalUnavailable("agent endpoint", deliverErr)
	}

	r.recordAudit(ctx, audit.EventMessageSent, fromAgentID, message.MessageID)
	return result, nil
}

func (r *Router) enqueueDLQ(ctx context.Context, fromAgentID, toAgentID string, message a2a.Message, cause error) {
	body := []byte(message.Text())
	entry := &storage.DLQEntry{
		ID:          uuid.NewString(),
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		Message:     body,
		Reason:      cause.Error(),
		Attempts:    0,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.dlq.Push(ctx, entry); err != nil {
		r.log.WithField("error", err).Warn("router: failed to enqueue DLQ entry")
	}
}

// RouteBySkill implements spec §4.4 "Discovery routing": online-first, then
// falls back to any status, first match wins (Open Question: no load
// balancing).
func (r *Router) RouteBySkill(ctx context.Context, fromAgentID string, skills []string, message a2a.Message) (*a2a.DeliverResult, error) {
	candidates, err := r.registry.Search(ctx, registry.SearchParams{Skills: skills, Status: agent.StatusOnline})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = r.registry.Search(ctx, registry.SearchParams{Skills: skills})
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return nil, errors.NotFound("agent", "matching skills").WithDetail("skills", skills)
	}
	return r.Route(ctx, fromAgentID, candidates[0].AgentID, message)
}

// BroadcastStrategy selects how Broadcast fans a message out.
type BroadcastStrategy string

const (
	StrategyParallel   BroadcastStrategy = "parallel"
	StrategySequential BroadcastStrategy = "sequential"
	StrategyBestEffort BroadcastStrategy = "best_effort"
)

// Broadcast implements spec §4.4 "Broadcast": fans a message out to every
// recipient under the chosen strategy and persists a 24h-TTL result.
func (r *Router) Broadcast(ctx context.Context, fromAgentID string, toAgentIDs []string, message a2a.Message, strategy BroadcastStrategy) (*storage.BroadcastResult, error) {
	var succeeded, failed []string

	switch strategy {
	case StrategySequential:
		for _, to := range toAgentIDs {
			if _, err := r.Route(ctx, fromAgentID, to, message); err != nil {
				failed = append(failed, to)
				break
			}
			succeeded = append(succeeded, to)
		}
	case StrategyBestEffort, StrategyParallel, "":
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, to := range toAgentIDs {
			to := to
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Route(ctx, fromAgentID, to, message)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed = append(failed, to)
				} else {
					succeeded = append(succeeded, to)
				}
			}()
		}
		wg.Wait()
	default:
		return nil, errors.ValidationError("strategy", fmt.Sprintf("unknown broadcast strategy %q", strategy))
	}

	now := time.Now().UTC()
	result := &storage.BroadcastResult{
		BroadcastID: uuid.NewString(),
		Succeeded:   succeeded,
		Failed:      failed,
		CreatedAt:   now,
		ExpiresAt:   now.Add(broadcastResultTTL),
	}
	if err := r.results.Save(ctx, result); err != nil {
		r.log.WithField("error", err).Warn("router: failed to persist broadcast result")
	}
	r.recordAudit(ctx, audit.EventBroadcastSent, fromAgentID, result.BroadcastID)
	return result, nil
}

// BroadcastBySkill resolves candidates via the registry before delegating
// to Broadcast (spec §4.4 "send_by_skill").
func (r *Router) BroadcastBySkill(ctx context.Context, fromAgentID string, skills []string, message a2a.Message, strategy BroadcastStrategy) (*storage.BroadcastResult, error) {
	candidates, err := r.registry.Search(ctx, registry.SearchParams{Skills: skills, Status: agent.StatusOnline})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.AgentID)
	}
	return r.Broadcast(ctx, fromAgentID, ids, message, strategy)
}

// GetBroadcastResult retrieves a persisted broadcast outcome by id.
func (r *Router) GetBroadcastResult(ctx context.Context, broadcastID string) (*storage.BroadcastResult, error) {
	return r.results.Get(ctx, broadcastID)
}

// History returns the message log for an agent, newest first.
func (r *Router) History(ctx context.Context, agentID string, limit int) ([]*storage.MessageLogEntry, error) {
	return r.history.FindByAgent(ctx, agentID, limit)
}

const defaultMaxRetries = 3

// RetryDLQ implements spec §4.4 "Dead-letter retry": drains entries under
// max_retries, re-invoking point-to-point routing; drops entries above
// threshold.
func (r *Router) RetryDLQ(ctx context.Context, maxRetries int) (retried, dropped int, err error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	entries, err := r.dlq.List(ctx, 0)
	if err != nil {
		return 0, 0, errors.Internal("list dlq", err)
	}

	for _, e := range entries {
		if e.Attempts >= maxRetries {
			_ = r.dlq.Remove(ctx, e.ID)
			dropped++
			continue
		}

		msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart(string(e.Message)))
		if _, routeErr := r.Route(ctx, e.FromAgentID, e.ToAgentID, msg); routeErr != nil {
			if _, incErr := r.dlq.IncrementAttempts(ctx, e.ID); incErr != nil {
				r.log.WithField("error", incErr).Warn("router: failed to increment dlq attempts")
			}
			continue
		}
		_ = r.dlq.Remove(ctx, e.ID)
		retried++
	}
	return retried, dropped, nil
}

// RegisterHandler registers a handler for a message-type key, or "*" for a
// wildcard invoked after every specific match (spec §4.4 "Incoming handler
// dispatch").
func (r *Router) RegisterHandler(key string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = append(r.handlers[key], h)
}

// HandleIncoming dispatches an inbound message to every handler matching
// its derived type key, followed by wildcards.
func (r *Router) HandleIncoming(ctx context.Context, fromAgentID string, message a2a.Message) error {
	key := dispatchKey(message)

	r.mu.RLock()
	specific := append([]Handler(nil), r.handlers[key]...)
	wildcard := append([]Handler(nil), r.handlers["*"]...)
	r.mu.RUnlock()

	var firstErr error
	for _, h := range append(specific, wildcard...) {
		if err := h(ctx, fromAgentID, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.recordAudit(ctx, audit.EventMessageReceived, fromAgentID, message.MessageID)
	return firstErr
}

func dispatchKey(message a2a.Message) string {
	for _, p := range message.Parts {
		if p.Kind != a2a.PartData {
			continue
		}
		if v, ok := p.Data["notification_type"].(string); ok && v != "" {
			return v
		}
		if v, ok := p.Data["type"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (r *Router) recordAudit(ctx context.Context, eventType audit.EventType, actorID, messageID string) {
	if r.auditRepo == nil {
		return
	}
	_ = r.auditRepo.Save(ctx, audit.New(eventType, actorID, "agent").WithMessage(messageID))
}

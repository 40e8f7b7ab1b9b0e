// Package taskengine implements C5: task creation, accept/join, submit,
// review (complete/reject), cancel, and reward settlement across the
// wallet/escrow/payment collaborators (spec §4.5). Grounded on
// original_source/acn/services/task_service.py.
package taskengine

import (
	"context"
	"fmt"

	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/escrow"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/money"
	"github.com/r3e-network/acn/internal/payment"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/storage"
	"github.com/r3e-network/acn/internal/wallet"
	"github.com/r3e-network/acn/internal/webhook"
)

// currencyIsPoints reports whether currency routes settlement through the
// internal wallet/escrow ledger rather than the external payment protocol
// (spec §4.5: "points" is the platform-internal currency).
func currencyIsPoints(currency string) bool {
	return currency == "" || equalFold(currency, "points")
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Engine is the C5 service.
type Engine struct {
	tasks          storage.TaskRepository
	activity       storage.ActivityRepository
	registry       *registry.Registry
	wallet         *wallet.Client
	escrow         *escrow.Client
	payments       *payment.TaskManager
	webhooks       *webhook.Service
	activeCounters storage.ActiveCounterStore
	log            *logger.Logger
}

// Deps bundles Engine's collaborators. Wallet, escrow, payments, and
// webhooks are all optional (nil-able) — a deployment with no external
// settlement backend still runs the task lifecycle end to end, exactly as
// the original's "reward distribution is best-effort and logged, never
// fatal to the lifecycle transition" behavior.
type Deps struct {
	Tasks    storage.TaskRepository
	Activity storage.ActivityRepository
	Registry *registry.Registry
	Wallet   *wallet.Client
	Escrow   *escrow.Client
	Payments *payment.TaskManager
	Webhooks *webhook.Service
	// ActiveCounters is an optional fast-read cache of each task's active
	// participant count (spec §4.1: "ephemeral, never authoritative for
	// capacity"). AtomicJoin/AtomicCancelParticipation/
	// AtomicCompleteParticipation remain the source of truth; this cache
	// just saves a participation scan for read-heavy dashboard/list paths.
	ActiveCounters storage.ActiveCounterStore
	Log            *logger.Logger
}

// New constructs an Engine.
func New(d Deps) *Engine {
	return &Engine{
		tasks:          d.Tasks,
		activity:       d.Activity,
		registry:       d.Registry,
		wallet:         d.Wallet,
		escrow:         d.Escrow,
		payments:       d.Payments,
		webhooks:       d.Webhooks,
		activeCounters: d.ActiveCounters,
		log:            d.Log,
	}
}

// Create builds a task, locking/deducting escrow budget for points-based
// tasks and raising an AP2 payment task for real-currency tasks (spec §4.5
// Create).
func (e *Engine) Create(ctx context.Context, p task.CreateParams) (*task.Task, error) {
	t, err := task.New(p)
	if err != nil {
		return nil, errors.ValidationError("task", err.Error())
	}

	if currencyIsPoints(t.RewardCurrency) && !t.TotalBudget.IsZero() {
		if err := e.lockBudget(ctx, t); err != nil {
			return nil, err
		}
	} else if !currencyIsPoints(t.RewardCurrency) && !t.RewardAmount.IsZero() && e.payments != nil {
		pt, err := e.payments.CreatePaymentTask(ctx, payment.CreateParams{
			TaskID:        t.TaskID,
			BuyerAgentID:  t.CreatorID,
			SellerAgentID: t.CreatorID,
			Description:   fmt.Sprintf("Payment for task: %s", t.Title),
			Amount:        t.RewardAmount.String(),
			Currency:      t.RewardCurrency,
		})
		if err != nil {
			e.log.WithField("error", err).Warn("taskengine: failed to create payment task, continuing without payment")
		} else {
			t.PaymentTaskID = pt.PaymentTaskID
		}
	}

	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	e.notifyWebhook(ctx, webhook.EventTaskCreated, t)
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskCreated, t.CreatorType, t.CreatorID, t.CreatorName,
		fmt.Sprintf("created task %q", t.Title)).WithTask(t.TaskID))

	return t, nil
}

// lockBudget deducts or locks the creator's points balance for the task's
// total budget: escrow for human creators, wallet spend for agent creators
// (spec §4.5 Create, points-currency path).
func (e *Engine) lockBudget(ctx context.Context, t *task.Task) error {
	switch t.CreatorType {
	case task.CreatorHuman:
		if e.escrow == nil {
			return nil
		}
		result, err := e.escrow.Lock(ctx, t.CreatorID, t.TaskID, t.TotalBudget, fmt.Sprintf("Escrow for task: %s", t.Title))
		if err != nil {
			return errors.InsufficientBudget(t.TotalBudget.String(), "0").WithDetail("reason", err.Error())
		}
		e.log.WithField("task_id", t.TaskID).WithField("result", result).Info("taskengine: escrow locked for task")
	case task.CreatorAgent:
		if e.wallet == nil {
			return nil
		}
		if err := e.wallet.Spend(ctx, t.CreatorID, t.TotalBudget, fmt.Sprintf("Task creation: %s", t.TaskID)); err != nil {
			return errors.InsufficientBudget(t.TotalBudget.String(), "0").WithDetail("reason", err.Error())
		}
	}
	return nil
}

// Get retrieves a task by id.
func (e *Engine) Get(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := e.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, errors.Internal("find task", err)
	}
	if t == nil {
		return nil, errors.NotFound("task", taskID)
	}
	e.syncActiveCount(ctx, t)
	return t, nil
}

// List returns tasks matching filter.
func (e *Engine) List(ctx context.Context, filter storage.TaskFilter) ([]*task.Task, error) {
	ts, err := e.tasks.Find(ctx, filter)
	if err != nil {
		return nil, errors.Internal("list tasks", err)
	}
	for _, t := range ts {
		e.syncActiveCount(ctx, t)
	}
	return ts, nil
}

// syncActiveCount refreshes t.ActiveParticipantsCount from the live
// participation count on read, so the API never reports a stale zero
// (spec §3 Participation invariant ii). Single-assignee tasks have no
// participation pool to scan, so the cached field is left alone.
func (e *Engine) syncActiveCount(ctx context.Context, t *task.Task) {
	if !t.IsMultiParticipant {
		return
	}
	n, err := e.ActiveCount(ctx, t.TaskID)
	if err != nil {
		e.log.WithField("error", err).WithField("task_id", t.TaskID).Debug("taskengine: active-count sync failed")
		return
	}
	t.ActiveParticipantsCount = n
}

// Count returns the number of tasks matching filter, for the monitoring
// dashboard aggregate.
func (e *Engine) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	n, err := e.tasks.Count(ctx, filter)
	if err != nil {
		return 0, errors.Internal("count tasks", err)
	}
	return n, nil
}

// FindForAgent returns open tasks whose required skills agentSkills
// satisfies (spec §4.5 "search-for-agent").
func (e *Engine) FindForAgent(ctx context.Context, agentSkills []string, limit int) ([]*task.Task, error) {
	candidates, err := e.tasks.Find(ctx, storage.TaskFilter{OpenOnly: true})
	if err != nil {
		return nil, errors.Internal("list tasks", err)
	}
	skillSet := make(map[string]struct{}, len(agentSkills))
	for _, s := range agentSkills {
		skillSet[s] = struct{}{}
	}
	var matched []*task.Task
	for _, t := range candidates {
		if t.MatchesSkills(skillSet) {
			matched = append(matched, t)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

// Accept assigns a single-assignee task to agentID (spec §4.5 Accept).
func (e *Engine) Accept(ctx context.Context, taskID, agentID, agentName string) (*task.Task, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !t.AllowRepeatBySame {
		has, err := e.tasks.HasNonTerminalParticipation(ctx, taskID, agentID)
		if err != nil {
			return nil, errors.Internal("check participation", err)
		}
		if has {
			return nil, errors.Conflict("you have already completed this task").WithDetail("reason", "ALREADY_COMPLETED")
		}
	}

	if err := t.Accept(agentID, agentName); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskAccepted, task.CreatorAgent, agentID, agentName,
		fmt.Sprintf("accepted task %q", t.Title)).WithTask(taskID))
	return t, nil
}

// Join enrolls a participant into a multi-participant task under the
// storage layer's atomic capacity/dedup guard (spec §4.1, §4.5 Join).
func (e *Engine) Join(ctx context.Context, taskID, participantID, participantName string, participantType task.CreatorType) (*storage.JoinResult, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result, err := e.tasks.AtomicJoin(ctx, taskID, participantID, participantName, participantType, t.AllowRepeatBySame)
	if err != nil {
		return nil, err
	}
	e.warmActiveCount(ctx, taskID, 1)
	e.recordActivity(ctx, task.NewActivity(task.ActivityAgentJoined, participantType, participantID, participantName,
		fmt.Sprintf("joined task %q", t.Title)).WithTask(taskID))
	return result, nil
}

// warmActiveCount nudges the optional active-participant count cache by
// delta. Best-effort: a cache miss or store error never fails the caller's
// join/cancel/complete transition, since AtomicJoin et al. already hold the
// authoritative count.
func (e *Engine) warmActiveCount(ctx context.Context, taskID string, delta int) {
	if e.activeCounters == nil {
		return
	}
	var err error
	if delta >= 0 {
		_, err = e.activeCounters.Increment(ctx, taskID)
	} else {
		_, err = e.activeCounters.Decrement(ctx, taskID)
	}
	if err != nil {
		e.log.WithField("error", err).WithField("task_id", taskID).Debug("taskengine: active-count cache update failed")
	}
}

// ActiveCount returns a task's current active-participant count, preferring
// the fast cache and falling back to a live participation scan when the
// cache is unavailable or cold.
func (e *Engine) ActiveCount(ctx context.Context, taskID string) (int, error) {
	if e.activeCounters != nil {
		if n, err := e.activeCounters.Get(ctx, taskID); err == nil && n > 0 {
			return n, nil
		}
	}
	participations, err := e.tasks.FindParticipationsByTask(ctx, taskID)
	if err != nil {
		return 0, errors.Internal("count participations", err)
	}
	count := 0
	for _, p := range participations {
		if !p.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// Submit records a single-assignee submission and runs auto-approval when
// configured (spec §4.5 Submit).
func (e *Engine) Submit(ctx context.Context, taskID, agentID, submission string, artifacts []map[string]any) (*task.Task, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.AssigneeID != agentID {
		return nil, errors.PermissionDenied("only the assigned agent can submit")
	}
	if err := t.Submit(submission, artifacts); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskSubmitted, task.CreatorAgent, agentID, t.AssigneeName,
		fmt.Sprintf("submitted task %q", t.Title)).WithTask(taskID))

	if t.ApprovalType == task.ApprovalAuto {
		return e.autoComplete(ctx, t)
	}
	return t, nil
}

func (e *Engine) autoComplete(ctx context.Context, t *task.Task) (*task.Task, error) {
	if err := t.Complete("system:auto", "Auto-approved on submission"); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}
	e.distributeReward(ctx, t, fmt.Sprintf("Auto-reward for task: %s", t.Title))
	e.notifyWebhook(ctx, webhook.EventTaskCompleted, t)
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskApproved, task.CreatorAgent, "system:auto", "Auto-Approval",
		fmt.Sprintf("auto-approved task %q", t.Title)).WithTask(t.TaskID))
	return t, nil
}

// Complete approves a submitted task, releasing its reward (spec §4.5
// Complete).
func (e *Engine) Complete(ctx context.Context, taskID, approverID, notes string) (*task.Task, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.CreatorID != approverID {
		return nil, errors.PermissionDenied("only the task creator can approve")
	}
	if err := t.Complete(approverID, notes); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	if t.PaymentTaskID != "" && e.payments != nil {
		if _, err := e.payments.UpdateStatus(ctx, t.PaymentTaskID, payment.StatusCompleted); err != nil {
			e.log.WithField("error", err).Warn("taskengine: failed to release payment")
		}
	}
	e.distributeReward(ctx, t, fmt.Sprintf("Reward for task: %s", t.Title))
	e.notifyWebhook(ctx, webhook.EventTaskCompleted, t)
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskApproved, t.CreatorType, approverID, t.CreatorName,
		fmt.Sprintf("approved task %q", t.Title)).WithTask(taskID))
	return t, nil
}

// CompleteParticipation approves one participant's submission in a
// multi-participant task, atomically incrementing completed_count (spec
// §4.1 point 3, §4.5 Complete).
func (e *Engine) CompleteParticipation(ctx context.Context, participationID, reviewerID, notes string) (*storage.CompleteResult, error) {
	result, err := e.tasks.AtomicCompleteParticipation(ctx, participationID, reviewerID, notes)
	if err != nil {
		return nil, err
	}
	e.warmActiveCount(ctx, result.Participation.TaskID, -1)
	t, err := e.Get(ctx, result.Participation.TaskID)
	if err == nil {
		e.distributeRewardTo(ctx, t, result.Participation.ParticipantID, fmt.Sprintf("Reward for task: %s", t.Title))
	}
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskApproved, result.Participation.ParticipantType, reviewerID, reviewerID,
		fmt.Sprintf("approved participation in task %q", result.Participation.TaskID)).WithTask(result.Participation.TaskID))
	return result, nil
}

// Reject marks a submission rejected (spec §4.5 Reject). Per the recorded
// Open Question decision, released_amount is never decremented here.
func (e *Engine) Reject(ctx context.Context, taskID, reviewerID, notes string) (*task.Task, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.CreatorID != reviewerID {
		return nil, errors.PermissionDenied("only the task creator can reject")
	}
	if err := t.Reject(reviewerID, notes); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskRejected, t.CreatorType, reviewerID, t.CreatorName,
		notes).WithTask(taskID))
	return t, nil
}

// Cancel cancels a task, refunding unreleased budget to its creator (spec
// §4.5 Cancel).
func (e *Engine) Cancel(ctx context.Context, taskID, cancellerID string) (*task.Task, error) {
	t, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.CreatorID != cancellerID {
		return nil, errors.PermissionDenied("only the creator can cancel a task")
	}
	if err := t.Cancel(); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, errors.Internal("save task", err)
	}

	if t.PaymentTaskID != "" && e.payments != nil {
		if _, err := e.payments.UpdateStatus(ctx, t.PaymentTaskID, payment.StatusCancelled); err != nil {
			e.log.WithField("error", err).Warn("taskengine: failed to cancel payment task")
		}
	}
	if t.IsMultiParticipant {
		e.cancelNonTerminalParticipations(ctx, taskID)
	}
	e.refundBudget(ctx, t)
	e.notifyWebhook(ctx, webhook.EventTaskCancelled, t)
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskCancelled, t.CreatorType, cancellerID, t.CreatorName,
		fmt.Sprintf("cancelled task %q", t.Title)).WithTask(taskID))
	return t, nil
}

// cancelNonTerminalParticipations transitions every active/submitted
// participation of a multi-participant task to cancelled, decrementing the
// ephemeral active-count cache for each one (spec §4.5 Cancel,
// multi-participant path).
func (e *Engine) cancelNonTerminalParticipations(ctx context.Context, taskID string) {
	participations, err := e.tasks.FindParticipationsByTask(ctx, taskID)
	if err != nil {
		e.log.WithField("error", err).Warn("taskengine: failed to list participations for cancel")
		return
	}
	for _, p := range participations {
		if p.Status.IsTerminal() {
			continue
		}
		if _, err := e.tasks.AtomicCancelParticipation(ctx, p.ParticipationID); err != nil {
			e.log.WithField("error", err).WithField("participation_id", p.ParticipationID).
				Warn("taskengine: failed to cancel participation")
			continue
		}
		e.warmActiveCount(ctx, taskID, -1)
	}
}

// CancelParticipation withdraws requesterID's own participation (spec §4.1
// point 2, §4.5 "participation list and cancel" request-surface operation).
// Unlike task Cancel, this is self-service: any participant may cancel their
// own non-terminal participation.
func (e *Engine) CancelParticipation(ctx context.Context, participationID, requesterID string) (*task.Participation, error) {
	participations, err := e.tasks.FindParticipationsByParticipant(ctx, requesterID)
	if err != nil {
		return nil, errors.Internal("list participations", err)
	}
	var owns bool
	for _, p := range participations {
		if p.ParticipationID == participationID {
			owns = true
			break
		}
	}
	if !owns {
		return nil, errors.PermissionDenied("you may only cancel your own participation")
	}
	p, err := e.tasks.AtomicCancelParticipation(ctx, participationID)
	if err != nil {
		return nil, err
	}
	e.warmActiveCount(ctx, p.TaskID, -1)
	e.recordActivity(ctx, task.NewActivity(task.ActivityTaskCancelled, p.ParticipantType, requesterID, p.ParticipantName,
		"cancelled participation").WithTask(p.TaskID))
	return p, nil
}

// ListParticipationsByTask returns every participation recorded against
// taskID (spec §4.5 "participation list").
func (e *Engine) ListParticipationsByTask(ctx context.Context, taskID string) ([]*task.Participation, error) {
	ps, err := e.tasks.FindParticipationsByTask(ctx, taskID)
	if err != nil {
		return nil, errors.Internal("list participations", err)
	}
	return ps, nil
}

// ListParticipationsByParticipant returns every participation recorded for
// participantID across all tasks (spec §4.5 "participation list").
func (e *Engine) ListParticipationsByParticipant(ctx context.Context, participantID string) ([]*task.Participation, error) {
	ps, err := e.tasks.FindParticipationsByParticipant(ctx, participantID)
	if err != nil {
		return nil, errors.Internal("list participations", err)
	}
	return ps, nil
}

func (e *Engine) refundBudget(ctx context.Context, t *task.Task) {
	if !currencyIsPoints(t.RewardCurrency) {
		return
	}
	remaining := t.RemainingBudget()
	if remaining.IsZero() || remaining.IsNegative() {
		return
	}
	switch t.CreatorType {
	case task.CreatorHuman:
		if e.escrow == nil {
			return
		}
		if _, err := e.escrow.Refund(ctx, t.CreatorID, t.TaskID, remaining, fmt.Sprintf("Refund for cancelled task: %s", t.Title)); err != nil {
			e.log.WithField("error", err).Warn("taskengine: failed to refund escrow")
		}
	case task.CreatorAgent:
		if e.wallet == nil {
			return
		}
		if err := e.wallet.Receive(ctx, t.CreatorID, remaining, fmt.Sprintf("Refund for cancelled task: %s", t.TaskID)); err != nil {
			e.log.WithField("error", err).Warn("taskengine: failed to refund agent balance")
		}
	}
}

// distributeReward pays the current assignee (single-assignee path).
func (e *Engine) distributeReward(ctx context.Context, t *task.Task, description string) {
	if t.AssigneeID == "" || !currencyIsPoints(t.RewardCurrency) || t.RewardAmount.IsZero() {
		return
	}
	e.distributeRewardTo(ctx, t, t.AssigneeID, description)
}

// distributeRewardTo splits and pays reward amount to recipientID. The
// primary path calls the wallet service, which performs the owner-share
// split itself; when no wallet service is configured, it falls back to
// resolving the agent's owner share from the registry and releasing the
// owner's cut directly through escrow (spec §4.5 step 3, mirroring
// _distribute_reward's "legacy flow").
func (e *Engine) distributeRewardTo(ctx context.Context, t *task.Task, recipientID, description string) {
	if recipientID == "" {
		return
	}
	if e.wallet != nil {
		result, err := e.wallet.AddEarnings(ctx, recipientID, t.RewardAmount, description)
		if err != nil {
			e.log.WithField("error", err).WithField("task_id", t.TaskID).Error("taskengine: reward distribution failed")
			return
		}
		e.log.WithField("task_id", t.TaskID).WithField("agent_amount", result.AgentAmount).WithField("owner_amount", result.OwnerAmount).
			Info("taskengine: reward distributed")
		return
	}

	ownerID, ownerShare := e.agentOwner(ctx, recipientID)
	agentAmount, ownerAmount := money.Split(t.RewardAmount, ownerShare)
	e.log.WithField("task_id", t.TaskID).WithField("agent_amount", agentAmount.String()).WithField("owner_amount", ownerAmount.String()).
		Info("taskengine: reward split calculated (legacy path)")

	if ownerAmount.IsZero() || ownerID == "" || e.escrow == nil {
		return
	}
	if _, err := e.escrow.Release(ctx, t.CreatorID, ownerID, t.TaskID, ownerAmount, description+" (owner share)"); err != nil {
		e.log.WithField("error", err).WithField("task_id", t.TaskID).Error("taskengine: failed to release owner share")
	}
}

func (e *Engine) notifyWebhook(ctx context.Context, event webhook.EventType, t *task.Task) {
	if e.webhooks == nil {
		return
	}
	if _, err := e.webhooks.Send(ctx, event, t.TaskID, map[string]any{
		"mode":            string(t.Mode),
		"status":          string(t.Status),
		"creator_id":      t.CreatorID,
		"assignee_id":     t.AssigneeID,
		"reward_amount":   t.RewardAmount.String(),
		"reward_currency": t.RewardCurrency,
	}, webhook.EventArgs{Amount: t.RewardAmount.String(), Currency: t.RewardCurrency}); err != nil {
		e.log.WithField("error", err).Warn("taskengine: webhook notification failed")
	}
}

func (e *Engine) recordActivity(ctx context.Context, a *task.Activity) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Save(ctx, a); err != nil {
		e.log.WithField("error", err).Warn("taskengine: failed to record activity")
	}
}

// agentOwner resolves an agent's owner user id and owner share, used when
// settlement needs to route the owner's cut independently of the wallet
// service's internal split (spec §4.5 step 3 legacy path).
func (e *Engine) agentOwner(ctx context.Context, agentID string) (ownerID string, ownerShare float64) {
	if e.registry == nil {
		return "", 0
	}
	a, err := e.registry.Get(ctx, agentID)
	if err != nil {
		return "", 0
	}
	return a.Owner, a.OwnerShare
}

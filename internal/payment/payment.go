// Package payment is ACN's value-add layer on top of the AP2 (Agent
// Payments Protocol) wire types: payment-capability discovery across the
// registry, and a PaymentTask that fuses an A2A task request with an AP2
// payment request so the two lifecycles are tracked together. This is not
// a reimplementation of AP2 itself — no AP2 Go SDK is grounded anywhere in
// the corpus — it is ACN's discovery/tracking/audit value-add around it.
// Grounded on original_source/acn/protocols/ap2/__init__.py's architecture
// and original_source/acn/protocols/ap2/webhook.py's event taxonomy.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/storage"
	"github.com/r3e-network/acn/internal/webhook"
)

// Method is a supported payment method (AP2 PaymentMethodData analogue).
type Method string

const (
	MethodUSDC    Method = "USDC"
	MethodCredits Method = "CREDITS"
	MethodETH     Method = "ETH"
)

// Network is a supported settlement network.
type Network string

const (
	NetworkBase     Network = "base"
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkOffchain Network = "offchain"
)

// Status is a PaymentTask's lifecycle state.
type Status string

const (
	StatusCreated          Status = "created"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusDisputed         Status = "disputed"
	StatusRefunded         Status = "refunded"
	StatusCancelled        Status = "cancelled"
)

// Capability describes the payment methods and networks an agent accepts,
// carried in Agent.Metadata["payment_capability"].
type Capability struct {
	Methods         []Method `json:"methods"`
	Networks        []Network `json:"networks"`
	PreferredMethod Method   `json:"preferred_method,omitempty"`
}

// NewCapability builds a Capability, defaulting PreferredMethod to the
// first listed method.
func NewCapability(methods []Method, networks []Network) Capability {
	c := Capability{Methods: methods, Networks: networks}
	if len(methods) > 0 {
		c.PreferredMethod = methods[0]
	}
	return c
}

// Accepts reports whether the capability includes method on network.
func (c Capability) Accepts(method Method, network Network) bool {
	hasMethod := false
	for _, m := range c.Methods {
		if m == method {
			hasMethod = true
			break
		}
	}
	if !hasMethod {
		return false
	}
	for _, n := range c.Networks {
		if n == network {
			return true
		}
	}
	return false
}

// DiscoveryService finds agents by declared payment capability.
type DiscoveryService struct {
	registry *registry.Registry
}

// NewDiscoveryService constructs a DiscoveryService.
func NewDiscoveryService(reg *registry.Registry) *DiscoveryService {
	return &DiscoveryService{registry: reg}
}

// FindAgentsAcceptingPayment returns online agents whose declared
// capability accepts method on network (spec §4.5 payment discovery:
// "find all agents accepting USDC on Base network").
func (d *DiscoveryService) FindAgentsAcceptingPayment(ctx context.Context, method Method, network Network) ([]*agent.Agent, error) {
	candidates, err := d.registry.Search(ctx, registry.SearchParams{Status: agent.StatusOnline})
	if err != nil {
		return nil, err
	}
	var matched []*agent.Agent
	for _, a := range candidates {
		cap, ok := capabilityFromMetadata(a.Metadata)
		if ok && cap.Accepts(method, network) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

func capabilityFromMetadata(metadata map[string]any) (Capability, bool) {
	raw, ok := metadata["payment_capability"]
	if !ok {
		return Capability{}, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return Capability{}, false
	}
	var cap Capability
	if methods, ok := m["methods"].([]any); ok {
		for _, v := range methods {
			if s, ok := v.(string); ok {
				cap.Methods = append(cap.Methods, Method(s))
			}
		}
	}
	if networks, ok := m["networks"].([]any); ok {
		for _, v := range networks {
			if s, ok := v.(string); ok {
				cap.Networks = append(cap.Networks, Network(s))
			}
		}
	}
	return cap, len(cap.Methods) > 0
}

// CreateParams bundles CreatePaymentTask's inputs.
type CreateParams struct {
	TaskID        string
	BuyerAgentID  string
	SellerAgentID string
	Description   string
	Amount        string
	Currency      string
	Method        Method
	Network       Network
}

// TaskManager fuses an A2A task with an AP2 payment request: it resolves
// the seller's wallet identity from the registry and tracks the combined
// lifecycle (spec §4.5 "A2A + AP2 fusion").
type TaskManager struct {
	registry *registry.Registry
	store    storage.PaymentTaskRepository
	webhooks *webhook.Service
	log      *logger.Logger
}

// NewTaskManager constructs a TaskManager.
func NewTaskManager(reg *registry.Registry, store storage.PaymentTaskRepository, webhooks *webhook.Service, log *logger.Logger) *TaskManager {
	return &TaskManager{registry: reg, store: store, webhooks: webhooks, log: log}
}

// CreatePaymentTask resolves the seller agent, creates a PaymentTask record,
// and fires a payment_task.created webhook.
func (m *TaskManager) CreatePaymentTask(ctx context.Context, p CreateParams) (*storage.PaymentTask, error) {
	seller, err := m.registry.Get(ctx, p.SellerAgentID)
	if err != nil {
		return nil, errors.NotFound("agent", p.SellerAgentID).WithDetail("reason", "SELLER_NOT_FOUND")
	}
	if _, err := m.registry.Get(ctx, p.BuyerAgentID); err != nil {
		return nil, errors.NotFound("agent", p.BuyerAgentID).WithDetail("reason", "BUYER_NOT_FOUND")
	}

	now := time.Now().UTC()
	pt := &storage.PaymentTask{
		PaymentTaskID: fmt.Sprintf("pt_%s", uuid.NewString()),
		TaskID:        p.TaskID,
		BuyerAgentID:  p.BuyerAgentID,
		SellerAgentID: seller.AgentID,
		Description:   p.Description,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        string(p.Method),
		Network:       string(p.Network),
		Status:        string(StatusCreated),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Save(ctx, pt); err != nil {
		return nil, errors.Internal("save payment task", err)
	}

	if m.webhooks != nil {
		if _, err := m.webhooks.Send(ctx, webhook.EventPaymentTaskCreated, pt.TaskID,
			map[string]any{"payment_task_id": pt.PaymentTaskID, "status": pt.Status},
			webhook.EventArgs{BuyerAgent: pt.BuyerAgentID, SellerAgent: pt.SellerAgentID, Amount: pt.Amount, Currency: pt.Currency, PaymentMethod: pt.Method}); err != nil {
			m.log.WithField("error", err).Warn("payment: webhook delivery failed")
		}
	}

	return pt, nil
}

// UpdateStatus transitions a PaymentTask to a new status and fires the
// matching webhook event.
func (m *TaskManager) UpdateStatus(ctx context.Context, paymentTaskID string, status Status) (*storage.PaymentTask, error) {
	pt, err := m.store.FindByID(ctx, paymentTaskID)
	if err != nil {
		return nil, errors.Internal("find payment task", err)
	}
	if pt == nil {
		return nil, errors.NotFound("payment task", paymentTaskID)
	}

	pt.Status = string(status)
	pt.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, pt); err != nil {
		return nil, errors.Internal("save payment task", err)
	}

	if m.webhooks != nil {
		if event, ok := eventForStatus(status); ok {
			if _, err := m.webhooks.Send(ctx, event, pt.TaskID,
				map[string]any{"payment_task_id": pt.PaymentTaskID, "status": pt.Status}, webhook.EventArgs{
					BuyerAgent: pt.BuyerAgentID, SellerAgent: pt.SellerAgentID, Amount: pt.Amount, Currency: pt.Currency, PaymentMethod: pt.Method,
				}); err != nil {
				m.log.WithField("error", err).Warn("payment: webhook delivery failed")
			}
		}
	}

	return pt, nil
}

func eventForStatus(status Status) (webhook.EventType, bool) {
	switch status {
	case StatusPaymentPending:
		return webhook.EventPaymentPending, true
	case StatusPaymentConfirmed:
		return webhook.EventPaymentConfirmed, true
	case StatusCompleted:
		return webhook.EventPaymentTaskCompleted, true
	case StatusDisputed:
		return webhook.EventDisputed, true
	case StatusRefunded:
		return webhook.EventRefunded, true
	case StatusCancelled:
		return webhook.EventPaymentTaskCancelled, true
	default:
		return "", false
	}
}

// Get retrieves a payment task by id.
func (m *TaskManager) Get(ctx context.Context, paymentTaskID string) (*storage.PaymentTask, error) {
	pt, err := m.store.FindByID(ctx, paymentTaskID)
	if err != nil {
		return nil, errors.Internal("find payment task", err)
	}
	if pt == nil {
		return nil, errors.NotFound("payment task", paymentTaskID)
	}
	return pt, nil
}

// ByTask lists every payment task raised against taskID.
func (m *TaskManager) ByTask(ctx context.Context, taskID string) ([]*storage.PaymentTask, error) {
	return m.store.FindByTask(ctx, taskID)
}

// Retry re-fires the webhook event for a payment task's current status.
// Operator-triggered, for when the original delivery exhausted its
// automatic retry schedule (spec: operator-guarded payment retry).
func (m *TaskManager) Retry(ctx context.Context, paymentTaskID string) (*storage.PaymentTask, error) {
	pt, err := m.Get(ctx, paymentTaskID)
	if err != nil {
		return nil, err
	}
	if m.webhooks != nil {
		if event, ok := eventForStatus(Status(pt.Status)); ok {
			if _, err := m.webhooks.Send(ctx, event, pt.TaskID,
				map[string]any{"payment_task_id": pt.PaymentTaskID, "status": pt.Status}, webhook.EventArgs{
					BuyerAgent: pt.BuyerAgentID, SellerAgent: pt.SellerAgentID, Amount: pt.Amount, Currency: pt.Currency, PaymentMethod: pt.Method,
				}); err != nil {
				return nil, errors.Internal("retry payment webhook", err)
			}
		}
	}
	return pt, nil
}

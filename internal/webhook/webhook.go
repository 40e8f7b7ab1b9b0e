// Package webhook delivers signed outbound notifications for payment and
// task lifecycle events to an operator-configured external backend, with
// HMAC-SHA256 signing, exponential-backoff retries, and a 7-day delivery
// history (spec §4.5). Grounded on
// original_source/acn/protocols/ap2/webhook.go's WebhookService.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/storage"
)

// EventType identifies a webhook-notifiable payment or task lifecycle
// event.
type EventType string

const (
	EventPaymentTaskCreated   EventType = "payment_task.created"
	EventPaymentTaskUpdated   EventType = "payment_task.updated"
	EventPaymentTaskCancelled EventType = "payment_task.cancelled"
	EventPaymentPending       EventType = "payment_task.payment_pending"
	EventPaymentConfirmed     EventType = "payment_task.payment_confirmed"
	EventPaymentFailed        EventType = "payment_task.payment_failed"
	EventPaymentTaskCompleted EventType = "payment_task.completed"
	EventDisputed             EventType = "payment_task.disputed"
	EventRefunded             EventType = "payment_task.refunded"

	EventTaskCreated   EventType = "task.created"
	EventTaskAccepted  EventType = "task.accepted"
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskCompleted EventType = "task.completed"
	EventTaskRejected  EventType = "task.rejected"
	EventTaskCancelled EventType = "task.cancelled"
)

// Config configures a single outbound webhook endpoint.
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	RetryCount  int
	RetryDelay  time.Duration
	Enabled     bool
	EventFilter map[EventType]struct{} // empty = all events
}

// Payload is the JSON body sent to the webhook endpoint.
type Payload struct {
	Event         EventType      `json:"event"`
	Timestamp     string         `json:"timestamp"`
	TaskID        string         `json:"task_id"`
	Data          map[string]any `json:"data"`
	BuyerAgent    string         `json:"buyer_agent,omitempty"`
	SellerAgent   string         `json:"seller_agent,omitempty"`
	Amount        string         `json:"amount,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	PaymentMethod string         `json:"payment_method,omitempty"`
}

// Service manages signed webhook delivery with retry and history.
type Service struct {
	config     Config
	httpClient *http.Client
	deliveries storage.WebhookDeliveryStore
	log        *logger.Logger
}

// New constructs a Service. A zero-value Config is valid and Enabled=false,
// in which case Send is a no-op (mirrors the original's "webhook not
// configured" short circuit).
func New(cfg Config, deliveries storage.WebhookDeliveryStore, log *logger.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Service{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		deliveries: deliveries,
		log:        log,
	}
}

// EventArgs carries the optional payment/task context attached to a
// delivered event.
type EventArgs struct {
	BuyerAgent    string
	SellerAgent   string
	Amount        string
	Currency      string
	PaymentMethod string
}

// Send delivers an event to the configured endpoint, retrying with
// exponential backoff on failure. Returns true if delivered, or if no
// webhook is configured (delivery not required), matching the original's
// "skip when unconfigured" semantics.
func (s *Service) Send(ctx context.Context, event EventType, taskID string, data map[string]any, args EventArgs) (bool, error) {
	if !s.config.Enabled || s.config.URL == "" {
		s.log.WithField("event", event).Debug("webhook: not configured, skipping event")
		return true, nil
	}
	if len(s.config.EventFilter) > 0 {
		if _, ok := s.config.EventFilter[event]; !ok {
			return true, nil
		}
	}

	payload := Payload{
		Event:         event,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TaskID:        taskID,
		Data:          data,
		BuyerAgent:    args.BuyerAgent,
		SellerAgent:   args.SellerAgent,
		Amount:        args.Amount,
		Currency:      args.Currency,
		PaymentMethod: args.PaymentMethod,
	}
	return s.deliver(ctx, payload)
}

func (s *Service) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(s.config.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) deliver(ctx context.Context, payload Payload) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	deliveryID := fmt.Sprintf("wh_%s_%s_%s", payload.TaskID, payload.Event, uuid.NewString())
	delivery := &storage.WebhookDelivery{
		ID:        deliveryID,
		TaskID:    payload.TaskID,
		Event:     string(payload.Event),
		URL:       s.config.URL,
		Payload:   body,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	ok := s.attemptWithRetries(ctx, delivery, body)
	return ok, nil
}

func (s *Service) attemptWithRetries(ctx context.Context, delivery *storage.WebhookDelivery, body []byte) bool {
	for attempt := 0; attempt < s.config.RetryCount; attempt++ {
		delivery.Attempts = attempt + 1

		code, respBody, err := s.post(ctx, body, delivery.Event)
		delivery.ResponseCode = code
		if err == nil && code >= 200 && code < 300 {
			now := time.Now().UTC()
			delivery.Status = "delivered"
			delivery.DeliveredAt = &now
			s.saveDelivery(ctx, delivery)
			s.log.WithField("delivery_id", delivery.ID).Info("webhook delivered")
			return true
		}

		if err != nil {
			delivery.LastError = err.Error()
		} else {
			delivery.LastError = fmt.Sprintf("HTTP %d: %s", code, truncate(respBody, 200))
		}
		s.log.WithField("delivery_id", delivery.ID).WithField("attempt", attempt+1).Warn("webhook delivery failed")

		if attempt < s.config.RetryCount-1 {
			delay := s.config.RetryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				break
			case <-time.After(delay):
			}
		}
	}

	delivery.Status = "failed"
	s.saveDelivery(ctx, delivery)
	s.log.WithField("delivery_id", delivery.ID).Error("webhook failed after all retries")
	return false
}

func (s *Service) post(ctx context.Context, body []byte, event string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ACN-Event", event)
	req.Header.Set("X-ACN-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if s.config.Secret != "" {
		req.Header.Set("X-ACN-Signature", "sha256="+s.sign(body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, nil
}

func (s *Service) saveDelivery(ctx context.Context, d *storage.WebhookDelivery) {
	if err := s.deliveries.Save(ctx, d); err != nil {
		s.log.WithField("error", err).Warn("webhook: failed to persist delivery record")
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// History returns a task's webhook delivery history, newest first.
func (s *Service) History(ctx context.Context, taskID string, limit int) ([]*storage.WebhookDelivery, error) {
	if taskID != "" {
		return s.deliveries.FindByTask(ctx, taskID, limit)
	}
	return s.deliveries.FindRecent(ctx, limit)
}

// RetryDelivery re-attempts a previously failed delivery by id.
func (s *Service) RetryDelivery(ctx context.Context, deliveryID string) (bool, error) {
	d, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, fmt.Errorf("webhook: delivery not found: %s", deliveryID)
	}
	if d.Status != "failed" {
		return false, fmt.Errorf("webhook: delivery %s is not failed (status=%s)", deliveryID, d.Status)
	}
	d.Attempts = 0
	d.Status = "pending"
	return s.attemptWithRetries(ctx, d, d.Payload), nil
}

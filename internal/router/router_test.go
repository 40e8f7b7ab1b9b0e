package router

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/storage/memory"
)

// fakeDeliverer lets tests control exactly which agent IDs fail delivery,
// standing in for both the direct A2A client and the gateway tunnel.
type fakeDeliverer struct {
	mu          sync.Mutex
	unreachable map[string]bool
	delivered   []string
}

func (d *fakeDeliverer) Deliver(ctx context.Context, a *agent.Agent, message a2a.Message) (*a2a.DeliverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unreachable[a.AgentID] {
		return nil, fmt.Errorf("agent %s unreachable", a.AgentID)
	}
	d.delivered = append(d.delivered, a.AgentID)
	return &a2a.DeliverResult{Accepted: true}, nil
}

type testFixture struct {
	router  *Router
	reg     *registry.Registry
	deliver *fakeDeliverer
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	reg := registry.New(memory.NewAgentStore(), memory.NewLivenessStore(), memory.NewAuditStore(), nil, logger.NewDefault("router-test"))
	deliver := &fakeDeliverer{unreachable: make(map[string]bool)}
	r := New(reg, deliver, memory.NewMessageHistoryStore(), memory.NewDLQStore(), memory.NewBroadcastResultStore(), memory.NewAuditStore(), logger.NewDefault("router-test"))
	return &testFixture{router: r, reg: reg, deliver: deliver}
}

func (f *testFixture) registerAgent(t *testing.T, name string, skills ...string) *agent.Agent {
	t.Helper()
	a, err := f.reg.Register(context.Background(), registry.RegisterParams{
		Owner: "owner-1", Name: name, Endpoint: "https://" + name + ".example.com", Skills: skills,
	})
	require.NoError(t, err)
	return a
}

func TestRouteDeliversAndRecordsHistory(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "sender")
	to := f.registerAgent(t, "receiver")

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("hello"))
	_, err := f.router.Route(context.Background(), from.AgentID, to.AgentID, msg)
	require.NoError(t, err)

	history, err := f.router.History(context.Background(), to.AgentID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Success)
}

func TestRouteUnreachableRecipientEnqueuesDLQ(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "sender2")
	to := f.registerAgent(t, "receiver2")
	f.deliver.unreachable[to.AgentID] = true

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("hello"))
	_, err := f.router.Route(context.Background(), from.AgentID, to.AgentID, msg)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindExternalUnavailable))

	entries, err := f.router.dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, to.AgentID, entries[0].ToAgentID)
}

// TestBroadcastBestEffortCollectsExactlyOneDLQEntry exercises the S6-style
// scenario: one unreachable recipient among several produces exactly one
// DLQ entry while the rest succeed.
func TestBroadcastBestEffortCollectsExactlyOneDLQEntry(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "broadcaster")
	ok1 := f.registerAgent(t, "ok-one")
	ok2 := f.registerAgent(t, "ok-two")
	bad := f.registerAgent(t, "bad-one")
	f.deliver.unreachable[bad.AgentID] = true

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("broadcast"))
	result, err := f.router.Broadcast(context.Background(), from.AgentID,
		[]string{ok1.AgentID, ok2.AgentID, bad.AgentID}, msg, StrategyBestEffort)
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	require.Equal(t, bad.AgentID, result.Failed[0])

	entries, err := f.router.dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fetched, err := f.router.GetBroadcastResult(context.Background(), result.BroadcastID)
	require.NoError(t, err)
	require.Equal(t, result.BroadcastID, fetched.BroadcastID)
}

func TestRouteBySkillPrefersOnlineCandidate(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "requester")
	_ = f.registerAgent(t, "solver", "math")

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("solve this"))
	result, err := f.router.RouteBySkill(context.Background(), from.AgentID, []string{"math"}, msg)
	require.NoError(t, err)
	require.True(t, result.Accepted)
}

func TestRouteBySkillNoMatchReturnsNotFound(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "requester2")

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("solve this"))
	_, err := f.router.RouteBySkill(context.Background(), from.AgentID, []string{"nonexistent-skill"}, msg)
	require.True(t, errors.Is(err, errors.KindNotFound))
}

// TestRetryDLQRoundtrip exercises the S8-style scenario: a dead-lettered
// message is retried once the recipient becomes reachable, and removed
// from the queue.
func TestRetryDLQRoundtrip(t *testing.T) {
	f := newTestFixture(t)
	from := f.registerAgent(t, "retry-sender")
	to := f.registerAgent(t, "retry-receiver")
	f.deliver.unreachable[to.AgentID] = true

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewTextPart("will fail then succeed"))
	_, err := f.router.Route(context.Background(), from.AgentID, to.AgentID, msg)
	require.Error(t, err)

	entries, err := f.router.dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f.deliver.unreachable[to.AgentID] = false
	retried, dropped, err := f.router.RetryDLQ(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 1, retried)
	require.Equal(t, 0, dropped)

	entries, err = f.router.dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestHandleIncomingDispatchesBySpecificThenWildcard(t *testing.T) {
	f := newTestFixture(t)

	var calls []string
	f.router.RegisterHandler("greeting", func(ctx context.Context, from string, message a2a.Message) error {
		calls = append(calls, "specific")
		return nil
	})
	f.router.RegisterHandler("*", func(ctx context.Context, from string, message a2a.Message) error {
		calls = append(calls, "wildcard")
		return nil
	})

	msg := a2a.NewMessage(a2a.RoleAgent, a2a.NewDataPart(map[string]any{"type": "greeting"}))
	err := f.router.HandleIncoming(context.Background(), "some-agent", msg)
	require.NoError(t, err)
	require.Equal(t, []string{"specific", "wildcard"}, calls)
}

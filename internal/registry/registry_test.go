package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/storage/memory"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(memory.NewAgentStore(), memory.NewLivenessStore(), memory.NewAuditStore(), nil, logger.NewDefault("registry-test"))
}

// TestRegisterIsIdempotentByOwnerEndpoint exercises the S1-style scenario:
// registering the same (owner, endpoint) pair twice updates the existing
// agent record rather than creating a second one.
func TestRegisterIsIdempotentByOwnerEndpoint(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, RegisterParams{
		Owner:    "owner-1",
		Name:     "Summarizer",
		Endpoint: "https://agents.example.com/summarizer",
		Skills:   []string{"summarize"},
	})
	require.NoError(t, err)

	second, err := r.Register(ctx, RegisterParams{
		Owner:    "owner-1",
		Name:     "Summarizer v2",
		Endpoint: "https://agents.example.com/summarizer",
		Skills:   []string{"summarize", "translate"},
	})
	require.NoError(t, err)

	require.Equal(t, first.AgentID, second.AgentID)
	require.Equal(t, "Summarizer v2", second.Name)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// TestSearchFiltersOfflineAgentsByLiveness exercises the S2-style scenario:
// an agent whose liveness key has expired is excluded from an online-only
// search even though its durable record still says online.
func TestSearchFiltersOfflineAgentsByLiveness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	alive, err := r.Register(ctx, RegisterParams{
		Owner: "owner-1", Name: "Alive", Endpoint: "https://a.example.com", Skills: []string{"code"},
	})
	require.NoError(t, err)

	stale, err := r.Register(ctx, RegisterParams{
		Owner: "owner-2", Name: "Stale", Endpoint: "https://b.example.com", Skills: []string{"code"},
	})
	require.NoError(t, err)
	// Simulate an expired liveness key without waiting out the TTL.
	require.NoError(t, r.liveness.MarkAlive(ctx, stale.AgentID, -time.Second))

	results, err := r.Search(ctx, SearchParams{Skills: []string{"code"}, Status: agent.StatusOnline})
	require.NoError(t, err)

	ids := make([]string, 0, len(results))
	for _, a := range results {
		ids = append(ids, a.AgentID)
	}
	require.Contains(t, ids, alive.AgentID)
	require.NotContains(t, ids, stale.AgentID)
}

func TestSearchRequiresAllSkillsAndSubset(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterParams{
		Owner: "owner-1", Name: "Polyglot", Endpoint: "https://poly.example.com",
		Skills: []string{"code", "translate"},
	})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterParams{
		Owner: "owner-2", Name: "CodeOnly", Endpoint: "https://code.example.com",
		Skills: []string{"code"},
	})
	require.NoError(t, err)

	results, err := r.Search(ctx, SearchParams{Skills: []string{"code", "translate"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Polyglot", results[0].Name)
}

func TestJoinClaimTransferRelease(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, apiKey, err := r.Join(ctx, "Autonomous One", "https://auto.example.com", "")
	require.NoError(t, err)
	require.NotEmpty(t, apiKey)
	require.Equal(t, agent.ClaimStatusUnclaimed, a.ClaimStatus)

	byKey, err := r.GetByAPIKey(ctx, apiKey)
	require.NoError(t, err)
	require.Equal(t, a.AgentID, byKey.AgentID)

	claimed, err := r.Claim(ctx, a.AgentID, "owner-9", a.VerificationCode)
	require.NoError(t, err)
	require.Equal(t, "owner-9", claimed.Owner)

	_, err = r.Claim(ctx, a.AgentID, "owner-10", a.VerificationCode)
	require.Error(t, err)

	transferred, err := r.Transfer(ctx, a.AgentID, "owner-9", "owner-11")
	require.NoError(t, err)
	require.Equal(t, "owner-11", transferred.Owner)

	_, err = r.Transfer(ctx, a.AgentID, "owner-9", "owner-12")
	require.True(t, errors.Is(err, errors.KindPermissionDenied))

	require.NoError(t, r.Release(ctx, a.AgentID, "owner-11"))
	released, err := r.Get(ctx, a.AgentID)
	require.NoError(t, err)
	require.Empty(t, released.Owner)
}

func TestHeartbeatRenewsLiveness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, _, err := r.Join(ctx, "Heartbeats", "https://hb.example.com", "")
	require.NoError(t, err)

	require.NoError(t, r.liveness.MarkAlive(ctx, a.AgentID, -time.Second))
	alive, err := r.liveness.IsAlive(ctx, a.AgentID)
	require.NoError(t, err)
	require.False(t, alive)

	require.NoError(t, r.Heartbeat(ctx, a.AgentID))
	alive, err = r.liveness.IsAlive(ctx, a.AgentID)
	require.NoError(t, err)
	require.True(t, alive)
}

// TestLivenessWatchdogMarksExpiredAgentsOffline exercises the watchdog
// sweep directly: an agent whose durable status is still online but whose
// liveness key has expired is transitioned to offline on one pass.
func TestLivenessWatchdogMarksExpiredAgentsOffline(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Register(ctx, RegisterParams{Owner: "owner-1", Name: "Flaky", Endpoint: "https://flaky.example.com"})
	require.NoError(t, err)
	require.NoError(t, r.liveness.MarkAlive(ctx, a.AgentID, -time.Second))

	r.sweepOfflineAgents(ctx)

	refreshed, err := r.Get(ctx, a.AgentID)
	require.NoError(t, err)
	require.Equal(t, agent.StatusOffline, refreshed.Status)
}

func TestUnregisterRequiresOwnerMatch(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Register(ctx, RegisterParams{Owner: "owner-1", Name: "Removable", Endpoint: "https://rm.example.com"})
	require.NoError(t, err)

	err = r.Unregister(ctx, a.AgentID, "owner-2")
	require.True(t, errors.Is(err, errors.KindPermissionDenied))

	require.NoError(t, r.Unregister(ctx, a.AgentID, "owner-1"))
	_, err = r.Get(ctx, a.AgentID)
	require.True(t, errors.Is(err, errors.KindNotFound))
}

// Package registry implements C2: agent identity and liveness (spec §4.2).
// Grounded on original_source/acn/registry.py (Redis-backed AgentRegistry)
// and infrastructure/persistence/redis/registry.py for the natural-key
// idempotency and index-maintenance behavior.
package registry

import (
	"context"
	"time"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/storage"
)

const (
	graceLivenessTTL  = 30 * time.Minute
	activeLivenessTTL = 60 * time.Minute
)

// CredentialIssuer requests machine-to-machine credentials for a newly
// registered agent. A failure here must never fail registration (spec
// §4.2 Register: "failure to obtain credentials does not fail
// registration").
type CredentialIssuer interface {
	IssueCredentials(ctx context.Context, agentID, owner string) error
}

// Registry is the C2 service.
type Registry struct {
	agents   storage.AgentRepository
	liveness storage.LivenessStore
	audit    storage.AuditRepository
	issuer   CredentialIssuer
	log      *logger.Logger
}

// New constructs a Registry. issuer may be nil if no credential-issuance
// collaborator is configured.
func New(agents storage.AgentRepository, liveness storage.LivenessStore, auditRepo storage.AuditRepository, issuer CredentialIssuer, log *logger.Logger) *Registry {
	return &Registry{agents: agents, liveness: liveness, audit: auditRepo, issuer: issuer, log: log}
}

// RegisterParams bundles the platform-managed Register inputs.
type RegisterParams struct {
	Owner       string
	Name        string
	Endpoint    string
	Skills      []string
	SubnetIDs   []string
	Description string
	Metadata    map[string]any
	Card        *a2a.AgentCard
}

// Register implements spec §4.2 Register (platform-managed): idempotent by
// (owner, endpoint), always online with a renewed 60-minute liveness TTL.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (*agent.Agent, error) {
	existing, err := r.agents.FindByEndpoint(ctx, p.Owner, p.Endpoint)
	var a *agent.Agent
	if err == nil {
		a = existing
		a.Name = p.Name
		a.Skills = toSet(p.Skills)
		a.SubnetIDs = normalizeSubnetSet(p.SubnetIDs)
		a.Description = p.Description
		a.Metadata = p.Metadata
		a.Status = agent.StatusOnline
		a.LastHeartbeat = time.Now().UTC()
	} else if !errors.Is(err, errors.KindNotFound) {
		return nil, errors.Internal("lookup agent by endpoint", err)
	} else {
		a, err = agent.NewPlatformManaged(p.Owner, p.Name, p.Endpoint, p.Skills, p.SubnetIDs, p.Metadata)
		if err != nil {
			return nil, errors.ValidationError("agent", err.Error())
		}
		a.Description = p.Description
	}

	if err := r.agents.Save(ctx, a); err != nil {
		return nil, errors.Internal("save agent", err)
	}
	if err := r.liveness.MarkAlive(ctx, a.AgentID, activeLivenessTTL); err != nil {
		return nil, errors.Internal("mark agent alive", err)
	}

	if r.issuer != nil {
		go func() {
			if err := r.issuer.IssueCredentials(context.Background(), a.AgentID, a.Owner); err != nil {
				r.log.WithField("agent_id", a.AgentID).WithField("error", err).Warn("credential issuance failed")
			}
		}()
	}

	r.recordAudit(ctx, audit.EventAgentRegistered, a.AgentID, "agent")
	return a, nil
}

// Join implements spec §4.2 Join (autonomous): mints identity, API key, and
// verification code; returns the plaintext API key once.
func (r *Registry) Join(ctx context.Context, name, endpoint, referrerID string) (*agent.Agent, string, error) {
	a, apiKey, err := agent.NewAutonomous(name, endpoint, referrerID)
	if err != nil {
		return nil, "", errors.ValidationError("agent", err.Error())
	}
	if err := r.agents.Save(ctx, a); err != nil {
		return nil, "", errors.Internal("save agent", err)
	}
	if err := r.liveness.MarkAlive(ctx, a.AgentID, graceLivenessTTL); err != nil {
		return nil, "", errors.Internal("mark agent alive", err)
	}
	r.recordAudit(ctx, audit.EventAgentRegistered, a.AgentID, "agent")
	return a, apiKey, nil
}

// Claim implements spec §4.2 Claim.
func (r *Registry) Claim(ctx context.Context, agentID, newOwner, code string) (*agent.Agent, error) {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := a.Claim(newOwner, code); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := r.agents.Save(ctx, a); err != nil {
		return nil, errors.Internal("save agent", err)
	}
	return a, nil
}

// Transfer implements spec §4.2 Transfer, requiring the caller to already
// own the agent.
func (r *Registry) Transfer(ctx context.Context, agentID, callerOwner, newOwner string) (*agent.Agent, error) {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.Owner != callerOwner {
		return nil, errors.PermissionDenied("caller does not own this agent")
	}
	a.Transfer(newOwner)
	if err := r.agents.Save(ctx, a); err != nil {
		return nil, errors.Internal("save agent", err)
	}
	return a, nil
}

// Release implements spec §4.2 Release.
func (r *Registry) Release(ctx context.Context, agentID, callerOwner string) error {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if a.Owner != callerOwner {
		return errors.PermissionDenied("caller does not own this agent")
	}
	a.Release()
	return r.agents.Save(ctx, a)
}

// Heartbeat implements spec §4.2 Heartbeat: renews liveness to 60 minutes
// and sets status online.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	a.Heartbeat()
	if err := r.agents.Save(ctx, a); err != nil {
		return errors.Internal("save agent", err)
	}
	return r.liveness.MarkAlive(ctx, agentID, activeLivenessTTL)
}

// SearchParams selects the optional filters of Search (spec §4.2: "skills
// (AND semantics), subnet, owner, name-substring, status").
type SearchParams struct {
	Skills     []string
	SubnetID   string
	Owner      string
	NameSubstr string
	Status     agent.Status
}

// Search implements spec §4.2 Search, intersecting an online-status filter
// with the liveness store's existence check.
func (r *Registry) Search(ctx context.Context, p SearchParams) ([]*agent.Agent, error) {
	filter := storage.AgentFilter{Owner: p.Owner, SubnetID: p.SubnetID, NameSubstr: p.NameSubstr}
	if len(p.Skills) > 0 {
		filter.Skill = p.Skills[0]
	}
	if p.Status != "" {
		filter.Status = p.Status
	}

	candidates, err := r.agents.Find(ctx, filter)
	if err != nil {
		return nil, errors.Internal("search agents", err)
	}

	var out []*agent.Agent
	for _, a := range candidates {
		if !a.HasSkills(p.Skills) {
			continue
		}
		if p.Status == agent.StatusOnline {
			alive, err := r.liveness.IsAlive(ctx, a.AgentID)
			if err != nil || !alive {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Unregister implements spec §4.2 Unregister: owner must match.
func (r *Registry) Unregister(ctx context.Context, agentID, callerOwner string) error {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if callerOwner != "" && a.Owner != callerOwner {
		return errors.PermissionDenied("caller does not own this agent")
	}
	if err := r.agents.Delete(ctx, agentID); err != nil {
		return err
	}
	_ = r.liveness.Remove(ctx, agentID)
	r.recordAudit(ctx, audit.EventAgentUnregistered, agentID, "agent")
	return nil
}

// GetByAPIKey resolves the caller identity for agent-authenticated requests.
func (r *Registry) GetByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error) {
	return r.agents.FindByAPIKey(ctx, apiKey)
}

// Get returns an agent by id.
func (r *Registry) Get(ctx context.Context, agentID string) (*agent.Agent, error) {
	return r.agents.FindByID(ctx, agentID)
}

// Count returns the total number of registered agents.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.agents.Count(ctx)
}

// BindOnChainIdentity attaches an ERC-8004-style on-chain identity to an
// agent, enforcing spec §3 invariant iv: a bound token id must be globally
// unique, checked via the agents:by_erc8004_id reverse index before saving.
func (r *Registry) BindOnChainIdentity(ctx context.Context, agentID, callerOwner, chainNamespace, tokenID, txHash string) (*agent.Agent, error) {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if callerOwner != "" && a.Owner != callerOwner {
		return nil, errors.PermissionDenied("caller does not own this agent")
	}

	existing, err := r.agents.FindByTokenID(ctx, tokenID)
	if err == nil && existing.AgentID != agentID {
		return nil, errors.Conflict("token id already bound to another agent").WithDetail("agent_id", existing.AgentID)
	}
	if err != nil && !errors.Is(err, errors.KindNotFound) {
		return nil, errors.Internal("lookup agent by token id", err)
	}

	if err := a.BindOnChainIdentity(chainNamespace, tokenID, txHash); err != nil {
		return nil, errors.InvalidState(err.Error())
	}
	if err := r.agents.Save(ctx, a); err != nil {
		return nil, errors.Internal("save agent", err)
	}
	r.recordAudit(ctx, audit.EventAgentOnChainBound, agentID, "agent")
	return a, nil
}

// SetMetadataField merges a single key into an agent's metadata map and
// persists it, e.g. payment.Capability under "payment_capability".
func (r *Registry) SetMetadataField(ctx context.Context, agentID, key string, value any) (*agent.Agent, error) {
	a, err := r.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
	if err := r.agents.Save(ctx, a); err != nil {
		return nil, errors.Internal("save agent", err)
	}
	return a, nil
}

// RunLivenessWatchdog runs the fixed-period background scan described in
// spec §4.2 "Liveness watchdog" until ctx is cancelled: agents the durable
// store still marks online whose liveness key has expired are transitioned
// to offline. This is the only place the durable status field transitions
// to offline automatically.
func (r *Registry) RunLivenessWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOfflineAgents(ctx)
		}
	}
}

// sweepOfflineAgents runs one watchdog pass.
func (r *Registry) sweepOfflineAgents(ctx context.Context) {
	online, err := r.agents.Find(ctx, storage.AgentFilter{Status: agent.StatusOnline})
	if err != nil {
		r.log.WithField("error", err).Warn("registry: liveness watchdog failed to list online agents")
		return
	}
	for _, a := range online {
		alive, err := r.liveness.IsAlive(ctx, a.AgentID)
		if err != nil {
			r.log.WithField("error", err).WithField("agent_id", a.AgentID).Warn("registry: liveness watchdog check failed")
			continue
		}
		if alive {
			continue
		}
		a.MarkOffline()
		if err := r.agents.Save(ctx, a); err != nil {
			r.log.WithField("error", err).WithField("agent_id", a.AgentID).Warn("registry: liveness watchdog failed to save agent")
			continue
		}
		r.recordAudit(ctx, audit.EventAgentStatusChanged, a.AgentID, "system")
	}
}

func (r *Registry) recordAudit(ctx context.Context, eventType audit.EventType, agentID, actorType string) {
	if r.audit == nil {
		return
	}
	_ = r.audit.Save(ctx, audit.New(eventType, agentID, actorType))
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func normalizeSubnetSet(ids []string) map[string]struct{} {
	set := toSet(ids)
	if len(set) == 0 {
		set[agent.SubnetPublic] = struct{}{}
	}
	return set
}

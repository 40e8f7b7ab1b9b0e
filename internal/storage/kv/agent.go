package kv

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/domain/agent"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// AgentStore is the Redis-backed AgentRepository, grounded on
// original_source/acn/infrastructure/persistence/redis/registry.py's
// key layout (acn:agent:{id}, plus by_endpoint/by_apikey/by_skill/
// by_subnet/by_owner/by_status secondary indices).
type AgentStore struct{ Store }

// NewAgentStore wraps rdb as an AgentRepository.
func NewAgentStore(rdb *redis.Client) *AgentStore { return &AgentStore{newStore(rdb)} }

var _ storage.AgentRepository = (*AgentStore)(nil)

type agentDoc struct {
	AgentID          string         `json:"agent_id"`
	Owner            string         `json:"owner"`
	Endpoint         string         `json:"endpoint"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Skills           []string       `json:"skills"`
	SubnetIDs        []string       `json:"subnet_ids"`
	Status           string         `json:"status"`
	RegisteredAt     time.Time      `json:"registered_at"`
	LastHeartbeat    time.Time      `json:"last_heartbeat"`
	OwnerChangedAt   time.Time      `json:"owner_changed_at"`
	APIKey           string         `json:"api_key"`
	ClaimStatus      string         `json:"claim_status"`
	VerificationCode string         `json:"verification_code"`
	ReferrerID       string         `json:"referrer_id"`
	WalletAddress    string         `json:"wallet_address"`
	OwnerShare       float64        `json:"owner_share"`
	OnChain          *onChainDoc    `json:"on_chain,omitempty"`
	Metadata         map[string]any `json:"metadata"`
}

type onChainDoc struct {
	ChainNamespace string `json:"chain_namespace"`
	TokenID        string `json:"token_id"`
	TxHash         string `json:"tx_hash"`
}

func toAgentDoc(a *agent.Agent) *agentDoc {
	d := &agentDoc{
		AgentID:          a.AgentID,
		Owner:            a.Owner,
		Endpoint:         a.Endpoint,
		Name:             a.Name,
		Description:      a.Description,
		Skills:           fromSet(a.Skills),
		SubnetIDs:        fromSet(a.SubnetIDs),
		Status:           string(a.Status),
		RegisteredAt:     a.RegisteredAt,
		LastHeartbeat:    a.LastHeartbeat,
		OwnerChangedAt:   a.OwnerChangedAt,
		APIKey:           a.APIKey,
		ClaimStatus:      string(a.ClaimStatus),
		VerificationCode: a.VerificationCode,
		ReferrerID:       a.ReferrerID,
		WalletAddress:    a.WalletAddress,
		OwnerShare:       a.OwnerShare,
		Metadata:         a.Metadata,
	}
	if a.OnChain != nil {
		d.OnChain = &onChainDoc{
			ChainNamespace: a.OnChain.ChainNamespace,
			TokenID:        a.OnChain.TokenID,
			TxHash:         a.OnChain.TxHash,
		}
	}
	return d
}

func (d *agentDoc) toDomain() *agent.Agent {
	a := &agent.Agent{
		AgentID:          d.AgentID,
		Owner:            d.Owner,
		Endpoint:         d.Endpoint,
		Name:             d.Name,
		Description:      d.Description,
		Skills:           toSet(d.Skills),
		SubnetIDs:        toSet(d.SubnetIDs),
		Status:           agent.Status(d.Status),
		RegisteredAt:     d.RegisteredAt,
		LastHeartbeat:    d.LastHeartbeat,
		OwnerChangedAt:   d.OwnerChangedAt,
		APIKey:           d.APIKey,
		ClaimStatus:      agent.ClaimStatus(d.ClaimStatus),
		VerificationCode: d.VerificationCode,
		ReferrerID:       d.ReferrerID,
		WalletAddress:    d.WalletAddress,
		OwnerShare:       d.OwnerShare,
		Metadata:         d.Metadata,
	}
	if d.OnChain != nil {
		a.OnChain = &agent.OnChainIdentity{
			ChainNamespace: d.OnChain.ChainNamespace,
			TokenID:        d.OnChain.TokenID,
			TxHash:         d.OnChain.TxHash,
		}
	}
	return a
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (s *AgentStore) loadAgent(ctx context.Context, key string) (*agent.Agent, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, acnerrors.Internal("get agent", err)
	}
	var doc agentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, acnerrors.Internal("decode agent", err)
	}
	return doc.toDomain(), nil
}

// Save upserts an agent and its secondary indices, removing the agent from
// any index it no longer belongs to (mirrors registry.py's existing-vs-new
// index cleanup in register_agent/save).
func (s *AgentStore) Save(ctx context.Context, a *agent.Agent) error {
	key := agentKey(a.AgentID)
	prev, err := s.loadAgent(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(toAgentDoc(a))
	if err != nil {
		return acnerrors.Internal("encode agent", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, 0)
	pipe.SAdd(ctx, agentsAll(), a.AgentID)
	if a.Endpoint != "" {
		pipe.HSet(ctx, agentsByEndpoint(), a.Owner+"|"+a.Endpoint, a.AgentID)
	}
	if a.OnChain != nil && a.OnChain.TokenID != "" {
		pipe.HSet(ctx, agentsByTokenID(), a.OnChain.TokenID, a.AgentID)
	}
	if a.APIKey != "" {
		pipe.HSet(ctx, agentsByAPIKey(), a.APIKey, a.AgentID)
	}
	for skill := range a.Skills {
		pipe.SAdd(ctx, agentsBySkill(skill), a.AgentID)
	}
	for subnetID := range a.SubnetIDs {
		pipe.SAdd(ctx, agentsBySubnet(subnetID), a.AgentID)
	}
	if a.Owner != "" {
		pipe.SAdd(ctx, agentsByOwner(a.Owner), a.AgentID)
	}
	pipe.SAdd(ctx, agentsByStatus(string(a.Status)), a.AgentID)

	if prev != nil {
		for skill := range prev.Skills {
			if _, ok := a.Skills[skill]; !ok {
				pipe.SRem(ctx, agentsBySkill(skill), a.AgentID)
			}
		}
		for subnetID := range prev.SubnetIDs {
			if _, ok := a.SubnetIDs[subnetID]; !ok {
				pipe.SRem(ctx, agentsBySubnet(subnetID), a.AgentID)
			}
		}
		if prev.Owner != "" && prev.Owner != a.Owner {
			pipe.SRem(ctx, agentsByOwner(prev.Owner), a.AgentID)
		}
		if prev.Status != a.Status {
			pipe.SRem(ctx, agentsByStatus(string(prev.Status)), a.AgentID)
		}
		if prev.OnChain != nil && (a.OnChain == nil || prev.OnChain.TokenID != a.OnChain.TokenID) {
			pipe.HDel(ctx, agentsByTokenID(), prev.OnChain.TokenID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save agent", err)
	}
	return nil
}

// FindByID looks up an agent by id.
func (s *AgentStore) FindByID(ctx context.Context, agentID string) (*agent.Agent, error) {
	a, err := s.loadAgent(ctx, agentKey(agentID))
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, acnerrors.NotFound("agent", agentID)
	}
	return a, nil
}

// FindByAPIKey looks up an agent by its autonomous API key.
func (s *AgentStore) FindByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error) {
	id, err := s.rdb.HGet(ctx, agentsByAPIKey(), apiKey).Result()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("agent", apiKey)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by api key", err)
	}
	return s.FindByID(ctx, id)
}

// FindByEndpoint looks up an agent by its (owner, endpoint) natural key.
func (s *AgentStore) FindByEndpoint(ctx context.Context, owner, endpoint string) (*agent.Agent, error) {
	id, err := s.rdb.HGet(ctx, agentsByEndpoint(), owner+"|"+endpoint).Result()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("agent", endpoint)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by endpoint", err)
	}
	return s.FindByID(ctx, id)
}

// FindByTokenID looks up the agent bound to an on-chain token id via the
// agents:by_erc8004_id reverse index (spec §3 invariant iv).
func (s *AgentStore) FindByTokenID(ctx context.Context, tokenID string) (*agent.Agent, error) {
	id, err := s.rdb.HGet(ctx, agentsByTokenID(), tokenID).Result()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("agent", "by-token-id")
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by token id", err)
	}
	return s.FindByID(ctx, id)
}

// Find intersects the secondary-index sets matching filter's non-zero
// fields, then fetches and further filters by NameSubstr (no index for
// substring match, same as the original's in-Python fallback filtering).
func (s *AgentStore) Find(ctx context.Context, filter storage.AgentFilter) ([]*agent.Agent, error) {
	var sets []string
	if filter.Owner != "" {
		sets = append(sets, agentsByOwner(filter.Owner))
	}
	if filter.Skill != "" {
		sets = append(sets, agentsBySkill(filter.Skill))
	}
	if filter.SubnetID != "" {
		sets = append(sets, agentsBySubnet(filter.SubnetID))
	}
	if filter.Status != "" {
		sets = append(sets, agentsByStatus(string(filter.Status)))
	}

	var ids []string
	var err error
	if len(sets) == 0 {
		ids, err = s.rdb.SMembers(ctx, agentsAll()).Result()
	} else if len(sets) == 1 {
		ids, err = s.rdb.SMembers(ctx, sets[0]).Result()
	} else {
		ids, err = s.rdb.SInter(ctx, sets...).Result()
	}
	if err != nil {
		return nil, acnerrors.Internal("find agents", err)
	}

	out := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.loadAgent(ctx, agentKey(id))
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		if filter.NameSubstr != "" && !containsFold(a.Name, filter.NameSubstr) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Delete removes an agent and every index entry referencing it.
func (s *AgentStore) Delete(ctx context.Context, agentID string) error {
	a, err := s.loadAgent(ctx, agentKey(agentID))
	if err != nil {
		return err
	}
	if a == nil {
		return acnerrors.NotFound("agent", agentID)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, agentKey(agentID))
	pipe.SRem(ctx, agentsAll(), agentID)
	if a.Endpoint != "" {
		pipe.HDel(ctx, agentsByEndpoint(), a.Owner+"|"+a.Endpoint)
	}
	if a.APIKey != "" {
		pipe.HDel(ctx, agentsByAPIKey(), a.APIKey)
	}
	if a.OnChain != nil {
		pipe.HDel(ctx, agentsByTokenID(), a.OnChain.TokenID)
	}
	for skill := range a.Skills {
		pipe.SRem(ctx, agentsBySkill(skill), agentID)
	}
	for subnetID := range a.SubnetIDs {
		pipe.SRem(ctx, agentsBySubnet(subnetID), agentID)
	}
	if a.Owner != "" {
		pipe.SRem(ctx, agentsByOwner(a.Owner), agentID)
	}
	pipe.SRem(ctx, agentsByStatus(string(a.Status)), agentID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return acnerrors.Internal("delete agent", err)
	}
	return nil
}

// Exists reports whether agentID is present.
func (s *AgentStore) Exists(ctx context.Context, agentID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, agentKey(agentID)).Result()
	if err != nil {
		return false, acnerrors.Internal("check agent exists", err)
	}
	return n > 0, nil
}

// Count returns the total number of registered agents.
func (s *AgentStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, agentsAll()).Result()
	if err != nil {
		return 0, acnerrors.Internal("count agents", err)
	}
	return int(n), nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Package memory is an in-memory implementation of every repository
// contract in internal/storage, used by tests.
// Grounded on the teacher's infrastructure/database mock repository:
// sync.RWMutex-guarded maps, one file per entity group.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// AgentStore is an in-memory AgentRepository.
type AgentStore struct {
	mu        sync.RWMutex
	agents    map[string]*agent.Agent
	byKey     map[string]string // api_key -> agent_id
	byTokenID map[string]string // erc8004 token_id -> agent_id
}

// NewAgentStore builds an empty AgentStore.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		agents:    make(map[string]*agent.Agent),
		byKey:     make(map[string]string),
		byTokenID: make(map[string]string),
	}
}

var _ storage.AgentRepository = (*AgentStore)(nil)

func cloneAgent(a *agent.Agent) *agent.Agent {
	cp := *a
	cp.Skills = cloneSet(a.Skills)
	cp.SubnetIDs = cloneSet(a.SubnetIDs)
	return &cp
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Save upserts an agent by id.
func (s *AgentStore) Save(ctx context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.agents[a.AgentID]; ok && prev.OnChain != nil {
		if a.OnChain == nil || a.OnChain.TokenID != prev.OnChain.TokenID {
			delete(s.byTokenID, prev.OnChain.TokenID)
		}
	}
	s.agents[a.AgentID] = cloneAgent(a)
	if a.APIKey != "" {
		s.byKey[a.APIKey] = a.AgentID
	}
	if a.OnChain != nil && a.OnChain.TokenID != "" {
		s.byTokenID[a.OnChain.TokenID] = a.AgentID
	}
	return nil
}

// FindByTokenID looks up the agent bound to an on-chain token id, enforcing
// spec §3 invariant iv's global-uniqueness requirement.
func (s *AgentStore) FindByTokenID(ctx context.Context, tokenID string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTokenID[tokenID]
	if !ok {
		return nil, errors.NotFound("agent", "by-token-id")
	}
	return cloneAgent(s.agents[id]), nil
}

// FindByID looks up an agent by id.
func (s *AgentStore) FindByID(ctx context.Context, agentID string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	return cloneAgent(a), nil
}

// FindByAPIKey looks up an agent by its plaintext API key.
func (s *AgentStore) FindByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[apiKey]
	if !ok {
		return nil, errors.NotFound("agent", "by-api-key")
	}
	return cloneAgent(s.agents[id]), nil
}

// FindByEndpoint supports the Register flow's owner+endpoint idempotency
// check (spec §4.2).
func (s *AgentStore) FindByEndpoint(ctx context.Context, owner, endpoint string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Owner == owner && a.Endpoint == endpoint {
			return cloneAgent(a), nil
		}
	}
	return nil, errors.NotFound("agent", "by-endpoint")
}

// Find lists agents matching every non-zero field of filter.
func (s *AgentStore) Find(ctx context.Context, filter storage.AgentFilter) ([]*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range s.agents {
		if filter.Owner != "" && a.Owner != filter.Owner {
			continue
		}
		if filter.Skill != "" {
			if _, ok := a.Skills[filter.Skill]; !ok {
				continue
			}
		}
		if filter.SubnetID != "" {
			if _, ok := a.SubnetIDs[filter.SubnetID]; !ok {
				continue
			}
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.NameSubstr != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(filter.NameSubstr)) {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	return out, nil
}

// Delete removes an agent.
func (s *AgentStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return errors.NotFound("agent", agentID)
	}
	delete(s.agents, agentID)
	if a.APIKey != "" {
		delete(s.byKey, a.APIKey)
	}
	if a.OnChain != nil {
		delete(s.byTokenID, a.OnChain.TokenID)
	}
	return nil
}

// Exists reports whether agentID is present.
func (s *AgentStore) Exists(ctx context.Context, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok, nil
}

// Count returns the total number of agents.
func (s *AgentStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents), nil
}

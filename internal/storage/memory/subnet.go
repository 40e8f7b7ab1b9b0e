package memory

import (
	"context"
	"sync"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// SubnetStore is an in-memory SubnetRepository.
type SubnetStore struct {
	mu      sync.RWMutex
	subnets map[string]*agent.Subnet
}

// NewSubnetStore builds an empty SubnetStore.
func NewSubnetStore() *SubnetStore {
	return &SubnetStore{subnets: make(map[string]*agent.Subnet)}
}

var _ storage.SubnetRepository = (*SubnetStore)(nil)

func cloneSubnet(s *agent.Subnet) *agent.Subnet {
	cp := *s
	cp.SecuritySchemes = make(map[string]agent.SecurityScheme, len(s.SecuritySchemes))
	for k, v := range s.SecuritySchemes {
		cp.SecuritySchemes[k] = v
	}
	cp.MemberAgentIDs = cloneSet(s.MemberAgentIDs)
	return &cp
}

// Save upserts a subnet by id.
func (s *SubnetStore) Save(ctx context.Context, sub *agent.Subnet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subnets[sub.SubnetID] = cloneSubnet(sub)
	return nil
}

// FindByID looks up a subnet by id.
func (s *SubnetStore) FindByID(ctx context.Context, subnetID string) (*agent.Subnet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subnets[subnetID]
	if !ok {
		return nil, errors.NotFound("subnet", subnetID)
	}
	return cloneSubnet(sub), nil
}

// FindByOwner lists subnets owned by owner.
func (s *SubnetStore) FindByOwner(ctx context.Context, owner string) ([]*agent.Subnet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*agent.Subnet
	for _, sub := range s.subnets {
		if sub.Owner == owner {
			out = append(out, cloneSubnet(sub))
		}
	}
	return out, nil
}

// Delete removes a subnet.
func (s *SubnetStore) Delete(ctx context.Context, subnetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subnets[subnetID]; !ok {
		return errors.NotFound("subnet", subnetID)
	}
	delete(s.subnets, subnetID)
	return nil
}

// Exists reports whether subnetID is present.
func (s *SubnetStore) Exists(ctx context.Context, subnetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subnets[subnetID]
	return ok, nil
}

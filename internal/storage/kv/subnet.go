package kv

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/acn/internal/domain/agent"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// SubnetStore is the Redis-backed SubnetRepository, grounded on
// original_source/acn/infrastructure/persistence/redis/subnet_repository.py.
type SubnetStore struct{ Store }

// NewSubnetStore wraps rdb as a SubnetRepository.
func NewSubnetStore(rdb *redis.Client) *SubnetStore { return &SubnetStore{newStore(rdb)} }

var _ storage.SubnetRepository = (*SubnetStore)(nil)

type subnetDoc struct {
	SubnetID        string                       `json:"subnet_id"`
	Name            string                       `json:"name"`
	Owner           string                       `json:"owner"`
	IsPrivate       bool                         `json:"is_private"`
	SecuritySchemes map[string]securitySchemeDoc `json:"security_schemes"`
	MemberAgentIDs  []string                     `json:"member_agent_ids"`
}

type securitySchemeDoc struct {
	Type       string `json:"type"`
	SecretHash []byte `json:"secret_hash"`
}

func toSubnetDoc(s *agent.Subnet) *subnetDoc {
	schemes := make(map[string]securitySchemeDoc, len(s.SecuritySchemes))
	for name, scheme := range s.SecuritySchemes {
		schemes[name] = securitySchemeDoc{Type: string(scheme.Type), SecretHash: scheme.SecretHash}
	}
	return &subnetDoc{
		SubnetID:        s.SubnetID,
		Name:            s.Name,
		Owner:           s.Owner,
		IsPrivate:       s.IsPrivate,
		SecuritySchemes: schemes,
		MemberAgentIDs:  fromSet(s.MemberAgentIDs),
	}
}

func (d *subnetDoc) toDomain() *agent.Subnet {
	schemes := make(map[string]agent.SecurityScheme, len(d.SecuritySchemes))
	for name, scheme := range d.SecuritySchemes {
		schemes[name] = agent.SecurityScheme{Type: agent.SchemeType(scheme.Type), SecretHash: scheme.SecretHash}
	}
	return &agent.Subnet{
		SubnetID:        d.SubnetID,
		Name:            d.Name,
		Owner:           d.Owner,
		IsPrivate:       d.IsPrivate,
		SecuritySchemes: schemes,
		MemberAgentIDs:  toSet(d.MemberAgentIDs),
	}
}

// Save upserts a subnet and its owner index.
func (s *SubnetStore) Save(ctx context.Context, sub *agent.Subnet) error {
	raw, err := json.Marshal(toSubnetDoc(sub))
	if err != nil {
		return acnerrors.Internal("encode subnet", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, subnetKey(sub.SubnetID), raw, 0)
	pipe.SAdd(ctx, subnetsAll(), sub.SubnetID)
	if sub.Owner != "" {
		pipe.SAdd(ctx, subnetsByOwner(sub.Owner), sub.SubnetID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("save subnet", err)
	}
	return nil
}

// FindByID looks up a subnet by id.
func (s *SubnetStore) FindByID(ctx context.Context, subnetID string) (*agent.Subnet, error) {
	raw, err := s.rdb.Get(ctx, subnetKey(subnetID)).Bytes()
	if err == redis.Nil {
		return nil, acnerrors.NotFound("subnet", subnetID)
	}
	if err != nil {
		return nil, acnerrors.Internal("get subnet", err)
	}
	var doc subnetDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, acnerrors.Internal("decode subnet", err)
	}
	return doc.toDomain(), nil
}

// FindByOwner lists subnets owned by owner.
func (s *SubnetStore) FindByOwner(ctx context.Context, owner string) ([]*agent.Subnet, error) {
	ids, err := s.rdb.SMembers(ctx, subnetsByOwner(owner)).Result()
	if err != nil {
		return nil, acnerrors.Internal("find subnets by owner", err)
	}
	out := make([]*agent.Subnet, 0, len(ids))
	for _, id := range ids {
		sub, err := s.FindByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// Delete removes a subnet and its owner index entry.
func (s *SubnetStore) Delete(ctx context.Context, subnetID string) error {
	sub, err := s.FindByID(ctx, subnetID)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, subnetKey(subnetID))
	pipe.SRem(ctx, subnetsAll(), subnetID)
	if sub.Owner != "" {
		pipe.SRem(ctx, subnetsByOwner(sub.Owner), subnetID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return acnerrors.Internal("delete subnet", err)
	}
	return nil
}

// Exists reports whether subnetID is present.
func (s *SubnetStore) Exists(ctx context.Context, subnetID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, subnetKey(subnetID)).Result()
	if err != nil {
		return false, acnerrors.Internal("check subnet exists", err)
	}
	return n > 0, nil
}

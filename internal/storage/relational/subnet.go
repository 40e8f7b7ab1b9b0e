package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/r3e-network/acn/internal/domain/agent"
	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/storage"
)

// SubnetStore is the Postgres-backed SubnetRepository.
type SubnetStore struct{ Store }

// NewSubnetStore wraps db as a SubnetRepository.
func NewSubnetStore(db *sqlx.DB) *SubnetStore { return &SubnetStore{newStore(db)} }

var _ storage.SubnetRepository = (*SubnetStore)(nil)

type subnetRow struct {
	SubnetID        string         `db:"subnet_id"`
	Name            string         `db:"name"`
	Owner           string         `db:"owner"`
	IsPrivate       bool           `db:"is_private"`
	SecuritySchemes []byte         `db:"security_schemes"`
	MemberAgentIDs  pq.StringArray `db:"member_agent_ids"`
}

type securitySchemeJSON struct {
	Type       string `json:"type"`
	SecretHash []byte `json:"secret_hash"`
}

func (r subnetRow) toDomain() (*agent.Subnet, error) {
	schemes := map[string]agent.SecurityScheme{}
	if len(r.SecuritySchemes) > 0 {
		var raw map[string]securitySchemeJSON
		if err := json.Unmarshal(r.SecuritySchemes, &raw); err != nil {
			return nil, err
		}
		for name, s := range raw {
			schemes[name] = agent.SecurityScheme{Type: agent.SchemeType(s.Type), SecretHash: s.SecretHash}
		}
	}
	return &agent.Subnet{
		SubnetID:        r.SubnetID,
		Name:            r.Name,
		Owner:           r.Owner,
		IsPrivate:       r.IsPrivate,
		SecuritySchemes: schemes,
		MemberAgentIDs:  toSet(r.MemberAgentIDs),
	}, nil
}

// Save upserts a subnet row.
func (s *SubnetStore) Save(ctx context.Context, sn *agent.Subnet) error {
	raw := make(map[string]securitySchemeJSON, len(sn.SecuritySchemes))
	for name, scheme := range sn.SecuritySchemes {
		raw[name] = securitySchemeJSON{Type: string(scheme.Type), SecretHash: scheme.SecretHash}
	}
	schemes, err := json.Marshal(raw)
	if err != nil {
		return acnerrors.Internal("marshal security schemes", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subnets (subnet_id, name, owner, is_private, security_schemes, member_agent_ids)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (subnet_id) DO UPDATE SET
			name = EXCLUDED.name, owner = EXCLUDED.owner, is_private = EXCLUDED.is_private,
			security_schemes = EXCLUDED.security_schemes, member_agent_ids = EXCLUDED.member_agent_ids
	`, sn.SubnetID, sn.Name, sn.Owner, sn.IsPrivate, schemes, pq.Array(fromSet(sn.MemberAgentIDs)))
	if err != nil {
		return acnerrors.Internal("save subnet", err)
	}
	return nil
}

const subnetSelect = `SELECT subnet_id, name, owner, is_private, security_schemes, member_agent_ids FROM subnets`

// FindByID looks up a subnet by id.
func (s *SubnetStore) FindByID(ctx context.Context, subnetID string) (*agent.Subnet, error) {
	var row subnetRow
	err := s.db.GetContext(ctx, &row, subnetSelect+" WHERE subnet_id = $1", subnetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("subnet", subnetID)
	}
	if err != nil {
		return nil, acnerrors.Internal("find subnet", err)
	}
	return row.toDomain()
}

// FindByOwner lists every subnet owned by owner.
func (s *SubnetStore) FindByOwner(ctx context.Context, owner string) ([]*agent.Subnet, error) {
	var rows []subnetRow
	if err := s.db.SelectContext(ctx, &rows, subnetSelect+" WHERE owner = $1", owner); err != nil {
		return nil, acnerrors.Internal("list subnets", err)
	}
	out := make([]*agent.Subnet, 0, len(rows))
	for _, row := range rows {
		sn, err := row.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode subnet", err)
		}
		out = append(out, sn)
	}
	return out, nil
}

// Delete removes a subnet by id.
func (s *SubnetStore) Delete(ctx context.Context, subnetID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM subnets WHERE subnet_id = $1", subnetID)
	if err != nil {
		return acnerrors.Internal("delete subnet", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return acnerrors.NotFound("subnet", subnetID)
	}
	return nil
}

// Exists reports whether subnetID is present.
func (s *SubnetStore) Exists(ctx context.Context, subnetID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM subnets WHERE subnet_id = $1)", subnetID)
	if err != nil {
		return false, acnerrors.Internal("check subnet exists", err)
	}
	return exists, nil
}

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

// AgentStore is the Postgres-backed AgentRepository.
type AgentStore struct{ Store }

// NewAgentStore wraps db as an AgentRepository.
func NewAgentStore(db *sqlx.DB) *AgentStore { return &AgentStore{newStore(db)} }

var _ storage.AgentRepository = (*AgentStore)(nil)

type agentRow struct {
	AgentID          string         `db:"agent_id"`
	Owner            string         `db:"owner"`
	Endpoint         string         `db:"endpoint"`
	Name             string         `db:"name"`
	Description      string         `db:"description"`
	Skills           pq.StringArray `db:"skills"`
	SubnetIDs        pq.StringArray `db:"subnet_ids"`
	Status           string         `db:"status"`
	RegisteredAt     sql.NullTime   `db:"registered_at"`
	LastHeartbeat    sql.NullTime   `db:"last_heartbeat"`
	OwnerChangedAt   sql.NullTime   `db:"owner_changed_at"`
	APIKey           string         `db:"api_key"`
	ClaimStatus      string         `db:"claim_status"`
	VerificationCode string         `db:"verification_code"`
	ReferrerID       string         `db:"referrer_id"`
	WalletAddress    string         `db:"wallet_address"`
	OwnerShare       float64        `db:"owner_share"`
	OnchainNamespace string         `db:"onchain_namespace"`
	OnchainTokenID   string         `db:"onchain_token_id"`
	OnchainTxHash    string         `db:"onchain_tx_hash"`
	Metadata         []byte         `db:"metadata"`
}

func toSet(vs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		out[v] = struct{}{}
	}
	return out
}

func fromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (r agentRow) toDomain() (*agent.Agent, error) {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, err
		}
	}
	a := &agent.Agent{
		AgentID:          r.AgentID,
		Owner:            r.Owner,
		Endpoint:         r.Endpoint,
		Name:             r.Name,
		Description:      r.Description,
		Skills:           toSet(r.Skills),
		SubnetIDs:        toSet(r.SubnetIDs),
		Status:           agent.Status(r.Status),
		RegisteredAt:     r.RegisteredAt.Time,
		LastHeartbeat:    r.LastHeartbeat.Time,
		OwnerChangedAt:   r.OwnerChangedAt.Time,
		APIKey:           r.APIKey,
		ClaimStatus:      agent.ClaimStatus(r.ClaimStatus),
		VerificationCode: r.VerificationCode,
		ReferrerID:       r.ReferrerID,
		WalletAddress:    r.WalletAddress,
		OwnerShare:       r.OwnerShare,
		Metadata:         meta,
	}
	if r.OnchainNamespace != "" || r.OnchainTokenID != "" || r.OnchainTxHash != "" {
		a.OnChain = &agent.OnChainIdentity{
			ChainNamespace: r.OnchainNamespace,
			TokenID:        r.OnchainTokenID,
			TxHash:         r.OnchainTxHash,
		}
	}
	return a, nil
}

// Save upserts an agent row.
func (s *AgentStore) Save(ctx context.Context, a *agent.Agent) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return acnerrors.Internal("marshal agent metadata", err)
	}
	var ns, tok, tx string
	if a.OnChain != nil {
		ns, tok, tx = a.OnChain.ChainNamespace, a.OnChain.TokenID, a.OnChain.TxHash
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, owner, endpoint, name, description, skills, subnet_ids,
			status, registered_at, last_heartbeat, owner_changed_at, api_key, claim_status,
			verification_code, referrer_id, wallet_address, owner_share,
			onchain_namespace, onchain_token_id, onchain_tx_hash, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (agent_id) DO UPDATE SET
			owner = EXCLUDED.owner, endpoint = EXCLUDED.endpoint, name = EXCLUDED.name,
			description = EXCLUDED.description, skills = EXCLUDED.skills,
			subnet_ids = EXCLUDED.subnet_ids, status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat, owner_changed_at = EXCLUDED.owner_changed_at,
			api_key = EXCLUDED.api_key, claim_status = EXCLUDED.claim_status,
			verification_code = EXCLUDED.verification_code, referrer_id = EXCLUDED.referrer_id,
			wallet_address = EXCLUDED.wallet_address, owner_share = EXCLUDED.owner_share,
			onchain_namespace = EXCLUDED.onchain_namespace, onchain_token_id = EXCLUDED.onchain_token_id,
			onchain_tx_hash = EXCLUDED.onchain_tx_hash, metadata = EXCLUDED.metadata
	`, a.AgentID, a.Owner, a.Endpoint, a.Name, a.Description, pq.Array(fromSet(a.Skills)),
		pq.Array(fromSet(a.SubnetIDs)), string(a.Status), a.RegisteredAt, a.LastHeartbeat,
		nullableTime(a.OwnerChangedAt), a.APIKey, string(a.ClaimStatus), a.VerificationCode,
		a.ReferrerID, a.WalletAddress, a.OwnerShare, ns, tok, tx, meta)
	if err != nil {
		return acnerrors.Internal("save agent", err)
	}
	return nil
}

// FindByID looks up an agent by id.
func (s *AgentStore) FindByID(ctx context.Context, agentID string) (*agent.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, agentSelect+" WHERE agent_id = $1", agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("agent", agentID)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent", err)
	}
	return row.toDomain()
}

// FindByAPIKey looks up an agent by its autonomous API key.
func (s *AgentStore) FindByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, agentSelect+" WHERE api_key = $1", apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("agent", "api_key:"+apiKey)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by api key", err)
	}
	return row.toDomain()
}

// FindByEndpoint looks up a platform-managed agent by owner+endpoint.
func (s *AgentStore) FindByEndpoint(ctx context.Context, owner, endpoint string) (*agent.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, agentSelect+" WHERE owner = $1 AND endpoint = $2", owner, endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("agent", owner+"@"+endpoint)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by endpoint", err)
	}
	return row.toDomain()
}

// FindByTokenID looks up the agent bound to an on-chain token id, enforcing
// spec §3 invariant iv's global-uniqueness requirement. Backed by the
// partial unique index on onchain_token_id (see migrations).
func (s *AgentStore) FindByTokenID(ctx context.Context, tokenID string) (*agent.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, agentSelect+" WHERE onchain_token_id = $1", tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acnerrors.NotFound("agent", "token_id:"+tokenID)
	}
	if err != nil {
		return nil, acnerrors.Internal("find agent by token id", err)
	}
	return row.toDomain()
}

const agentSelect = `
	SELECT agent_id, owner, endpoint, name, description, skills, subnet_ids, status,
		registered_at, last_heartbeat, owner_changed_at, api_key, claim_status,
		verification_code, referrer_id, wallet_address, owner_share,
		onchain_namespace, onchain_token_id, onchain_tx_hash, metadata
	FROM agents`

// Find lists agents matching every non-zero field of filter.
func (s *AgentStore) Find(ctx context.Context, filter storage.AgentFilter) ([]*agent.Agent, error) {
	query := agentSelect + " WHERE 1=1"
	var args []any
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		query += " AND owner = $" + placeholder(len(args))
	}
	if filter.Skill != "" {
		args = append(args, filter.Skill)
		query += " AND $" + placeholder(len(args)) + " = ANY(skills)"
	}
	if filter.SubnetID != "" {
		args = append(args, filter.SubnetID)
		query += " AND $" + placeholder(len(args)) + " = ANY(subnet_ids)"
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " AND status = $" + placeholder(len(args))
	}
	if filter.NameSubstr != "" {
		args = append(args, "%"+filter.NameSubstr+"%")
		query += " AND name ILIKE $" + placeholder(len(args))
	}
	query += " ORDER BY registered_at"

	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, acnerrors.Internal("list agents", err)
	}
	out := make([]*agent.Agent, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, acnerrors.Internal("decode agent", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Delete removes an agent by id.
func (s *AgentStore) Delete(ctx context.Context, agentID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE agent_id = $1", agentID)
	if err != nil {
		return acnerrors.Internal("delete agent", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return acnerrors.NotFound("agent", agentID)
	}
	return nil
}

// Exists reports whether agentID is present.
func (s *AgentStore) Exists(ctx context.Context, agentID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM agents WHERE agent_id = $1)", agentID)
	if err != nil {
		return false, acnerrors.Internal("check agent exists", err)
	}
	return exists, nil
}

// Count returns the total number of registered agents.
func (s *AgentStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM agents"); err != nil {
		return 0, acnerrors.Internal("count agents", err)
	}
	return count, nil
}

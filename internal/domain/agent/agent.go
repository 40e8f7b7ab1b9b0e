// Package agent defines the Agent and Subnet entities (spec §3) and the
// invariants their constructors enforce.
package agent

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the agent's liveness/activity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
)

// ClaimStatus tracks whether an autonomously-joined agent has been claimed
// by an owning principal.
type ClaimStatus string

const (
	ClaimStatusUnclaimed ClaimStatus = "unclaimed"
	ClaimStatusClaimed   ClaimStatus = "claimed"
)

// Reserved subnet ids, owned by the system principal (spec §3, §9).
const (
	SubnetPublic = "public"
	SubnetSystem = "system"
	SystemOwner  = "system"
)

// OnChainIdentity carries the optional ERC-8004-style on-chain binding.
type OnChainIdentity struct {
	ChainNamespace string
	TokenID        string
	TxHash         string
}

// Agent is the registry's core identity record.
type Agent struct {
	AgentID        string
	Owner          string // empty until claimed for autonomous agents
	Endpoint       string
	Name           string
	Description    string
	Skills         map[string]struct{}
	SubnetIDs      map[string]struct{}
	Status         Status
	RegisteredAt   time.Time
	LastHeartbeat  time.Time
	OwnerChangedAt time.Time

	APIKey           string // secret, set only for autonomously-joined agents
	ClaimStatus      ClaimStatus
	VerificationCode string
	ReferrerID       string

	WalletAddress string
	OwnerShare    float64 // fraction of reward routed to Owner on earnings (spec §4.5 step 3)

	OnChain *OnChainIdentity

	Metadata map[string]any
}

// NewPlatformManaged constructs an Agent for the platform-managed Register
// flow (spec §4.2): caller-supplied identity, online immediately, no API
// key.
func NewPlatformManaged(owner, name, endpoint string, skills, subnetIDs []string, metadata map[string]any) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	ids := normalizeSubnets(subnetIDs)
	now := time.Now().UTC()
	return &Agent{
		AgentID:       uuid.NewString(),
		Owner:         owner,
		Endpoint:      endpoint,
		Name:          name,
		Skills:        toSet(skills),
		SubnetIDs:     ids,
		Status:        StatusOnline,
		RegisteredAt:  now,
		LastHeartbeat: now,
		ClaimStatus:   ClaimStatusClaimed,
		Metadata:      metadata,
	}, nil
}

// NewAutonomous constructs an Agent for the Join flow (spec §4.2): mints a
// fresh API key and verification code, unclaimed, no owner.
func NewAutonomous(name, endpoint, referrerID string) (*Agent, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("agent: name is required")
	}
	key, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}
	code, err := generateVerificationCode()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	a := &Agent{
		AgentID:          uuid.NewString(),
		Endpoint:         endpoint,
		Name:             name,
		Skills:           map[string]struct{}{},
		SubnetIDs:        normalizeSubnets(nil),
		Status:           StatusOnline,
		RegisteredAt:     now,
		LastHeartbeat:    now,
		APIKey:           key,
		ClaimStatus:      ClaimStatusUnclaimed,
		VerificationCode: code,
		ReferrerID:       referrerID,
		Metadata:         map[string]any{},
	}
	return a, key, nil
}

// Claim transitions an unclaimed agent to claimed, verifying the optional
// claim code (spec §4.2 Claim).
func (a *Agent) Claim(newOwner, code string) error {
	if a.ClaimStatus == ClaimStatusClaimed {
		return fmt.Errorf("agent: already claimed")
	}
	if a.VerificationCode != "" && a.VerificationCode != code {
		return fmt.Errorf("agent: verification code mismatch")
	}
	a.ClaimStatus = ClaimStatusClaimed
	a.Owner = newOwner
	a.OwnerChangedAt = time.Now().UTC()
	return nil
}

// Transfer changes the owning principal of an already-claimed agent.
func (a *Agent) Transfer(newOwner string) {
	a.Owner = newOwner
	a.OwnerChangedAt = time.Now().UTC()
}

// Release clears ownership, returning the agent to an unowned state.
func (a *Agent) Release() {
	a.Owner = ""
	a.OwnerChangedAt = time.Now().UTC()
}

// Heartbeat marks the agent online; liveness TTL renewal happens in the
// ephemeral store, not here (spec §4.1/§4.2).
func (a *Agent) Heartbeat() {
	a.Status = StatusOnline
	a.LastHeartbeat = time.Now().UTC()
}

// MarkOffline is invoked only by the liveness watchdog (spec §4.2).
func (a *Agent) MarkOffline() {
	a.Status = StatusOffline
}

// BindOnChainIdentity attaches an ERC-8004-style on-chain identity to the
// agent. Uniqueness of the token id across the registry is enforced by the
// caller (registry.BindOnChainIdentity) via the storage reverse index, not
// here (spec §3 invariant iv).
func (a *Agent) BindOnChainIdentity(chainNamespace, tokenID, txHash string) error {
	if chainNamespace == "" || tokenID == "" {
		return fmt.Errorf("agent: chain_namespace and token_id are required")
	}
	if a.OnChain != nil && a.OnChain.TokenID != tokenID {
		return fmt.Errorf("agent: already bound to a different on-chain identity")
	}
	a.OnChain = &OnChainIdentity{ChainNamespace: chainNamespace, TokenID: tokenID, TxHash: txHash}
	return nil
}

// HasSkills reports whether the agent has every skill in required (AND
// semantics, spec §4.2 Search).
func (a *Agent) HasSkills(required []string) bool {
	for _, s := range required {
		if _, ok := a.Skills[s]; !ok {
			return false
		}
	}
	return true
}

// InSubnet reports membership.
func (a *Agent) InSubnet(subnetID string) bool {
	_, ok := a.SubnetIDs[subnetID]
	return ok
}

func normalizeSubnets(ids []string) map[string]struct{} {
	set := toSet(ids)
	if len(set) == 0 {
		set[SubnetPublic] = struct{}{}
	}
	return set
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

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "acn_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

func generateVerificationCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:8], nil
}

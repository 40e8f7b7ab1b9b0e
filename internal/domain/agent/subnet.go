package agent

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SchemeType names an authentication scheme a private subnet requires.
type SchemeType string

const (
	SchemeBearer SchemeType = "bearer"
	SchemeAPIKey SchemeType = "apiKey"
	SchemeOIDC   SchemeType = "openIdConnect"
)

// SecurityScheme is one named auth mechanism a private subnet accepts.
type SecurityScheme struct {
	Type SchemeType
	// SecretHash is the HMAC-SHA256 of the generated subnet secret, salted
	// with the subnet id; the plaintext secret is never persisted (spec
	// §3: "stored alongside, never returned in a listing").
	SecretHash []byte
}

// Subnet groups agents, optionally requiring authentication to join.
type Subnet struct {
	SubnetID        string
	Name            string
	Owner           string
	IsPrivate       bool
	SecuritySchemes map[string]SecurityScheme
	MemberAgentIDs  map[string]struct{}
}

// NewSubnet constructs a Subnet, enforcing the reserved-id invariant at the
// entity boundary rather than only in the service layer (spec §9).
func NewSubnet(subnetID, name, owner string, isPrivate bool) (*Subnet, error) {
	if subnetID == "" {
		return nil, fmt.Errorf("subnet: id is required")
	}
	if (subnetID == SubnetPublic || subnetID == SubnetSystem) && owner != SystemOwner {
		return nil, fmt.Errorf("subnet: id %q is reserved for owner %q", subnetID, SystemOwner)
	}
	return &Subnet{
		SubnetID:        subnetID,
		Name:            name,
		Owner:           owner,
		IsPrivate:       isPrivate,
		SecuritySchemes: map[string]SecurityScheme{},
		MemberAgentIDs:  map[string]struct{}{},
	}, nil
}

// GenerateSecret creates a new plaintext secret token for a named scheme,
// storing only its hash on the Subnet and returning the plaintext once
// (spec §4.3 "Create-subnet returns the generated secret token (once)").
func (s *Subnet) GenerateSecret(schemeName string, schemeType SchemeType) (plaintext string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	s.SecuritySchemes[schemeName] = SecurityScheme{
		Type:       schemeType,
		SecretHash: hashSecret(s.SubnetID, plaintext),
	}
	return plaintext, nil
}

// VerifySecret constant-time-compares candidate against the stored hash for
// schemeName (spec §4.3 point 2: "constant-time equality").
func (s *Subnet) VerifySecret(schemeName, candidate string) bool {
	scheme, ok := s.SecuritySchemes[schemeName]
	if !ok {
		return false
	}
	return hmac.Equal(scheme.SecretHash, hashSecret(s.SubnetID, candidate))
}

func hashSecret(subnetID, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(subnetID))
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}

// AddMember adds an agent to the subnet's membership set.
func (s *Subnet) AddMember(agentID string) { s.MemberAgentIDs[agentID] = struct{}{} }

// RemoveMember removes an agent from the subnet's membership set.
func (s *Subnet) RemoveMember(agentID string) { delete(s.MemberAgentIDs, agentID) }

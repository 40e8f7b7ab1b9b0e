// Package a2a implements the wire types and client used to deliver
// Agent-to-Agent protocol messages over HTTP (spec §4.4, §6).
package a2a

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the sender role of a Message, per the A2A protocol.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates the tagged union a Part carries.
type PartKind string

const (
	PartText PartKind = "text"
	PartData PartKind = "data"
)

// Part is one segment of a Message's content: either free text or a
// structured data payload, never both.
type Part struct {
	Kind PartKind
	Text string
	Data map[string]any
}

// NewTextPart constructs a text-kind Part.
func NewTextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// NewDataPart constructs a data-kind Part.
func NewDataPart(data map[string]any) Part { return Part{Kind: PartData, Data: data} }

// Message is the envelope exchanged between agents (spec §4.4 point-to-point
// send, route_by_skill, broadcast).
type Message struct {
	MessageID string
	Role      Role
	Parts     []Part
	Metadata  map[string]any
}

// NewMessage constructs a Message with a fresh message_id.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     parts,
	}
}

// Text concatenates every text part, the common case for a simple
// point-to-point send.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Skill is one capability advertised in an AgentCard.
type Skill struct {
	ID          string
	Name        string
	Description string
}

// Authentication describes the scheme an agent's endpoint expects for
// inbound A2A calls.
type Authentication struct {
	Type        string
	Description string
}

// AgentCard is the A2A-compliant self-description an agent returns from its
// well-known endpoint, or that the registry synthesizes for agents that
// don't provide one (spec §4.2 Register/Join).
type AgentCard struct {
	ProtocolVersion string
	Name            string
	Description     string
	URL             string
	Skills          []Skill
	Authentication  Authentication
}

// GenerateAgentCard synthesizes a standard AgentCard for an agent that
// registered without one, matching the registry's auto-generation
// behavior (spec §4.2).
func GenerateAgentCard(name, endpoint, description string, skills []string) AgentCard {
	if description == "" {
		description = fmt.Sprintf("%s - Registered via ACN", name)
	}
	out := make([]Skill, 0, len(skills))
	for _, s := range skills {
		out = append(out, Skill{
			ID:          s,
			Name:        titleizeSkill(s),
			Description: "Capability: " + s,
		})
	}
	return AgentCard{
		ProtocolVersion: "0.3.0",
		Name:            name,
		Description:     description,
		URL:             endpoint,
		Skills:          out,
		Authentication: Authentication{
			Type:        "bearer",
			Description: "OAuth 2.0 Bearer Token",
		},
	}
}

// ValidateAgentCard checks the required-field invariant the registry
// enforces on caller-supplied cards (spec §4.2).
func ValidateAgentCard(c AgentCard) error {
	if c.ProtocolVersion == "" {
		return fmt.Errorf("a2a: agent card missing protocolVersion")
	}
	if c.Name == "" {
		return fmt.Errorf("a2a: agent card missing name")
	}
	if c.URL == "" {
		return fmt.Errorf("a2a: agent card missing url")
	}
	return nil
}

func titleizeSkill(skill string) string {
	replaced := strings.NewReplacer("-", " ", "_", " ").Replace(skill)
	words := strings.Fields(replaced)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

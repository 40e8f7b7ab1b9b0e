package gateway

import (
	"context"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/domain/audit"
	"github.com/r3e-network/acn/internal/errors"
)

// CreateSubnetParams bundles the Create-subnet inputs.
type CreateSubnetParams struct {
	SubnetID   string
	Name       string
	Owner      string
	IsPrivate  bool
	SchemeName string
	SchemeType agent.SchemeType
}

// CreateSubnetResult returns the generated secret once (spec §4.3
// "Subnet management: Create-subnet returns the generated secret token
// (once)").
type CreateSubnetResult struct {
	Subnet *agent.Subnet
	Secret string // empty for public subnets
}

// CreateSubnet implements the gateway's subnet-creation operation.
func (g *Gateway) CreateSubnet(ctx context.Context, p CreateSubnetParams) (*CreateSubnetResult, error) {
	sub, err := agent.NewSubnet(p.SubnetID, p.Name, p.Owner, p.IsPrivate)
	if err != nil {
		return nil, errors.ValidationError("subnet", err.Error())
	}

	var secret string
	if p.IsPrivate && p.SchemeName != "" {
		secret, err = sub.GenerateSecret(p.SchemeName, p.SchemeType)
		if err != nil {
			return nil, errors.Internal("generate subnet secret", err)
		}
	}

	if err := g.subnets.Save(ctx, sub); err != nil {
		return nil, errors.Internal("save subnet", err)
	}
	g.recordAudit(ctx, audit.EventSubnetCreated, p.Owner, sub.SubnetID)
	return &CreateSubnetResult{Subnet: sub, Secret: secret}, nil
}

// DeleteSubnet implements spec §4.3 "Delete-subnet refuses if connections
// exist unless forced; force disconnects all and unregisters each agent
// from C2."
func (g *Gateway) DeleteSubnet(ctx context.Context, subnetID string, force bool) error {
	connected := g.connectionsInSubnet(subnetID)
	if len(connected) > 0 && !force {
		return errors.Conflict("subnet has active connections")
	}

	for _, c := range connected {
		c.conn.Close()
	}

	if err := g.subnets.Delete(ctx, subnetID); err != nil {
		return err
	}
	g.recordAudit(ctx, audit.EventSubnetDeleted, "", subnetID)
	return nil
}

// GetSubnet retrieves a subnet by id.
func (g *Gateway) GetSubnet(ctx context.Context, subnetID string) (*agent.Subnet, error) {
	return g.subnets.FindByID(ctx, subnetID)
}

// ListSubnets returns every subnet owned by owner (spec §4.3 "Subnet
// management: create/list/get/delete").
func (g *Gateway) ListSubnets(ctx context.Context, owner string) ([]*agent.Subnet, error) {
	return g.subnets.FindByOwner(ctx, owner)
}

// JoinSubnet adds agentID to subnetID's membership set (spec §4.3 "Subnet
// management: join/leave").
func (g *Gateway) JoinSubnet(ctx context.Context, subnetID, agentID string) (*agent.Subnet, error) {
	sub, err := g.subnets.FindByID(ctx, subnetID)
	if err != nil {
		return nil, err
	}
	sub.AddMember(agentID)
	if err := g.subnets.Save(ctx, sub); err != nil {
		return nil, errors.Internal("save subnet", err)
	}
	g.recordAudit(ctx, audit.EventSubnetAgentJoined, agentID, subnetID)
	return sub, nil
}

// LeaveSubnet removes agentID from subnetID's membership set.
func (g *Gateway) LeaveSubnet(ctx context.Context, subnetID, agentID string) (*agent.Subnet, error) {
	sub, err := g.subnets.FindByID(ctx, subnetID)
	if err != nil {
		return nil, err
	}
	sub.RemoveMember(agentID)
	if err := g.subnets.Save(ctx, sub); err != nil {
		return nil, errors.Internal("save subnet", err)
	}
	g.recordAudit(ctx, audit.EventSubnetAgentLeft, agentID, subnetID)
	return sub, nil
}

func (g *Gateway) connectionsInSubnet(subnetID string) []*connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*connection
	for _, c := range g.byID {
		if c.subnetID == subnetID {
			out = append(out, c)
		}
	}
	return out
}

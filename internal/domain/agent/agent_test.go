package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPlatformManagedRequiresName(t *testing.T) {
	_, err := NewPlatformManaged("owner-1", "", "https://e.example.com", nil, nil, nil)
	require.Error(t, err)
}

func TestNewPlatformManagedDefaultsToPublicSubnetOnline(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", []string{"code"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOnline, a.Status)
	require.Equal(t, ClaimStatusClaimed, a.ClaimStatus)
	require.True(t, a.InSubnet(SubnetPublic))
	require.True(t, a.HasSkills([]string{"code"}))
	require.Empty(t, a.APIKey)
}

func TestNewAutonomousMintsAPIKeyAndIsUnclaimed(t *testing.T) {
	a, key, err := NewAutonomous("Auto", "https://auto.example.com", "")
	require.NoError(t, err)
	require.NotEmpty(t, key)
	require.Equal(t, key, a.APIKey)
	require.Equal(t, ClaimStatusUnclaimed, a.ClaimStatus)
	require.Empty(t, a.Owner)
	require.NotEmpty(t, a.VerificationCode)
}

func TestClaimSucceedsWithMatchingCode(t *testing.T) {
	a, _, err := NewAutonomous("Auto", "https://auto.example.com", "")
	require.NoError(t, err)

	require.NoError(t, a.Claim("owner-9", a.VerificationCode))
	require.Equal(t, "owner-9", a.Owner)
	require.Equal(t, ClaimStatusClaimed, a.ClaimStatus)
}

func TestClaimFailsWithWrongCode(t *testing.T) {
	a, _, err := NewAutonomous("Auto", "https://auto.example.com", "")
	require.NoError(t, err)
	require.Error(t, a.Claim("owner-9", "wrong-code"))
}

func TestClaimFailsWhenAlreadyClaimed(t *testing.T) {
	a, _, err := NewAutonomous("Auto", "https://auto.example.com", "")
	require.NoError(t, err)
	require.NoError(t, a.Claim("owner-9", a.VerificationCode))
	require.Error(t, a.Claim("owner-10", a.VerificationCode))
}

func TestTransferAndRelease(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", nil, nil, nil)
	require.NoError(t, err)

	a.Transfer("owner-2")
	require.Equal(t, "owner-2", a.Owner)

	a.Release()
	require.Empty(t, a.Owner)
}

func TestHeartbeatAndMarkOffline(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", nil, nil, nil)
	require.NoError(t, err)

	a.MarkOffline()
	require.Equal(t, StatusOffline, a.Status)

	a.Heartbeat()
	require.Equal(t, StatusOnline, a.Status)
}

func TestHasSkillsRequiresEverySkill(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", []string{"code", "review"}, nil, nil)
	require.NoError(t, err)
	require.True(t, a.HasSkills([]string{"code"}))
	require.True(t, a.HasSkills([]string{"code", "review"}))
	require.False(t, a.HasSkills([]string{"code", "deploy"}))
	require.True(t, a.HasSkills(nil))
}

func TestNormalizeSubnetsDefaultsToPublicWhenEmpty(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", nil, []string{}, nil)
	require.NoError(t, err)
	require.True(t, a.InSubnet(SubnetPublic))
	require.Len(t, a.SubnetIDs, 1)
}

func TestNormalizeSubnetsKeepsExplicitMembership(t *testing.T) {
	a, err := NewPlatformManaged("owner-1", "Agent", "https://e.example.com", nil, []string{"private-1"}, nil)
	require.NoError(t, err)
	require.True(t, a.InSubnet("private-1"))
	require.False(t, a.InSubnet(SubnetPublic))
}

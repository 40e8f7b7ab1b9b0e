package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresTitleAndCreator(t *testing.T) {
	_, err := New(CreateParams{CreatorID: "c1", RewardAmount: "1"})
	require.Error(t, err)

	_, err = New(CreateParams{Title: "t", RewardAmount: "1"})
	require.Error(t, err)
}

func TestNewRejectsNegativeReward(t *testing.T) {
	_, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "-5"})
	require.Error(t, err)
}

func TestNewSingleAssigneeOpenBudgetIsRewardTimesOne(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "10", Mode: ModeOpen})
	require.NoError(t, err)
	require.Equal(t, "10.000000", tk.TotalBudget.String())
	require.NotNil(t, tk.MaxCompletions)
	require.Equal(t, 1, *tk.MaxCompletions)
}

func TestNewMultiParticipantBudgetIsRewardTimesMaxCompletions(t *testing.T) {
	max := 5
	tk, err := New(CreateParams{
		Title: "t", CreatorID: "c1", RewardAmount: "2", Mode: ModeOpen,
		IsMultiParticipant: true, MaxCompletions: &max,
	})
	require.NoError(t, err)
	require.Equal(t, "10.000000", tk.TotalBudget.String())
}

func TestNewAssignedModeStartsAssignedWhenAssigneeGiven(t *testing.T) {
	tk, err := New(CreateParams{
		Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeAssigned,
		AssigneeID: "agent-1", AssigneeName: "Agent One",
	})
	require.NoError(t, err)
	require.Equal(t, StatusAssigned, tk.Status)
	require.Equal(t, "agent-1", tk.AssigneeID)
}

func TestAcceptSubmitCompleteLifecycle(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "10", Mode: ModeOpen})
	require.NoError(t, err)

	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.Equal(t, StatusInProgress, tk.Status)

	require.NoError(t, tk.Submit("done", nil))
	require.Equal(t, StatusSubmitted, tk.Status)

	require.NoError(t, tk.Complete("c1", "looks good"))
	require.Equal(t, StatusCompleted, tk.Status)
	require.Equal(t, 1, tk.CompletedCount)
	require.Equal(t, "10.000000", tk.ReleasedAmount.String())
}

func TestAcceptRejectedWhenAlreadyAssigned(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen})
	require.NoError(t, err)
	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.Error(t, tk.Accept("agent-2", "Agent Two"))
}

func TestSubmitRequiresInProgress(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen})
	require.NoError(t, err)
	require.Error(t, tk.Submit("too early", nil))
}

func TestCompleteFailsWithoutSufficientBudget(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "10", Mode: ModeOpen})
	require.NoError(t, err)
	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.NoError(t, tk.Submit("done", nil))
	tk.ReleasedAmount = tk.TotalBudget // simulate budget already exhausted
	require.Error(t, tk.Complete("c1", "notes"))
}

func TestRepeatableOpenTaskResetsAfterCompletionUntilExhausted(t *testing.T) {
	max := 2
	tk, err := New(CreateParams{
		Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen,
		AllowRepeatBySame: true, MaxCompletions: &max,
	})
	require.NoError(t, err)

	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.NoError(t, tk.Submit("done", nil))
	require.NoError(t, tk.Complete("c1", "good"))
	require.Equal(t, StatusOpen, tk.Status, "resets for another round since completions remain")

	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.NoError(t, tk.Submit("done again", nil))
	require.NoError(t, tk.Complete("c1", "good again"))
	require.Equal(t, StatusCompleted, tk.Status, "stays completed once max_completions is reached")
}

func TestRejectRequiresSubmitted(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen})
	require.NoError(t, err)
	require.Error(t, tk.Reject("c1", "no"))

	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.NoError(t, tk.Submit("done", nil))
	require.NoError(t, tk.Reject("c1", "not good enough"))
	require.Equal(t, StatusRejected, tk.Status)
}

func TestCancelAnyNonCompletedStatus(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen})
	require.NoError(t, err)
	require.NoError(t, tk.Cancel())
	require.Equal(t, StatusCancelled, tk.Status)
}

func TestCancelRejectsCompletedTask(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen})
	require.NoError(t, err)
	require.NoError(t, tk.Accept("agent-1", "Agent One"))
	require.NoError(t, tk.Submit("done", nil))
	require.NoError(t, tk.Complete("c1", "good"))
	require.Error(t, tk.Cancel())
}

func TestMatchesSkillsRequiresSuperset(t *testing.T) {
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", RequiredSkills: []string{"go", "sql"}})
	require.NoError(t, err)
	require.True(t, tk.MatchesSkills(map[string]struct{}{"go": {}, "sql": {}, "extra": {}}))
	require.False(t, tk.MatchesSkills(map[string]struct{}{"go": {}}))
}

func TestHasCapacity(t *testing.T) {
	max := 3
	tk, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", MaxCompletions: &max})
	require.NoError(t, err)
	require.True(t, tk.HasCapacity(2))
	require.False(t, tk.HasCapacity(3))

	unbounded, err := New(CreateParams{Title: "t", CreatorID: "c1", RewardAmount: "1", Mode: ModeOpen, IsMultiParticipant: true})
	require.NoError(t, err)
	require.True(t, unbounded.HasCapacity(1000))
}

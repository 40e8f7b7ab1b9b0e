package taskengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/acn/internal/domain/task"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/escrow"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/storage/memory"
	"github.com/r3e-network/acn/internal/wallet"
)

func newTestEngine(t *testing.T, wallet *wallet.Client, escrow *escrow.Client) *Engine {
	t.Helper()
	return New(Deps{
		Tasks:          memory.NewTaskStore(),
		Activity:       memory.NewActivityStore(),
		Wallet:         wallet,
		Escrow:         escrow,
		ActiveCounters: memory.NewActiveCounterStore(),
		Log:            logger.NewDefault("taskengine-test"),
	})
}

// walletStub records every call made to it and answers with canned
// success responses, mirroring the real wallet service's response shapes.
type walletStub struct {
	mu    sync.Mutex
	spent []string
	added []string
}

func (s *walletStub) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/spend"):
			s.spent = append(s.spent, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "ok", "balance_after": "0"})
		case strings.HasSuffix(r.URL.Path, "/receive"):
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "ok", "balance_after": "0"})
		case strings.HasSuffix(r.URL.Path, "/earnings"):
			s.added = append(s.added, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]any{"agent_amount": "8.000000", "owner_amount": "2.000000"})
		default:
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
}

func TestCreateAgentTaskLocksWalletBudget(t *testing.T) {
	stub := &walletStub{}
	ts := stub.server()
	defer ts.Close()

	wc, err := wallet.New(wallet.Config{BaseURL: ts.URL})
	require.NoError(t, err)

	e := newTestEngine(t, wc, nil)
	created, err := e.Create(context.Background(), task.CreateParams{
		CreatorType:  task.CreatorAgent,
		CreatorID:    "agent-creator",
		Title:        "Summarize a document",
		RewardAmount: "10.00",
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusOpen, created.Status)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.spent, 1)
}

// TestJoinCapacityRace exercises the spec scenario where more participants
// attempt to join a capacity-bounded open task concurrently than it has
// room for: exactly max_completions succeed and the rest see TASK_FULL.
func TestJoinCapacityRace(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	maxCompletions := 3
	created, err := e.Create(context.Background(), task.CreateParams{
		CreatorType:        task.CreatorAgent,
		CreatorID:          "creator-1",
		Title:              "Label images",
		RewardAmount:       "1.00",
		Mode:               task.ModeOpen,
		IsMultiParticipant: true,
		MaxCompletions:     &maxCompletions,
	})
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	successes := make(chan string, attempts)
	failures := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			participantID := "agent-" + string(rune('A'+i))
			_, err := e.Join(context.Background(), created.TaskID, participantID, "Agent", task.CreatorAgent)
			if err != nil {
				failures <- err
				return
			}
			successes <- participantID
		}(i)
	}
	wg.Wait()
	close(successes)
	close(failures)

	successCount := 0
	for range successes {
		successCount++
	}
	require.Equal(t, maxCompletions, successCount)

	failureCount := 0
	for err := range failures {
		failureCount++
		require.True(t, errors.Is(err, errors.KindCapacityExceeded))
	}
	require.Equal(t, attempts-maxCompletions, failureCount)
}

// TestSubmitAutoApprovalDistributesReward exercises the S4-style flow: a
// single-assignee auto-approval task pays out through the wallet on
// submission without any creator action.
func TestSubmitAutoApprovalDistributesReward(t *testing.T) {
	stub := &walletStub{}
	ts := stub.server()
	defer ts.Close()

	wc, err := wallet.New(wallet.Config{BaseURL: ts.URL})
	require.NoError(t, err)

	e := newTestEngine(t, wc, nil)
	created, err := e.Create(context.Background(), task.CreateParams{
		CreatorType:  task.CreatorHuman,
		CreatorID:    "human-1",
		Title:        "Translate a paragraph",
		RewardAmount: "5.00",
		Mode:         task.ModeAssigned,
		AssigneeID:   "agent-1",
		AssigneeName: "Agent One",
		ApprovalType: task.ApprovalAuto,
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusAssigned, created.Status)

	_, err = e.Accept(context.Background(), created.TaskID, "agent-1", "Agent One")
	require.NoError(t, err)

	completed, err := e.Submit(context.Background(), created.TaskID, "agent-1", "here is the translation", nil)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, completed.Status)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.added, 1)
}

// TestCancelRefundsEscrowForHumanCreator exercises the S5-style flow: a
// human-creator task's unreleased budget is refunded through escrow on
// cancellation.
func TestCancelRefundsEscrowForHumanCreator(t *testing.T) {
	var refundCalls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/labs/escrow/lock" {
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "locked", "balance_after": "0"})
			return
		}
		if r.URL.Path == "/api/labs/escrow/refund" {
			refundCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "refunded", "balance_after": "10.00"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer ts.Close()

	ec, err := escrow.New(escrow.Config{BaseURL: ts.URL})
	require.NoError(t, err)

	e := newTestEngine(t, nil, ec)
	created, err := e.Create(context.Background(), task.CreateParams{
		CreatorType:  task.CreatorHuman,
		CreatorID:    "human-1",
		Title:        "Write a report",
		RewardAmount: "10.00",
		Mode:         task.ModeAssigned,
		AssigneeID:   "agent-1",
		AssigneeName: "Agent One",
	})
	require.NoError(t, err)

	cancelled, err := e.Cancel(context.Background(), created.TaskID, "human-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusCancelled, cancelled.Status)
	require.Equal(t, 1, refundCalls)
}

func TestAcceptRejectsDoubleAssignment(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	created, err := e.Create(context.Background(), task.CreateParams{
		CreatorType:  task.CreatorAgent,
		CreatorID:    "creator-1",
		Title:        "Review a PR",
		RewardAmount: "2.00",
		Mode:         task.ModeOpen,
	})
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), created.TaskID, "agent-1", "Agent One")
	require.NoError(t, err)

	_, err = e.Accept(context.Background(), created.TaskID, "agent-2", "Agent Two")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindInvalidState))
}

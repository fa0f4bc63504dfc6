package game_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/codeduel/internal/game"
)

func TestGrade(t *testing.T) {
	cases := []game.TestCase{
		{Args: raw(`[1,1]`), Expected: raw(`2`)},
		{Args: raw(`[2,2]`), Expected: raw(`5`)},
	}

	t.Run("pairs results by position", func(t *testing.T) {
		got := game.Grade(cases, []game.ExecutionResult{
			{Status: game.ResultSuccess, Result: raw(`2`)},
			{Status: game.ResultSuccess, Result: raw(`4`)},
		}, nil)

		require.Len(t, got, 2)
		assert.True(t, got[0].IsCorrect())
		assert.JSONEq(t, `2`, string(got[0].Result))

		assert.False(t, got[1].IsCorrect())
		assert.Equal(t, game.ReasonAssertion, got[1].Reason)
		assert.Equal(t, "5", got[1].Expected)
		assert.Equal(t, "4", got[1].Actual)
	})

	t.Run("runtime errors pass through", func(t *testing.T) {
		got := game.Grade(cases, []game.ExecutionResult{
			{Status: game.ResultError, Reason: "ZeroDivisionError: division by zero"},
			{Status: game.ResultSuccess, Result: raw(`5`)},
		}, nil)

		assert.Equal(t, game.ResultError, got[0].Status)
		assert.Equal(t, "ZeroDivisionError: division by zero", got[0].Reason)
		assert.True(t, got[1].IsCorrect())
	})

	t.Run("executor failure fails every case", func(t *testing.T) {
		err := fmt.Errorf("%w: sandbox unavailable", game.ErrExecutionFailure)
		got := game.Grade(cases, nil, err)

		require.Len(t, got, 2)
		for _, r := range got {
			assert.Equal(t, game.ResultError, r.Status)
			assert.Equal(t, "ExecutionFailure: sandbox unavailable", r.Reason)
		}
	})

	t.Run("missing results become failures", func(t *testing.T) {
		got := game.Grade(cases, []game.ExecutionResult{
			{Status: game.ResultSuccess, Result: raw(`2`)},
		}, nil)

		require.Len(t, got, 2)
		assert.True(t, got[0].IsCorrect())
		assert.Equal(t, game.ResultError, got[1].Status)
		assert.Contains(t, got[1].Reason, game.ReasonExecutionFailure)
	})

	t.Run("structural equality", func(t *testing.T) {
		got := game.Grade(
			[]game.TestCase{
				{Args: raw(`[]`), Expected: raw(`{"a": [1, 2], "b": null}`)},
				{Args: raw(`[]`), Expected: raw(`[1, 2]`)},
				{Args: raw(`[]`), Expected: raw(`"2"`)},
			},
			[]game.ExecutionResult{
				{Status: game.ResultSuccess, Result: raw(`{"b":null,"a":[1,2]}`)},
				{Status: game.ResultSuccess, Result: raw(`[2,1]`)},
				{Status: game.ResultSuccess, Result: raw(`2`)},
			}, nil)

		assert.True(t, got[0].IsCorrect(), "key order and whitespace are ignored")
		assert.False(t, got[1].IsCorrect(), "list order matters")
		assert.False(t, got[2].IsCorrect(), "types matter")
		assert.Equal(t, `"2"`, got[2].Expected)
	})

	t.Run("numbers compare by exact value", func(t *testing.T) {
		got := game.Grade(
			[]game.TestCase{
				{Args: raw(`[]`), Expected: raw(`9007199254740993`)},
				{Args: raw(`[]`), Expected: raw(`1`)},
				{Args: raw(`[]`), Expected: raw(`[2.5, 1e3]`)},
				{Args: raw(`[]`), Expected: raw(`{"n": 12345678901234567890}`)},
			},
			[]game.ExecutionResult{
				{Status: game.ResultSuccess, Result: raw(`9007199254740992`)},
				{Status: game.ResultSuccess, Result: raw(`1.0`)},
				{Status: game.ResultSuccess, Result: raw(`[2.50, 1000]`)},
				{Status: game.ResultSuccess, Result: raw(`{"n": 12345678901234567890}`)},
			}, nil)

		assert.False(t, got[0].IsCorrect(), "integers beyond float64 precision stay distinct")
		assert.Equal(t, "9007199254740993", got[0].Expected)
		assert.Equal(t, "9007199254740992", got[0].Actual)
		assert.True(t, got[1].IsCorrect(), "1 equals 1.0")
		assert.True(t, got[2].IsCorrect())
		assert.True(t, got[3].IsCorrect())
	})
}

func echoSum(_ context.Context, _ string, argsList []json.RawMessage) ([]game.ExecutionResult, error) {
	out := make([]game.ExecutionResult, len(argsList))
	for i, a := range argsList {
		var nums []int
		if err := json.Unmarshal(a, &nums); err != nil {
			out[i] = game.ExecutionResult{Status: game.ResultError, Reason: err.Error()}
			continue
		}
		sum := 0
		for _, n := range nums {
			sum += n
		}
		out[i] = game.ExecutionResult{Status: game.ResultSuccess, Result: json.RawMessage(fmt.Sprint(sum))}
	}
	return out, nil
}

func TestRunTests_TestModeUsesExamples(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()
	gameID := h.startGame(t, alice)
	h.notifier.Reset()
	h.executor.Set(echoSum)

	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	h.svc.Wait()

	require.Len(t, h.executor.calls, 1)
	assert.Len(t, h.executor.calls[0], 2)
	assert.Equal(t, sumQuestion().StarterCode, h.executor.codes[0])

	s := h.session(t, gameID, alice)
	assert.Equal(t, game.RunComplete, s.TestState.Status)
	require.Len(t, s.TestState.Results, 2)
	assert.True(t, s.TestState.Results[0].IsCorrect())
	assert.True(t, s.TestState.Results[1].IsCorrect())
	assert.NotNil(t, s.TestState.CompletedAt)
	assert.Equal(t, game.RunIdle, s.SubmissionState.Status)

	require.NotNil(t, s.LastTestedAt)
	assert.Nil(t, s.LastSubmittedAt)

	assert.Equal(t, []string{game.EventRunUpdated, game.EventRunUpdated}, h.notifier.Types())
}

func TestRunTests_SubmissionUsesEveryCase(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	gameID := h.startGame(t, alice)
	h.executor.Set(echoSum)

	require.NoError(t, h.svc.RunTests(context.Background(), gameID, alice, game.RunSubmission))
	h.svc.Wait()

	s := h.session(t, gameID, alice)
	assert.Equal(t, game.RunComplete, s.SubmissionState.Status)
	assert.Len(t, s.SubmissionState.Results, 4)
	assert.Equal(t, game.RunIdle, s.TestState.Status)
	assert.NotNil(t, s.LastSubmittedAt)
}

func TestRunTests_CooldownPerMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()
	gameID := h.startGame(t, alice)
	h.executor.Set(echoSum)

	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	h.svc.Wait()

	h.clock.Advance(3 * time.Second)
	err := h.svc.RunTests(ctx, gameID, alice, game.RunTest)
	var rl *game.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7, rl.RetryAfter)

	// Submitting has its own timestamp.
	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunSubmission))
	h.svc.Wait()

	h.clock.Advance(7 * time.Second)
	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	h.svc.Wait()
	assert.Len(t, h.executor.calls, 3)
}

func TestRunTests_CooldownBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()
	gameID := h.startGame(t, alice)
	h.executor.Set(echoSum)

	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	h.svc.Wait()

	h.clock.Advance(10*time.Second - time.Millisecond)
	err := h.svc.RunTests(ctx, gameID, alice, game.RunTest)
	var rl *game.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 1, rl.RetryAfter)

	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	h.svc.Wait()
	assert.Len(t, h.executor.calls, 2)
}

func TestRunTests_ExecutorFailure(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	gameID := h.startGame(t, alice)
	h.executor.Set(func(context.Context, string, []json.RawMessage) ([]game.ExecutionResult, error) {
		return nil, fmt.Errorf("%w: status 503", game.ErrExecutionFailure)
	})

	require.NoError(t, h.svc.RunTests(context.Background(), gameID, alice, game.RunTest))
	h.svc.Wait()

	s := h.session(t, gameID, alice)
	assert.Equal(t, game.RunComplete, s.TestState.Status)
	require.Len(t, s.TestState.Results, 2)
	for _, r := range s.TestState.Results {
		assert.Equal(t, "ExecutionFailure: status 503", r.Reason)
	}
}

func TestRunTests_NewerRunSupersedesOlder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()
	gameID := h.startGame(t, alice)

	first := make(chan struct{})
	release := sync.OnceFunc(func() { close(first) })
	t.Cleanup(release)
	var calls atomic.Int32
	h.executor.Set(func(ctx context.Context, code string, args []json.RawMessage) ([]game.ExecutionResult, error) {
		if calls.Add(1) == 1 {
			<-first
			return nil, errors.New("stale")
		}
		return echoSum(ctx, code, args)
	})

	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.svc.RunTests(ctx, gameID, alice, game.RunTest))

	require.Eventually(t, func() bool {
		s, err := h.store.GetSession(ctx, gameID, alice)
		return err == nil && s.TestState.Status == game.RunComplete
	}, time.Second, 5*time.Millisecond)

	release()
	h.svc.Wait()

	s := h.session(t, gameID, alice)
	require.NotNil(t, s.TestState.StartedAt)
	assert.Equal(t, t0.Add(10*time.Second), *s.TestState.StartedAt)
	for _, r := range s.TestState.Results {
		assert.True(t, r.IsCorrect())
	}
}

func TestRunTests_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()

	gameID, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)

	err = h.svc.RunTests(ctx, gameID, alice, game.RunTest)
	assert.ErrorIs(t, err, game.ErrInvalidState)

	err = h.svc.RunTests(ctx, gameID, alice, game.RunMode("practice"))
	assert.ErrorIs(t, err, game.ErrInvalidInput)

	err = h.svc.RunTests(ctx, gameID, uuid.New(), game.RunTest)
	assert.ErrorIs(t, err, game.ErrNotFound)

	s := h.session(t, gameID, alice)
	assert.Nil(t, s.LastTestedAt, "rejected runs never charge the cooldown")
	assert.Empty(t, h.executor.calls)
}

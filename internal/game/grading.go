package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/logging"
	"github.com/gokatarajesh/codeduel/internal/metrics"
)

// Case-level failure reasons.
const (
	ReasonAssertion        = "AssertionError"
	ReasonExecutionFailure = "ExecutionFailure"
)

// Grader runs player code against test cases through the executor and records
// ordered per-case results on the mode's sub-state.
type Grader struct {
	store     Store
	questions QuestionSource
	executor  Executor
	notifier  Notifier
	runner    *runner
	opts      Options
	logger    zerolog.Logger
}

// RunTests charges the mode's cooldown, marks the run as running and grades
// asynchronously. A test run uses the public examples; a submission uses every case.
func (gr *Grader) RunTests(ctx context.Context, gameID, userID uuid.UUID, mode RunMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown run mode %q: %w", mode, ErrInvalidInput)
	}

	g, err := gr.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	s, err := gr.store.GetSession(ctx, gameID, userID)
	if err != nil {
		return err
	}

	now := gr.opts.Now()
	if err := gr.canRun(*g, s, mode, now); err != nil {
		return err
	}

	cases, err := gr.cases(ctx, g, mode)
	if err != nil {
		return err
	}

	updated, err := gr.store.UpdateSession(ctx, gameID, userID, func(g Game, s *PlayerSession) error {
		if err := gr.canRun(g, s, mode, now); err != nil {
			return err
		}
		*s.runState(mode) = RunState{Status: RunRunning, StartedAt: &now}
		s.stampRun(mode, now)
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	publish(ctx, gr.notifier, gr.logger, Event{Type: EventRunUpdated, GameID: gameID, UserID: userRef(userID)})

	code := updated.Code
	gr.runner.Go("grade:"+string(mode)+":"+gameID.String()+":"+userID.String(), gr.opts.ExecutionTimeout, func(ctx context.Context) {
		gr.execute(ctx, gameID, userID, mode, code, cases, now)
	})
	return nil
}

func (gr *Grader) canRun(g Game, s *PlayerSession, mode RunMode, now time.Time) error {
	if g.State != StateInProgress {
		return fmt.Errorf("game is %s: %w", g.State, ErrInvalidState)
	}
	action := ActionTest
	if mode == RunSubmission {
		action = ActionSubmit
	}
	if err := checkRate(action, s.lastRunAt(mode), gr.opts.TestCooldown, now); err != nil {
		metrics.RateLimited.WithLabelValues(action).Inc()
		return err
	}
	return nil
}

func (gr *Grader) cases(ctx context.Context, g *Game, mode RunMode) ([]TestCase, error) {
	if mode == RunTest {
		return g.Question.Examples, nil
	}
	q, err := gr.questions.Question(ctx, g.Question.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	return q.TestCases, nil
}

func (gr *Grader) execute(ctx context.Context, gameID, userID uuid.UUID, mode RunMode, code string, cases []TestCase, startedAt time.Time) {
	logger := logging.FromContext(ctx)

	args := make([]json.RawMessage, len(cases))
	for i, tc := range cases {
		args[i] = tc.Args
	}

	raw, execErr := gr.executor.Run(ctx, code, args)
	if execErr != nil {
		logger.Warn().Err(execErr).Str("game_id", gameID.String()).Msg("executor call failed")
	}
	results := Grade(cases, raw, execErr)

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	_, err := gr.store.UpdateSession(ctx, gameID, userID, func(_ Game, s *PlayerSession) error {
		rs := s.runState(mode)
		// A newer run has taken over the sub-state.
		if rs.Status != RunRunning || rs.StartedAt == nil || !rs.StartedAt.Equal(startedAt) {
			return errSkip
		}
		completedAt := gr.opts.Now()
		*rs = RunState{Status: RunComplete, Results: results, StartedAt: &startedAt, CompletedAt: &completedAt}
		s.UpdatedAt = completedAt
		return nil
	})
	if errors.Is(err, errSkip) {
		logger.Debug().Str("game_id", gameID.String()).Msg("superseded run result dropped")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("game_id", gameID.String()).Str("user_id", userID.String()).Msg("record run results failed")
		return
	}

	passed := 0
	for _, r := range results {
		outcome := "failed"
		if r.IsCorrect() {
			outcome = "passed"
			passed++
		}
		metrics.CaseResults.WithLabelValues(string(mode), outcome).Inc()
	}
	logger.Info().
		Str("game_id", gameID.String()).
		Str("user_id", userID.String()).
		Str("mode", string(mode)).
		Int("passed", passed).
		Int("total", len(results)).
		Msg("run graded")
	publish(ctx, gr.notifier, gr.logger, Event{Type: EventRunUpdated, GameID: gameID, UserID: userRef(userID)})
}

// Grade pairs executor output with cases by position. Every case yields exactly
// one result: successes are re-checked against the expected value, executor
// errors pass through, and cases the executor never answered become
// ExecutionFailure errors.
func Grade(cases []TestCase, raw []ExecutionResult, execErr error) []CaseResult {
	results := make([]CaseResult, len(cases))
	for i, tc := range cases {
		if execErr != nil {
			results[i] = CaseResult{Status: ResultError, Reason: executionFailure(strings.TrimPrefix(execErr.Error(), ErrExecutionFailure.Error()+": "))}
			continue
		}
		if i >= len(raw) {
			results[i] = CaseResult{Status: ResultError, Reason: executionFailure("no result returned for case")}
			continue
		}
		results[i] = gradeCase(tc, raw[i])
	}
	return results
}

func gradeCase(tc TestCase, r ExecutionResult) CaseResult {
	switch r.Status {
	case ResultSuccess:
		if jsonEqual(tc.Expected, r.Result) {
			return CaseResult{Status: ResultSuccess, Result: r.Result}
		}
		return CaseResult{
			Status:   ResultError,
			Result:   r.Result,
			Reason:   ReasonAssertion,
			Expected: stringify(tc.Expected),
			Actual:   stringify(r.Result),
		}
	case ResultError:
		return CaseResult{Status: ResultError, Reason: r.Reason}
	default:
		return CaseResult{Status: ResultError, Reason: executionFailure(fmt.Sprintf("unknown result status %q", r.Status))}
	}
}

func executionFailure(msg string) string {
	return ReasonExecutionFailure + ": " + msg
}

// jsonEqual compares two JSON documents structurally, ignoring key order and
// whitespace. Numbers compare by exact value, so 1 and 1.0 match while
// integers beyond float64 precision stay distinct.
func jsonEqual(a, b json.RawMessage) bool {
	va, ok := decodeValue(a)
	if !ok {
		return false
	}
	vb, ok := decodeValue(b)
	if !ok {
		return false
	}
	return valueEqual(va, vb)
}

func decodeValue(raw json.RawMessage) (any, bool) {
	if !json.Valid(raw) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numberEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !valueEqual(x, y) {
				return false
			}
		}
		return true
	default:
		// strings, bools and null
		return a == b
	}
}

func numberEqual(a, b json.Number) bool {
	ra, ok := new(big.Rat).SetString(a.String())
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(b.String())
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}

func stringify(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

package game_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/codeduel/internal/game"
	"github.com/gokatarajesh/codeduel/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type armed struct {
	Delay   time.Duration
	Trigger game.Trigger
}

type fakeScheduler struct {
	mu    sync.Mutex
	armed []armed
	err   error
}

func (s *fakeScheduler) RunAfter(_ context.Context, delay time.Duration, t game.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.armed = append(s.armed, armed{Delay: delay, Trigger: t})
	return nil
}

func (s *fakeScheduler) For(gameID uuid.UUID) []armed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []armed
	for _, a := range s.armed {
		if a.Trigger.GameID == gameID {
			out = append(out, a)
		}
	}
	return out
}

type fakeQuestions struct {
	pool []game.Question
	err  error
}

func (q *fakeQuestions) ActiveQuestions(context.Context) ([]game.Question, error) {
	return q.pool, q.err
}

func (q *fakeQuestions) Question(_ context.Context, id string) (*game.Question, error) {
	for _, qq := range q.pool {
		if qq.ID == id {
			return &qq, nil
		}
	}
	return nil, fmt.Errorf("question %s: %w", id, game.ErrNotFound)
}

type generateFunc func(ctx context.Context, req game.GenerationRequest, onPartial func(string)) (string, error)

type fakeGenerator struct {
	mu   sync.Mutex
	fn   generateFunc
	reqs []game.GenerationRequest
}

func (g *fakeGenerator) Set(fn generateFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fn = fn
}

func (g *fakeGenerator) Generate(ctx context.Context, req game.GenerationRequest, onPartial func(string)) (string, error) {
	g.mu.Lock()
	fn := g.fn
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	return fn(ctx, req, onPartial)
}

func (g *fakeGenerator) Requests() []game.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]game.GenerationRequest(nil), g.reqs...)
}

type runFunc func(ctx context.Context, code string, argsList []json.RawMessage) ([]game.ExecutionResult, error)

type fakeExecutor struct {
	mu    sync.Mutex
	fn    runFunc
	calls [][]json.RawMessage
	codes []string
}

func (e *fakeExecutor) Set(fn runFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fn = fn
}

func (e *fakeExecutor) Run(ctx context.Context, code string, argsList []json.RawMessage) ([]game.ExecutionResult, error) {
	e.mu.Lock()
	fn := e.fn
	e.calls = append(e.calls, argsList)
	e.codes = append(e.codes, code)
	e.mu.Unlock()
	return fn(ctx, code, argsList)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []game.Event
}

func (n *recordingNotifier) Publish(_ context.Context, evt game.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) Types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type harness struct {
	svc       *game.Service
	store     *memory.Store
	locker    *memory.Locker
	scheduler *fakeScheduler
	questions *fakeQuestions
	generator *fakeGenerator
	executor  *fakeExecutor
	notifier  *recordingNotifier
	clock     *clock
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func sumQuestion() game.Question {
	return game.Question{
		ID:          "q-sum",
		Title:       "Sum",
		Description: "Return a + b.",
		StarterCode: "def solve(a, b):\n    pass\n",
		TestCases: []game.TestCase{
			{Args: raw(`[1,1]`), Expected: raw(`2`)},
			{Args: raw(`[2,3]`), Expected: raw(`5`)},
			{Args: raw(`[10,-4]`), Expected: raw(`6`)},
			{Args: raw(`[0,0]`), Expected: raw(`0`)},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     memory.NewStore(),
		locker:    memory.NewLocker(),
		scheduler: &fakeScheduler{},
		questions: &fakeQuestions{pool: []game.Question{sumQuestion()}},
		generator: &fakeGenerator{fn: func(context.Context, game.GenerationRequest, func(string)) (string, error) {
			return "", fmt.Errorf("generator not configured")
		}},
		executor: &fakeExecutor{fn: func(context.Context, string, []json.RawMessage) ([]game.ExecutionResult, error) {
			return nil, fmt.Errorf("%w: executor not configured", game.ErrExecutionFailure)
		}},
		notifier: &recordingNotifier{},
		clock:    &clock{now: t0},
	}

	opts := game.DefaultOptions()
	opts.Model = "test-model"
	opts.Now = h.clock.Now
	opts.Pick = func(int) int { return 0 }

	h.svc = game.NewService(game.Deps{
		Store:     h.store,
		Locker:    h.locker,
		Scheduler: h.scheduler,
		Questions: h.questions,
		Generator: h.generator,
		Executor:  h.executor,
		Notifier:  h.notifier,
	}, opts, zerolog.Nop())

	t.Cleanup(h.svc.Wait)
	return h
}

// fire delivers the most recent trigger armed for gameID.
func (h *harness) fire(t *testing.T, gameID uuid.UUID) game.Trigger {
	t.Helper()
	armed := h.scheduler.For(gameID)
	require.NotEmpty(t, armed, "no trigger armed")
	trig := armed[len(armed)-1].Trigger
	require.NoError(t, h.svc.HandleTrigger(context.Background(), trig))
	return trig
}

// startGame joins every user into one game and moves it to in-progress.
func (h *harness) startGame(t *testing.T, users ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	var gameID uuid.UUID
	for i, u := range users {
		id, err := h.svc.Join(ctx, u)
		require.NoError(t, err)
		if i == 0 {
			gameID = id
		}
		require.Equal(t, gameID, id)
	}
	h.fire(t, gameID)

	g, err := h.store.GetGame(ctx, gameID)
	require.NoError(t, err)
	require.Equal(t, game.StateInProgress, g.State)
	return gameID
}

func (h *harness) session(t *testing.T, gameID, userID uuid.UUID) *game.PlayerSession {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), gameID, userID)
	require.NoError(t, err)
	return s
}

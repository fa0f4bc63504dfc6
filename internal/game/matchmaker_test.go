package game_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/codeduel/internal/game"
	"github.com/gokatarajesh/codeduel/internal/store/memory"
)

func TestJoin_CreatesGameThenFillsIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	gameID, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)

	g, err := h.store.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, alice, g.CreatorID)
	assert.Equal(t, game.StateWaiting, g.State)

	h.clock.Advance(time.Second)
	joined, err := h.svc.Join(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, gameID, joined)

	s := h.session(t, gameID, bob)
	assert.Equal(t, sumQuestion().StarterCode, s.Code)
	assert.Empty(t, s.ChatHistory)
	assert.Equal(t, game.RunIdle, s.TestState.Status)
	assert.Equal(t, game.RunIdle, s.SubmissionState.Status)
	assert.Equal(t, t0.Add(time.Second), s.JoinedAt)

	assert.Equal(t, []string{
		game.EventGameCreated,
		game.EventPlayerJoined,
		game.EventPlayerJoined,
	}, h.notifier.Types())
}

func TestJoin_AlreadyInGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()

	_, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)

	_, err = h.svc.Join(ctx, alice)
	assert.ErrorIs(t, err, game.ErrAlreadyInGame)
}

func TestJoin_AllowedAgainAfterGameEnds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()

	first := h.startGame(t, alice)
	h.fire(t, first)

	h.clock.Advance(time.Minute)
	second, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	view, err := h.svc.Current(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, second, view.Game.ID)
}

func TestJoin_SkipsInProgressGames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	running := h.startGame(t, uuid.New())

	joined, err := h.svc.Join(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, running, joined)
}

func TestJoin_LockHeld(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()

	unlock, err := h.locker.Lock(context.Background(), "join:"+alice.String(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.svc.Join(context.Background(), alice)
	assert.ErrorIs(t, err, game.ErrConflict)
}

// staleWaitingStore reports a game as waiting after it has already started.
type staleWaitingStore struct {
	*memory.Store
	stale game.Game
}

func (s *staleWaitingStore) RecentWaitingGames(context.Context, int) ([]game.Game, error) {
	g := s.stale
	g.State = game.StateWaiting
	return []game.Game{g}, nil
}

func TestJoin_CandidateStartedFallsBackToNewGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	running := h.startGame(t, uuid.New())
	g, err := h.store.GetGame(ctx, running)
	require.NoError(t, err)

	opts := game.DefaultOptions()
	opts.Now = h.clock.Now
	opts.Pick = func(int) int { return 0 }
	svc := game.NewService(game.Deps{
		Store:     &staleWaitingStore{Store: h.store, stale: *g},
		Locker:    h.locker,
		Scheduler: h.scheduler,
		Questions: h.questions,
		Generator: h.generator,
		Executor:  h.executor,
	}, opts, zerolog.Nop())

	joined, err := svc.Join(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, running, joined)

	created, err := h.store.GetGame(ctx, joined)
	require.NoError(t, err)
	assert.Equal(t, game.StateWaiting, created.State)
}

func TestLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	gameID, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)
	_, err = h.svc.Join(ctx, bob)
	require.NoError(t, err)
	h.notifier.Reset()

	require.NoError(t, h.svc.Leave(ctx, gameID, bob))
	_, err = h.store.GetGame(ctx, gameID)
	require.NoError(t, err, "game survives while a player remains")

	require.NoError(t, h.svc.Leave(ctx, gameID, alice))
	_, err = h.store.GetGame(ctx, gameID)
	assert.ErrorIs(t, err, game.ErrNotFound)

	assert.Equal(t, []string{game.EventPlayerLeft, game.EventGameDeleted}, h.notifier.Types())

	err = h.svc.Leave(ctx, gameID, alice)
	assert.ErrorIs(t, err, game.ErrNotFound)
}

// startingStore moves the game to in-progress right before the delete lands.
type startingStore struct {
	*memory.Store
}

func (s *startingStore) DeleteSession(ctx context.Context, gameID, userID uuid.UUID, check func(game.Game) error) (bool, error) {
	if _, err := s.Store.UpdateGame(ctx, gameID, func(g *game.Game) error {
		g.State = game.StateInProgress
		return nil
	}); err != nil {
		return false, err
	}
	return s.Store.DeleteSession(ctx, gameID, userID, check)
}

func TestLeave_GameStartsBeforeDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()

	gameID, err := h.svc.Join(ctx, alice)
	require.NoError(t, err)

	opts := game.DefaultOptions()
	opts.Now = h.clock.Now
	svc := game.NewService(game.Deps{
		Store:     &startingStore{Store: h.store},
		Locker:    h.locker,
		Scheduler: h.scheduler,
		Questions: h.questions,
		Generator: h.generator,
		Executor:  h.executor,
	}, opts, zerolog.Nop())

	err = svc.Leave(ctx, gameID, alice)
	assert.ErrorIs(t, err, game.ErrInvalidState)

	g, err := h.store.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, game.StateInProgress, g.State)
	h.session(t, gameID, alice)
}

func TestLeave_InProgressRejected(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	gameID := h.startGame(t, alice)

	err := h.svc.Leave(context.Background(), gameID, alice)
	assert.ErrorIs(t, err, game.ErrInvalidState)
}

func TestCurrent_HiddenCasesOnlyAfterFinish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := uuid.New()

	_, err := h.svc.Current(ctx, alice)
	assert.ErrorIs(t, err, game.ErrNotFound)

	gameID := h.startGame(t, alice)

	view, err := h.svc.Current(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, gameID, view.Game.ID)
	assert.Equal(t, alice, view.Session.UserID)
	assert.Len(t, view.Game.Question.Examples, 2)
	assert.Nil(t, view.TestCases)

	h.fire(t, gameID)

	view, err = h.svc.Current(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, game.StateFinished, view.Game.State)
	assert.Len(t, view.TestCases, 4)
}

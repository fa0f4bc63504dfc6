package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Matchmaker finds or creates a joinable game and keeps each player in at most
// one non-terminal game.
type Matchmaker struct {
	store     Store
	locker    Locker
	lifecycle *Controller
	questions QuestionSource
	notifier  Notifier
	opts      Options
	logger    zerolog.Logger
}

// View is what a player sees of their current game.
// TestCases is only populated once the game has finished.
type View struct {
	Game      Game          `json:"game"`
	Session   PlayerSession `json:"session"`
	TestCases []TestCase    `json:"test_cases,omitempty"`
}

// Join places userID in a waiting game and returns its id.
func (m *Matchmaker) Join(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	unlock, err := m.locker.Lock(ctx, "join:"+userID.String(), m.opts.JoinLockTTL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("join: %w", err)
	}
	defer unlock()

	if err := m.ensureFree(ctx, userID); err != nil {
		return uuid.Nil, err
	}

	candidate, err := m.pickWaiting(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if candidate != nil {
		err := m.enter(ctx, candidate, userID)
		if err == nil {
			return candidate.ID, nil
		}
		// The candidate started or vanished between read and insert; open a fresh game.
		if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrNotFound) {
			return uuid.Nil, err
		}
		m.logger.Debug().Err(err).Str("game_id", candidate.ID.String()).Msg("candidate game no longer joinable")
	}

	g, err := m.lifecycle.CreateGame(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := m.enter(ctx, g, userID); err != nil {
		return uuid.Nil, err
	}
	return g.ID, nil
}

// ensureFree rejects players whose most recent session belongs to a live game.
func (m *Matchmaker) ensureFree(ctx context.Context, userID uuid.UUID) error {
	last, err := m.store.LatestSession(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest session: %w", err)
	}

	g, err := m.store.GetGame(ctx, last.GameID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	if !g.State.Terminal() {
		return fmt.Errorf("game %s is %s: %w", g.ID, g.State, ErrAlreadyInGame)
	}
	return nil
}

// pickWaiting samples uniformly among the most recent waiting games, spreading
// concurrent joiners instead of piling them onto one record.
func (m *Matchmaker) pickWaiting(ctx context.Context) (*Game, error) {
	games, err := m.store.RecentWaitingGames(ctx, m.opts.WaitingCandidates)
	if err != nil {
		return nil, fmt.Errorf("list waiting games: %w", err)
	}
	if len(games) == 0 {
		return nil, nil
	}
	g := games[m.opts.Pick(len(games))]
	return &g, nil
}

func (m *Matchmaker) enter(ctx context.Context, g *Game, userID uuid.UUID) error {
	now := m.opts.Now()
	s := &PlayerSession{
		GameID:          g.ID,
		UserID:          userID,
		Code:            g.Question.StarterCode,
		ChatHistory:     []ChatTurn{},
		TestState:       RunState{Status: RunIdle},
		SubmissionState: RunState{Status: RunIdle},
		JoinedAt:        now,
		UpdatedAt:       now,
	}
	err := m.store.InsertSession(ctx, s, func(cur Game) error {
		if cur.State != StateWaiting {
			return fmt.Errorf("game is %s: %w", cur.State, ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("game_id", g.ID.String()).
		Str("user_id", userID.String()).
		Msg("player joined")
	publish(ctx, m.notifier, m.logger, Event{Type: EventPlayerJoined, GameID: g.ID, UserID: userRef(userID)})
	return nil
}

// Leave deletes the player's session in a waiting game. The last player out
// takes the game with them.
func (m *Matchmaker) Leave(ctx context.Context, gameID, userID uuid.UUID) error {
	if _, err := m.store.GetSession(ctx, gameID, userID); err != nil {
		return err
	}
	g, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if err := leavable(*g); err != nil {
		return err
	}

	gameDeleted, err := m.store.DeleteSession(ctx, gameID, userID, leavable)
	if err != nil {
		return err
	}

	log := m.logger.Info().Str("game_id", gameID.String()).Str("user_id", userID.String())
	if gameDeleted {
		log.Msg("last player left, game deleted")
		publish(ctx, m.notifier, m.logger, Event{Type: EventGameDeleted, GameID: gameID})
		return nil
	}
	log.Msg("player left")
	publish(ctx, m.notifier, m.logger, Event{Type: EventPlayerLeft, GameID: gameID, UserID: userRef(userID)})
	return nil
}

func leavable(g Game) error {
	if g.State != StateWaiting {
		return fmt.Errorf("cannot leave a game that is %s: %w", g.State, ErrInvalidState)
	}
	return nil
}

// Current returns the player's most recent game. Hidden test cases are only
// attached once the game has finished.
func (m *Matchmaker) Current(ctx context.Context, userID uuid.UUID) (*View, error) {
	s, err := m.store.LatestSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	g, err := m.store.GetGame(ctx, s.GameID)
	if err != nil {
		return nil, err
	}

	view := &View{Game: *g, Session: *s}
	if g.State == StateFinished {
		q, err := m.questions.Question(ctx, g.Question.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("load question: %w", err)
		}
		view.TestCases = q.TestCases
	}
	return view, nil
}

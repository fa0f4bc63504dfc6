package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/metrics"
)

// errSkip aborts an update without writing; the caller treats it as a no-op.
var errSkip = errors.New("skip")

// Controller drives games through waiting -> in-progress -> finished, or
// waiting -> cancelled. Transitions never reverse.
type Controller struct {
	store     Store
	questions QuestionSource
	scheduler Scheduler
	notifier  Notifier
	opts      Options
	logger    zerolog.Logger
}

// CreateGame picks a random active question and opens a waiting game.
// The start trigger is armed before the game is stored, so a failed insert
// leaves only a trigger that will find nothing to advance.
func (c *Controller) CreateGame(ctx context.Context, creatorID uuid.UUID) (*Game, error) {
	pool, err := c.questions.ActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("load question pool: no active questions: %w", ErrNotFound)
	}
	q := pool[c.opts.Pick(len(pool))]

	now := c.opts.Now()
	g := &Game{
		ID:        uuid.New(),
		Mode:      ModeFastestPlayer,
		State:     StateWaiting,
		Question:  Snapshot(q, c.opts.PublicFraction),
		StartTime: now.Add(c.opts.WaitingDuration),
		EndTime:   now.Add(c.opts.WaitingDuration + c.opts.PlayDuration),
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.arm(ctx, g.ID, StateWaiting, c.opts.WaitingDuration); err != nil {
		return nil, err
	}
	if err := c.store.InsertGame(ctx, g); err != nil {
		return nil, fmt.Errorf("insert game: %w", err)
	}

	metrics.GamesCreated.Inc()
	c.logger.Info().
		Str("game_id", g.ID.String()).
		Str("creator_id", creatorID.String()).
		Str("question_id", q.ID).
		Time("start_time", g.StartTime).
		Msg("game created")
	publish(ctx, c.notifier, c.logger, Event{Type: EventGameCreated, GameID: g.ID, State: g.State})

	return g, nil
}

// Advance moves the game one step from whatever state it is in now.
// Missing games and terminal states are silently ignored.
func (c *Controller) Advance(ctx context.Context, gameID uuid.UUID) error {
	_, err := c.advance(ctx, gameID, "")
	return err
}

// HandleTrigger applies a scheduled trigger only if the game is still in the
// state the trigger was armed for.
func (c *Controller) HandleTrigger(ctx context.Context, t Trigger) error {
	applied, err := c.advance(ctx, t.GameID, t.Expect)
	switch {
	case err != nil:
		metrics.Triggers.WithLabelValues("failed").Inc()
	case applied:
		metrics.Triggers.WithLabelValues("applied").Inc()
	default:
		metrics.Triggers.WithLabelValues("skipped").Inc()
	}
	return err
}

func (c *Controller) advance(ctx context.Context, gameID uuid.UUID, expect State) (bool, error) {
	g, err := c.store.GetGame(ctx, gameID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug().Str("game_id", gameID.String()).Msg("advance on missing game ignored")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load game: %w", err)
	}

	from := g.State
	if expect != "" && from != expect {
		c.logger.Debug().
			Str("game_id", gameID.String()).
			Str("state", string(from)).
			Str("expect", string(expect)).
			Msg("stale trigger ignored")
		return false, nil
	}

	var to State
	switch from {
	case StateWaiting:
		to = StateInProgress
		// Arm the finish trigger first: if the write below fails, the redelivered
		// start trigger arms another and the stale one is a guarded no-op.
		if err := c.arm(ctx, gameID, StateInProgress, c.opts.PlayDuration); err != nil {
			return false, err
		}
	case StateInProgress:
		to = StateFinished
	default:
		return false, nil
	}

	now := c.opts.Now()
	updated, err := c.store.UpdateGame(ctx, gameID, func(g *Game) error {
		if g.State != from {
			return errSkip
		}
		g.State = to
		g.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("advance game: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger.Info().
		Str("game_id", gameID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("game advanced")
	publish(ctx, c.notifier, c.logger, Event{Type: EventGameState, GameID: gameID, State: updated.State})
	return true, nil
}

// Cancel aborts a waiting game. Only the creator may cancel. The armed start
// trigger is left in place; it no-ops against a cancelled game.
func (c *Controller) Cancel(ctx context.Context, gameID, requesterID uuid.UUID) error {
	now := c.opts.Now()
	_, err := c.store.UpdateGame(ctx, gameID, func(g *Game) error {
		if g.CreatorID != requesterID {
			return fmt.Errorf("only the creator may cancel: %w", ErrForbidden)
		}
		if g.State != StateWaiting {
			return fmt.Errorf("cannot cancel a game that is %s: %w", g.State, ErrInvalidState)
		}
		g.State = StateCancelled
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	metrics.Transitions.WithLabelValues(string(StateWaiting), string(StateCancelled)).Inc()
	c.logger.Info().
		Str("game_id", gameID.String()).
		Str("requester_id", requesterID.String()).
		Msg("game cancelled")
	publish(ctx, c.notifier, c.logger, Event{Type: EventGameState, GameID: gameID, State: StateCancelled})
	return nil
}

func (c *Controller) arm(ctx context.Context, gameID uuid.UUID, expect State, delay time.Duration) error {
	t := Trigger{
		ID:     uuid.New(),
		GameID: gameID,
		Expect: expect,
		FireAt: c.opts.Now().Add(delay),
	}
	if err := c.scheduler.RunAfter(ctx, delay, t); err != nil {
		return fmt.Errorf("schedule advance: %w", err)
	}
	return nil
}

// PublicCaseCount is how many leading cases of n are visible before the game ends.
// Any positive fraction exposes at least one case.
func PublicCaseCount(n int, fraction float64) int {
	if n == 0 || fraction <= 0 {
		return 0
	}
	k := int(math.Floor(float64(n) * fraction))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Snapshot copies the player-visible part of q. Hidden cases are never included.
func Snapshot(q Question, fraction float64) QuestionSnapshot {
	k := PublicCaseCount(len(q.TestCases), fraction)
	examples := make([]TestCase, k)
	copy(examples, q.TestCases[:k])
	return QuestionSnapshot{
		QuestionID:  q.ID,
		Title:       q.Title,
		Description: q.Description,
		StarterCode: q.StarterCode,
		Examples:    examples,
	}
}

package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/logging"
	"github.com/gokatarajesh/codeduel/internal/metrics"
)

const errNoCode = "no code found in response"

// Coordinator runs the chat loop between a player and the co-pilot.
// A session has at most one generating AI turn at a time.
type Coordinator struct {
	store     Store
	generator Generator
	notifier  Notifier
	runner    *runner
	opts      Options
	logger    zerolog.Logger
}

// SendMessage appends the instruction and a generating placeholder, stamps the
// prompt cooldown, and resolves the placeholder asynchronously.
func (c *Coordinator) SendMessage(ctx context.Context, gameID, userID uuid.UUID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("message is empty: %w", ErrInvalidInput)
	}

	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	s, err := c.store.GetSession(ctx, gameID, userID)
	if err != nil {
		return err
	}

	now := c.opts.Now()
	if err := c.canPrompt(*g, s, now); err != nil {
		return err
	}

	updated, err := c.store.UpdateSession(ctx, gameID, userID, func(g Game, s *PlayerSession) error {
		if err := c.canPrompt(g, s, now); err != nil {
			return err
		}
		s.ChatHistory = append(s.ChatHistory,
			ChatTurn{Kind: TurnUser, User: &UserTurn{Text: message, SentAt: now}},
			ChatTurn{Kind: TurnAI, AI: &AITurn{Status: AIGenerating, StartedAt: now}},
		)
		s.LastPromptedAt = &now
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	publish(ctx, c.notifier, c.logger, Event{Type: EventChatUpdated, GameID: gameID, UserID: userRef(userID)})

	req := GenerationRequest{Code: updated.Code, Instruction: message, Model: c.opts.Model}
	c.runner.Go("generate:"+gameID.String()+":"+userID.String(), c.opts.GenerationTimeout, func(ctx context.Context) {
		c.generate(ctx, gameID, userID, req, now)
	})
	return nil
}

func (c *Coordinator) canPrompt(g Game, s *PlayerSession, now time.Time) error {
	if g.State != StateInProgress {
		return fmt.Errorf("game is %s: %w", g.State, ErrInvalidState)
	}
	if last, ok := s.LastTurn(); ok && last.Pending() {
		return fmt.Errorf("previous prompt is still generating: %w", ErrConflict)
	}
	if err := checkRate(ActionPrompt, s.LastPromptedAt, c.opts.PromptCooldown, now); err != nil {
		metrics.RateLimited.WithLabelValues(ActionPrompt).Inc()
		return err
	}
	return nil
}

func (c *Coordinator) generate(ctx context.Context, gameID, userID uuid.UUID, req GenerationRequest, startedAt time.Time) {
	logger := logging.FromContext(ctx)

	var preview string
	onPartial := func(text string) {
		code, ok := ExtractCode(text, c.opts.OpenMarker, c.opts.CloseMarker)
		if !ok || code == preview {
			return
		}
		preview = code
		if err := c.resolveLast(ctx, gameID, userID, func(_ *PlayerSession, t *AITurn) {
			t.Code = code
		}); err != nil {
			logger.Debug().Err(err).Msg("partial update dropped")
		}
	}

	text, genErr := c.generator.Generate(ctx, req, onPartial)

	status := AISuccess
	var code, reason string
	switch extracted, ok := ExtractCode(text, c.opts.OpenMarker, c.opts.CloseMarker); {
	case genErr != nil:
		status, reason = AIError, genErr.Error()
	case !ok:
		status, reason = AIError, errNoCode
	default:
		code = extracted
	}

	err := c.resolveLast(ctx, gameID, userID, func(s *PlayerSession, t *AITurn) {
		resolvedAt := c.opts.Now()
		t.Status = status
		t.ResolvedAt = &resolvedAt
		if status == AISuccess {
			t.Code = code
			t.Error = ""
			s.Code = code
			return
		}
		t.Code = ""
		t.Error = reason
	})
	if err != nil {
		logger.Error().Err(err).Str("game_id", gameID.String()).Str("user_id", userID.String()).Msg("resolve ai turn failed")
		return
	}

	metrics.Generations.WithLabelValues(string(status)).Inc()
	metrics.GenerationSeconds.Observe(c.opts.Now().Sub(startedAt).Seconds())
	logger.Info().
		Str("game_id", gameID.String()).
		Str("user_id", userID.String()).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("ai turn resolved")

	publish(ctx, c.notifier, c.logger, Event{Type: EventChatUpdated, GameID: gameID, UserID: userRef(userID)})
	if status == AISuccess {
		publish(ctx, c.notifier, c.logger, Event{Type: EventCodeUpdated, GameID: gameID, UserID: userRef(userID)})
	}
}

// resolveLast mutates the trailing AI turn in place while it is still generating.
// The game state is deliberately not checked: late results are kept for review.
func (c *Coordinator) resolveLast(ctx context.Context, gameID, userID uuid.UUID, fn func(s *PlayerSession, t *AITurn)) error {
	// A fresh context keeps the final write alive when generation hit its deadline.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	_, err := c.store.UpdateSession(ctx, gameID, userID, func(_ Game, s *PlayerSession) error {
		last, ok := s.LastTurn()
		if !ok || last.Kind != TurnAI || last.AI == nil || last.AI.Status != AIGenerating {
			return errSkip
		}
		fn(s, last.AI)
		s.UpdatedAt = c.opts.Now()
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}

// ResetCode restores the starter code of the game's question.
func (c *Coordinator) ResetCode(ctx context.Context, gameID, userID uuid.UUID) error {
	now := c.opts.Now()
	_, err := c.store.UpdateSession(ctx, gameID, userID, func(g Game, s *PlayerSession) error {
		if g.State != StateInProgress {
			return fmt.Errorf("game is %s: %w", g.State, ErrInvalidState)
		}
		s.Code = g.Question.StarterCode
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	publish(ctx, c.notifier, c.logger, Event{Type: EventCodeUpdated, GameID: gameID, UserID: userRef(userID)})
	return nil
}

package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for games and sessions.
// Update methods are atomic read-modify-write operations: fn sees the current
// record, mutates it in place, and the result is persisted only if fn returns nil.
// Missing records are reported as ErrNotFound.
type Store interface {
	InsertGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*Game, error)
	UpdateGame(ctx context.Context, id uuid.UUID, fn func(g *Game) error) (*Game, error)
	// RecentWaitingGames returns up to limit waiting games, newest first.
	RecentWaitingGames(ctx context.Context, limit int) ([]Game, error)

	// InsertSession stores s after check accepts the current game, in one transaction.
	InsertSession(ctx context.Context, s *PlayerSession, check func(g Game) error) error
	GetSession(ctx context.Context, gameID, userID uuid.UUID) (*PlayerSession, error)
	// UpdateSession passes a read-only snapshot of the owning game alongside the session.
	UpdateSession(ctx context.Context, gameID, userID uuid.UUID, fn func(g Game, s *PlayerSession) error) (*PlayerSession, error)
	// DeleteSession removes the session after check accepts the current game, and
	// the game too when no sessions remain, in one transaction.
	DeleteSession(ctx context.Context, gameID, userID uuid.UUID, check func(g Game) error) (gameDeleted bool, err error)
	// LatestSession returns the user's most recently joined session.
	LatestSession(ctx context.Context, userID uuid.UUID) (*PlayerSession, error)
}

// Locker serializes short critical sections per key across processes.
type Locker interface {
	// Lock returns ErrConflict when the key is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Trigger is a scheduled lifecycle message. Expect guards the transition so a
// duplicate or late delivery is a no-op once the game has moved on.
type Trigger struct {
	ID     uuid.UUID `json:"id"`
	GameID uuid.UUID `json:"game_id"`
	Expect State     `json:"expect_state"`
	FireAt time.Time `json:"fire_at"`
}

// Scheduler delivers triggers at least once, no earlier than delay from now.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, t Trigger) error
}

// QuestionSource exposes the active question pool.
type QuestionSource interface {
	ActiveQuestions(ctx context.Context) ([]Question, error)
	Question(ctx context.Context, id string) (*Question, error)
}

// GenerationRequest is what the co-pilot sees for one prompt.
type GenerationRequest struct {
	Code        string
	Instruction string
	Model       string
}

// Generator is the external AI code-generation collaborator. onPartial, when
// non-nil, receives the accumulated completion text as it streams.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest, onPartial func(text string)) (string, error)
}

// ExecutionResult is the raw per-case outcome from the sandbox.
type ExecutionResult struct {
	Status ResultStatus    `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Executor is the external sandboxed code runner. Results keep input order.
type Executor interface {
	Run(ctx context.Context, code string, argsList []json.RawMessage) ([]ExecutionResult, error)
}

// Event types published after mutations.
const (
	EventGameCreated  = "game_created"
	EventGameState    = "game_state"
	EventGameDeleted  = "game_deleted"
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
	EventChatUpdated  = "chat_updated"
	EventCodeUpdated  = "code_updated"
	EventRunUpdated   = "run_updated"
)

// Event tells watchers something changed; they re-read the store for details.
type Event struct {
	Type   string     `json:"type"`
	GameID uuid.UUID  `json:"game_id"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	State  State      `json:"state,omitempty"`
}

// Notifier fans events out to watchers. Delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, evt Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) error { return nil }

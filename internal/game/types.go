package game

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Mode of play. Only one variant exists today.
type Mode string

const ModeFastestPlayer Mode = "fastest-player"

// State is the lifecycle phase of a game.
type State string

const (
	StateWaiting    State = "waiting-for-players"
	StateInProgress State = "in-progress"
	StateFinished   State = "finished"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled
}

// TestCase is one argument list plus the value the solution must return.
type TestCase struct {
	Args     json.RawMessage `json:"args"`
	Expected json.RawMessage `json:"expected"`
}

// Question is the read-only reference entity behind a game.
type Question struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StarterCode string     `json:"starter_code"`
	TestCases   []TestCase `json:"test_cases"`
}

// QuestionSnapshot is the player-visible copy embedded in a game at creation.
// Examples only ever holds the public leading cases.
type QuestionSnapshot struct {
	QuestionID  string     `json:"question_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StarterCode string     `json:"starter_code"`
	Examples    []TestCase `json:"examples"`
}

// Game is one timed match instance.
type Game struct {
	ID        uuid.UUID        `json:"id"`
	Mode      Mode             `json:"mode"`
	State     State            `json:"state"`
	Question  QuestionSnapshot `json:"question"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	CreatorID uuid.UUID        `json:"creator_id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Version   int64            `json:"version"`
}

// TurnKind tags a chat turn.
type TurnKind string

const (
	TurnUser TurnKind = "user"
	TurnAI   TurnKind = "ai"
)

// AIStatus tags the resolution of an AI turn.
type AIStatus string

const (
	AIGenerating AIStatus = "generating"
	AISuccess    AIStatus = "success"
	AIError      AIStatus = "error"
)

// UserTurn is an instruction typed by the player.
type UserTurn struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// AITurn is the co-pilot's answer to the preceding user turn.
// Code holds the live preview while generating and the extracted block on success.
// Error is only set when Status is AIError.
type AITurn struct {
	Status     AIStatus   `json:"status"`
	Code       string     `json:"code,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ChatTurn is a tagged union: exactly one of User or AI is set, matching Kind.
type ChatTurn struct {
	Kind TurnKind  `json:"kind"`
	User *UserTurn `json:"user,omitempty"`
	AI   *AITurn   `json:"ai,omitempty"`
}

// Pending reports whether the turn still awaits an AI resolution.
func (t ChatTurn) Pending() bool {
	switch t.Kind {
	case TurnUser:
		return true
	case TurnAI:
		return t.AI != nil && t.AI.Status == AIGenerating
	}
	return false
}

// RunMode selects which sub-state machine a run drives.
type RunMode string

const (
	RunTest       RunMode = "test"
	RunSubmission RunMode = "submission"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	return m == RunTest || m == RunSubmission
}

// RunStatus is the phase of a test or submission sub-state machine.
type RunStatus string

const (
	RunIdle     RunStatus = "idle"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
)

// ResultStatus is the outcome of a single test case.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// CaseResult is the graded outcome of one test case.
type CaseResult struct {
	Status   ResultStatus    `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Expected string          `json:"expected,omitempty"`
	Actual   string          `json:"actual,omitempty"`
}

// IsCorrect reports whether the case passed.
func (r CaseResult) IsCorrect() bool {
	return r.Status == ResultSuccess
}

// RunState is an {idle, running, complete(results)} sub-state machine.
type RunState struct {
	Status      RunStatus    `json:"status"`
	Results     []CaseResult `json:"results,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// PlayerSession is one player's participation in one game.
type PlayerSession struct {
	GameID          uuid.UUID  `json:"game_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Code            string     `json:"code"`
	ChatHistory     []ChatTurn `json:"chat_history"`
	LastPromptedAt  *time.Time `json:"last_prompted_at,omitempty"`
	LastTestedAt    *time.Time `json:"last_tested_at,omitempty"`
	LastSubmittedAt *time.Time `json:"last_submitted_at,omitempty"`
	TestState       RunState   `json:"test_state"`
	SubmissionState RunState   `json:"submission_state"`
	JoinedAt        time.Time  `json:"joined_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

// LastTurn returns the most recent chat turn, if any.
func (s *PlayerSession) LastTurn() (ChatTurn, bool) {
	if len(s.ChatHistory) == 0 {
		return ChatTurn{}, false
	}
	return s.ChatHistory[len(s.ChatHistory)-1], true
}

func (s *PlayerSession) runState(mode RunMode) *RunState {
	if mode == RunSubmission {
		return &s.SubmissionState
	}
	return &s.TestState
}

func (s *PlayerSession) lastRunAt(mode RunMode) *time.Time {
	if mode == RunSubmission {
		return s.LastSubmittedAt
	}
	return s.LastTestedAt
}

func (s *PlayerSession) stampRun(mode RunMode, at time.Time) {
	if mode == RunSubmission {
		s.LastSubmittedAt = &at
		return
	}
	s.LastTestedAt = &at
}

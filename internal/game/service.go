package game

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes durations, cooldowns and generation settings.
type Options struct {
	WaitingDuration   time.Duration
	PlayDuration      time.Duration
	PromptCooldown    time.Duration
	TestCooldown      time.Duration
	PublicFraction    float64
	WaitingCandidates int
	JoinLockTTL       time.Duration

	Model       string
	OpenMarker  string
	CloseMarker string

	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration

	// Now and Pick are overridable for tests.
	Now  func() time.Time
	Pick func(n int) int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		WaitingDuration:   30 * time.Second,
		PlayDuration:      10 * time.Minute,
		PromptCooldown:    10 * time.Second,
		TestCooldown:      10 * time.Second,
		PublicFraction:    0.5,
		WaitingCandidates: 5,
		JoinLockTTL:       5 * time.Second,
		OpenMarker:        DefaultOpenMarker,
		CloseMarker:       DefaultCloseMarker,
		GenerationTimeout: 2 * time.Minute,
		ExecutionTimeout:  time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WaitingDuration <= 0 {
		o.WaitingDuration = def.WaitingDuration
	}
	if o.PlayDuration <= 0 {
		o.PlayDuration = def.PlayDuration
	}
	if o.PublicFraction <= 0 || o.PublicFraction > 1 {
		o.PublicFraction = def.PublicFraction
	}
	if o.WaitingCandidates <= 0 {
		o.WaitingCandidates = def.WaitingCandidates
	}
	if o.JoinLockTTL <= 0 {
		o.JoinLockTTL = def.JoinLockTTL
	}
	if o.OpenMarker == "" {
		o.OpenMarker = def.OpenMarker
	}
	if o.CloseMarker == "" {
		o.CloseMarker = def.CloseMarker
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = def.GenerationTimeout
	}
	if o.ExecutionTimeout <= 0 {
		o.ExecutionTimeout = def.ExecutionTimeout
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Pick == nil {
		o.Pick = rand.IntN
	}
	return o
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Store     Store
	Locker    Locker
	Scheduler Scheduler
	Questions QuestionSource
	Generator Generator
	Executor  Executor
	Notifier  Notifier
}

// Service is the player-facing facade over the lifecycle controller,
// matchmaker, generation coordinator and grading pipeline.
type Service struct {
	lifecycle   *Controller
	matchmaker  *Matchmaker
	coordinator *Coordinator
	grader      *Grader
	runner      *runner
	logger      zerolog.Logger
}

// NewService wires the engine components around shared dependencies.
func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	logger = logger.With().Str("component", "game").Logger()
	run := &runner{logger: logger}

	lifecycle := &Controller{
		store:     deps.Store,
		questions: deps.Questions,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		opts:      opts,
		logger:    logger.With().Str("part", "lifecycle").Logger(),
	}

	return &Service{
		lifecycle: lifecycle,
		matchmaker: &Matchmaker{
			store:     deps.Store,
			locker:    deps.Locker,
			lifecycle: lifecycle,
			questions: deps.Questions,
			notifier:  deps.Notifier,
			opts:      opts,
			logger:    logger.With().Str("part", "matchmaker").Logger(),
		},
		coordinator: &Coordinator{
			store:     deps.Store,
			generator: deps.Generator,
			notifier:  deps.Notifier,
			runner:    run,
			opts:      opts,
			logger:    logger.With().Str("part", "generation").Logger(),
		},
		grader: &Grader{
			store:     deps.Store,
			questions: deps.Questions,
			executor:  deps.Executor,
			notifier:  deps.Notifier,
			runner:    run,
			opts:      opts,
			logger:    logger.With().Str("part", "grading").Logger(),
		},
		runner: run,
		logger: logger,
	}
}

// Join places the player in a waiting game, creating one if needed.
func (s *Service) Join(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.matchmaker.Join(ctx, userID)
}

// Leave removes the player from a game that has not started.
func (s *Service) Leave(ctx context.Context, gameID, userID uuid.UUID) error {
	return s.matchmaker.Leave(ctx, gameID, userID)
}

// Current returns the player's most recent game and session.
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*View, error) {
	return s.matchmaker.Current(ctx, userID)
}

// Cancel aborts a waiting game on behalf of its creator.
func (s *Service) Cancel(ctx context.Context, gameID, requesterID uuid.UUID) error {
	return s.lifecycle.Cancel(ctx, gameID, requesterID)
}

// CreateGame opens a new waiting game owned by creatorID.
func (s *Service) CreateGame(ctx context.Context, creatorID uuid.UUID) (*Game, error) {
	return s.lifecycle.CreateGame(ctx, creatorID)
}

// Advance moves a game one step along its lifecycle.
func (s *Service) Advance(ctx context.Context, gameID uuid.UUID) error {
	return s.lifecycle.Advance(ctx, gameID)
}

// HandleTrigger applies a scheduled lifecycle trigger.
func (s *Service) HandleTrigger(ctx context.Context, t Trigger) error {
	return s.lifecycle.HandleTrigger(ctx, t)
}

// SendMessage prompts the co-pilot on behalf of the player.
func (s *Service) SendMessage(ctx context.Context, gameID, userID uuid.UUID, message string) error {
	return s.coordinator.SendMessage(ctx, gameID, userID, message)
}

// ResetCode restores the question's starter code.
func (s *Service) ResetCode(ctx context.Context, gameID, userID uuid.UUID) error {
	return s.coordinator.ResetCode(ctx, gameID, userID)
}

// RunTests grades the player's current code in the given mode.
func (s *Service) RunTests(ctx context.Context, gameID, userID uuid.UUID, mode RunMode) error {
	return s.grader.RunTests(ctx, gameID, userID, mode)
}

// Wait blocks until in-flight generation and grading units finish.
func (s *Service) Wait() {
	s.runner.Wait()
}

func publish(ctx context.Context, n Notifier, logger zerolog.Logger, evt Event) {
	if err := n.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).Str("event", evt.Type).Str("game_id", evt.GameID.String()).Msg("publish event failed")
	}
}

func userRef(id uuid.UUID) *uuid.UUID {
	return &id
}

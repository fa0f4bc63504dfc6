package question

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

// PoolCache defines cache behavior (implemented by Redis-backed Cache).
// A miss is reported as a nil result with a nil error.
type PoolCache interface {
	GetPool(ctx context.Context) ([]game.Question, error)
	SetPool(ctx context.Context, pool []game.Question) error
	GetQuestion(ctx context.Context, id string) (*game.Question, error)
	SetQuestion(ctx context.Context, q game.Question) error
}

type ServiceOptions struct {
	// PoolLimit caps how many active questions are considered per game.
	PoolLimit int32
}

// Service serves the active question pool, reading through the cache to Postgres.
type Service struct {
	repo   *Repository
	cache  PoolCache
	opts   ServiceOptions
	logger zerolog.Logger
}

var _ game.QuestionSource = (*Service)(nil)

func NewService(repo *Repository, cache PoolCache, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.PoolLimit <= 0 {
		opts.PoolLimit = 500
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		opts:   opts,
		logger: logger.With().Str("component", "question_pool").Logger(),
	}
}

// ActiveQuestions returns the cached pool, loading it from Postgres on a miss.
func (s *Service) ActiveQuestions(ctx context.Context) ([]game.Question, error) {
	if s.cache != nil {
		cached, err := s.cache.GetPool(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("pool cache read failed")
		}
		if len(cached) > 0 {
			return cached, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh reloads the pool from Postgres and repopulates the cache.
func (s *Service) Refresh(ctx context.Context) ([]game.Question, error) {
	pool, err := s.repo.ListActive(ctx, s.opts.PoolLimit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(pool) > 0 {
		if err := s.cache.SetPool(ctx, pool); err != nil {
			s.logger.Warn().Err(err).Msg("pool cache write failed")
		}
	}
	return pool, nil
}

// Question returns one question including its hidden cases.
func (s *Service) Question(ctx context.Context, id string) (*game.Question, error) {
	if s.cache != nil {
		cached, err := s.cache.GetQuestion(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("question_id", id).Msg("question cache read failed")
		}
		if cached != nil {
			return cached, nil
		}
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetQuestion(ctx, *q); err != nil {
			s.logger.Warn().Err(err).Str("question_id", id).Msg("question cache write failed")
		}
	}
	return q, nil
}

// Warmer keeps the pool cache hot so game creation rarely waits on Postgres.
type Warmer struct {
	service  *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewWarmer(service *Service, interval time.Duration, logger zerolog.Logger) *Warmer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Warmer{
		service:  service,
		interval: interval,
		logger:   logger.With().Str("component", "question_warmer").Logger(),
	}
}

// Run blocks until context cancellation.
func (w *Warmer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Warmer) tick(ctx context.Context) {
	pool, err := w.service.Refresh(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("refresh question pool failed")
		return
	}
	if len(pool) == 0 {
		w.logger.Warn().Msg("question pool is empty")
		return
	}
	w.logger.Debug().Int("questions", len(pool)).Msg("question pool refreshed")
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/auth/jwt"
	"github.com/gokatarajesh/codeduel/internal/config"
	"github.com/gokatarajesh/codeduel/internal/copilot"
	"github.com/gokatarajesh/codeduel/internal/events"
	"github.com/gokatarajesh/codeduel/internal/executor"
	"github.com/gokatarajesh/codeduel/internal/game"
	"github.com/gokatarajesh/codeduel/internal/logging"
	"github.com/gokatarajesh/codeduel/internal/question"
	"github.com/gokatarajesh/codeduel/internal/scheduler"
	"github.com/gokatarajesh/codeduel/internal/server"
	"github.com/gokatarajesh/codeduel/internal/store/redisstore"
	ws "github.com/gokatarajesh/codeduel/pkg/http/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server) and
// the background workers that drive game lifecycles.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	games       *game.Service
	scheduler   *scheduler.Scheduler
	broadcaster *events.Broadcaster
	warmer      *question.Warmer

	bgCancels []context.CancelFunc
	bgWG      sync.WaitGroup
}

// New bootstraps logger, Postgres, Redis, the game engine and HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	logger.Info().Msg("starting application bootstrap")

	pool, err := pgxpool.New(ctx, cfg.Postgres.PoolDSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	questions := question.NewService(
		question.NewRepository(question.NewQueries(pool)),
		question.NewCache(redisClient, cfg.Game.QuestionCacheTTL),
		question.ServiceOptions{},
		logger,
	)

	sched := scheduler.New(redisClient, scheduler.Options{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		RetryDelay:   cfg.Scheduler.RetryDelay,
		Lease:        cfg.Scheduler.Lease,
	}, logger)

	if cfg.Copilot.URL == "" {
		logger.Warn().Msg("COPILOT_URL not configured; prompts will fail")
	}
	if cfg.Executor.URL == "" {
		logger.Warn().Msg("EXECUTOR_URL not configured; test runs will fail")
	}

	games := game.NewService(game.Deps{
		Store:     redisstore.NewStore(redisClient, redisstore.Options{Retention: cfg.Game.SessionRetention}, logger),
		Locker:    redisstore.NewLocker(redisClient, logger),
		Scheduler: sched,
		Questions: questions,
		Generator: copilot.NewClient(copilot.Config{
			URL:     cfg.Copilot.URL,
			APIKey:  cfg.Copilot.APIKey,
			Model:   cfg.Copilot.Model,
			Timeout: cfg.Copilot.Timeout,
		}, logger),
		Executor: executor.NewClient(executor.Config{
			URL:     cfg.Executor.URL,
			APIKey:  cfg.Executor.APIKey,
			Timeout: cfg.Executor.Timeout,
		}, logger),
		Notifier: events.NewPublisher(redisClient, ""),
	}, gameOptions(cfg), logger)

	tokens := jwt.NewManager(jwt.TokenConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Name,
	})

	wsHub := ws.NewHub(logger)

	apiServer := server.NewHTTPServer(cfg, logger, server.Deps{
		Games:  games,
		Tokens: tokens,
		Hub:    wsHub,
		Pings: []server.Pinger{
			pool.Ping,
			func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	return &Application{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		http:        apiServer,
		games:       games,
		scheduler:   sched,
		broadcaster: events.NewBroadcaster(redisClient, wsHub, "", logger),
		warmer:      question.NewWarmer(questions, cfg.Game.QuestionCacheTTL/2, logger),
		bgCancels:   make([]context.CancelFunc, 0, 3),
	}, nil
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}
	a.bgWG.Wait()

	// In-flight generations and runs still need Redis to record their outcome.
	drained := make(chan struct{})
	go func() {
		a.games.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn().Msg("gave up waiting for in-flight generation and grading")
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return runErr
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	a.startWorker(ctx, "lifecycle scheduler", func(ctx context.Context) error {
		return a.scheduler.Run(ctx, a.games.HandleTrigger)
	})
	a.startWorker(ctx, "game event broadcaster", a.broadcaster.Run)
	a.startWorker(ctx, "question pool warmer", a.warmer.Run)
}

func (a *Application) startWorker(ctx context.Context, name string, run func(context.Context) error) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancels = append(a.bgCancels, cancel)
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		if err := run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Str("worker", name).Msg("background worker stopped")
		}
	}()
}

// gameOptions maps configuration onto engine options. The engine's own call
// deadlines follow the adapter timeouts.
func gameOptions(cfg *config.App) game.Options {
	return game.Options{
		WaitingDuration:   cfg.Game.WaitingDuration,
		PlayDuration:      cfg.Game.PlayDuration,
		PromptCooldown:    cfg.Game.PromptCooldown,
		TestCooldown:      cfg.Game.TestCooldown,
		PublicFraction:    cfg.Game.PublicFraction,
		WaitingCandidates: cfg.Game.WaitingCandidates,
		Model:             cfg.Copilot.Model,
		OpenMarker:        cfg.Game.OpenMarker,
		CloseMarker:       cfg.Game.CloseMarker,
		GenerationTimeout: cfg.Copilot.Timeout,
		ExecutionTimeout:  cfg.Executor.Timeout,
	}
}

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"codeduel"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres  Postgres
	Redis     Redis
	Security  Security
	Game      Game
	Scheduler Scheduler
	Copilot   Copilot
	Executor  Executor
	CORS      CORS
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10"`
}

// DSN renders the key/value connection string understood by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// PoolDSN is DSN plus the pgxpool sizing parameter.
func (p Postgres) PoolDSN() string {
	return fmt.Sprintf("%s pool_max_conns=%d", p.DSN(), p.MaxConns)
}

// Redis holds hot state, scheduler and pub/sub configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Security stores secrets for verifying player tokens.
type Security struct {
	JWTSecret string `env:"JWT_SECRET,notEmpty"`
}

// Game groups gameplay timings and limits.
type Game struct {
	WaitingDuration   time.Duration `env:"GAME_WAITING_DURATION" envDefault:"30s"`
	PlayDuration      time.Duration `env:"GAME_PLAY_DURATION" envDefault:"10m"`
	PromptCooldown    time.Duration `env:"PROMPT_COOLDOWN" envDefault:"10s"`
	TestCooldown      time.Duration `env:"TEST_COOLDOWN" envDefault:"10s"`
	PublicFraction    float64       `env:"PUBLIC_TEST_FRACTION" envDefault:"0.5"`
	WaitingCandidates int           `env:"WAITING_CANDIDATES" envDefault:"5"`
	SessionRetention  time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`
	OpenMarker        string        `env:"CODE_OPEN_MARKER" envDefault:"<code>"`
	CloseMarker       string        `env:"CODE_CLOSE_MARKER" envDefault:"</code>"`
	QuestionCacheTTL  time.Duration `env:"QUESTION_CACHE_TTL" envDefault:"1m"`
}

// Scheduler governs the delayed trigger poller.
type Scheduler struct {
	PollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"250ms"`
	BatchSize    int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"50"`
	RetryDelay   time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"2s"`
	Lease        time.Duration `env:"SCHEDULER_LEASE" envDefault:"30s"`
}

// Copilot configures the code generation service.
type Copilot struct {
	URL     string        `env:"COPILOT_URL"`
	APIKey  string        `env:"COPILOT_API_KEY"`
	Model   string        `env:"COPILOT_MODEL"`
	Timeout time.Duration `env:"COPILOT_TIMEOUT" envDefault:"60s"`
}

// Executor configures the sandboxed code runner.
type Executor struct {
	URL     string        `env:"EXECUTOR_URL"`
	APIKey  string        `env:"EXECUTOR_API_KEY"`
	Timeout time.Duration `env:"EXECUTOR_TIMEOUT" envDefault:"30s"`
}

// CORS holds Cross-Origin Resource Sharing configuration.
type CORS struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Game.PublicFraction < 0 || cfg.Game.PublicFraction > 1 {
		return nil, fmt.Errorf("PUBLIC_TEST_FRACTION must be within [0,1], got %v", cfg.Game.PublicFraction)
	}
	return cfg, nil
}

// LoadPostgres parses only the database settings, for tools that need nothing else.
func LoadPostgres() (*Postgres, error) {
	cfg := &Postgres{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	return cfg, nil
}

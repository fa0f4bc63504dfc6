package server

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/auth/jwt"
	"github.com/gokatarajesh/codeduel/internal/config"
	"github.com/gokatarajesh/codeduel/internal/game"
	ws "github.com/gokatarajesh/codeduel/pkg/http/ws"
)

// GameService is the player-facing engine surface. *game.Service satisfies it.
type GameService interface {
	Join(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	Leave(ctx context.Context, gameID, userID uuid.UUID) error
	Current(ctx context.Context, userID uuid.UUID) (*game.View, error)
	Cancel(ctx context.Context, gameID, requesterID uuid.UUID) error
	SendMessage(ctx context.Context, gameID, userID uuid.UUID, message string) error
	RunTests(ctx context.Context, gameID, userID uuid.UUID, mode game.RunMode) error
	ResetCode(ctx context.Context, gameID, userID uuid.UUID) error
}

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Games  GameService
	Tokens TokenValidator
	Hub    *ws.Hub
	Pings  []Pinger
}

// NewUpgrader builds a WebSocket upgrader that only accepts configured origins.
func NewUpgrader(cors config.CORS) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(cors.AllowedOrigins, origin) || slices.Contains(cors.AllowedOrigins, "*")
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewHandler wires every route behind the shared middleware chain.
func NewHandler(cfg *config.App, logger zerolog.Logger, deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/ping", func(w http.ResponseWriter, r *http.Request) {
		for _, ping := range deps.Pings {
			if err := ping(r.Context()); err != nil {
				logger.Error().Err(err).Msg("dependency ping failed")
				http.Error(w, "upstream error", http.StatusBadGateway)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	games := NewGameHandlers(deps.Games, logger)
	authed := RequireAuth(deps.Tokens, logger)
	mux.Handle("POST /v1/games/join", authed(http.HandlerFunc(games.Join)))
	mux.Handle("GET /v1/games/current", authed(http.HandlerFunc(games.Current)))
	mux.Handle("POST /v1/games/{gameID}/leave", authed(http.HandlerFunc(games.Leave)))
	mux.Handle("POST /v1/games/{gameID}/cancel", authed(http.HandlerFunc(games.Cancel)))
	mux.Handle("POST /v1/games/{gameID}/messages", authed(http.HandlerFunc(games.SendMessage)))
	mux.Handle("POST /v1/games/{gameID}/runs", authed(http.HandlerFunc(games.RunTests)))
	mux.Handle("POST /v1/games/{gameID}/code/reset", authed(http.HandlerFunc(games.ResetCode)))

	if deps.Hub != nil {
		watch := NewWatchHandler(deps.Games, deps.Hub, deps.Tokens, NewUpgrader(cfg.CORS), logger)
		mux.HandleFunc("GET /ws/games", watch.HandleWebSocket)
	}

	return RequestLogger(logger)(CORS(cfg.CORS)(mux))
}

// NewHTTPServer wraps the routes in an http.Server bound to cfg.HTTPAddr.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, deps Deps) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: NewHandler(cfg, logger, deps),
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
	"github.com/gokatarajesh/codeduel/internal/logging"
	httperrors "github.com/gokatarajesh/codeduel/pkg/http/errors"
)

// GameHandlers provides REST endpoints for player actions.
type GameHandlers struct {
	games  GameService
	logger zerolog.Logger
}

// NewGameHandlers creates HTTP handlers for game endpoints.
func NewGameHandlers(games GameService, logger zerolog.Logger) *GameHandlers {
	return &GameHandlers{
		games:  games,
		logger: logger.With().Str("component", "game_http").Logger(),
	}
}

type joinResponse struct {
	GameID string `json:"game_id"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type runRequest struct {
	Mode game.RunMode `json:"mode"`
}

// Join handles POST /v1/games/join
func (h *GameHandlers) Join(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	gameID, err := h.games.Join(r.Context(), claims.UserID)
	if err != nil {
		h.respondGameError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, joinResponse{GameID: gameID.String()})
}

// Current handles GET /v1/games/current
func (h *GameHandlers) Current(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	view, err := h.games.Current(r.Context(), claims.UserID)
	if err != nil {
		h.respondGameError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

// Leave handles POST /v1/games/{gameID}/leave
func (h *GameHandlers) Leave(w http.ResponseWriter, r *http.Request) {
	h.withGame(w, r, func(gameID, userID uuid.UUID) error {
		return h.games.Leave(r.Context(), gameID, userID)
	}, http.StatusNoContent)
}

// Cancel handles POST /v1/games/{gameID}/cancel
func (h *GameHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withGame(w, r, func(gameID, userID uuid.UUID) error {
		return h.games.Cancel(r.Context(), gameID, userID)
	}, http.StatusNoContent)
}

// SendMessage handles POST /v1/games/{gameID}/messages
func (h *GameHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	h.withGame(w, r, func(gameID, userID uuid.UUID) error {
		return h.games.SendMessage(r.Context(), gameID, userID, req.Message)
	}, http.StatusAccepted)
}

// RunTests handles POST /v1/games/{gameID}/runs
func (h *GameHandlers) RunTests(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if !req.Mode.Valid() {
		httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, "mode must be test or submission", "mode")
		return
	}
	h.withGame(w, r, func(gameID, userID uuid.UUID) error {
		return h.games.RunTests(r.Context(), gameID, userID, req.Mode)
	}, http.StatusAccepted)
}

// ResetCode handles POST /v1/games/{gameID}/code/reset
func (h *GameHandlers) ResetCode(w http.ResponseWriter, r *http.Request) {
	h.withGame(w, r, func(gameID, userID uuid.UUID) error {
		return h.games.ResetCode(r.Context(), gameID, userID)
	}, http.StatusNoContent)
}

func (h *GameHandlers) withGame(w http.ResponseWriter, r *http.Request, fn func(gameID, userID uuid.UUID) error, okStatus int) {
	claims, _ := ClaimsFrom(r.Context())

	gameID, err := uuid.Parse(r.PathValue("gameID"))
	if err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidGameID, "Invalid game id")
		return
	}
	if err := fn(gameID, claims.UserID); err != nil {
		h.respondGameError(w, r, err)
		return
	}
	w.WriteHeader(okStatus)
}

// respondGameError maps the engine's error taxonomy onto HTTP statuses.
func (h *GameHandlers) respondGameError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *game.RateLimitError
	switch {
	case errors.As(err, &rl):
		httperrors.RespondTooManyRequests(w, err.Error(), rl.RetryAfter)
	case errors.Is(err, game.ErrInvalidInput):
		httperrors.RespondBadRequest(w, httperrors.ErrCodeValidationFailed, err.Error())
	case errors.Is(err, game.ErrNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Game or session not found")
	case errors.Is(err, game.ErrForbidden):
		httperrors.RespondForbidden(w, httperrors.ErrCodeForbidden, err.Error())
	case errors.Is(err, game.ErrInvalidState):
		httperrors.RespondError(w, http.StatusConflict, httperrors.ErrCodeInvalidState, err.Error())
	case errors.Is(err, game.ErrAlreadyInGame):
		httperrors.RespondError(w, http.StatusConflict, httperrors.ErrCodeAlreadyInGame, err.Error())
	case errors.Is(err, game.ErrConflict):
		httperrors.RespondError(w, http.StatusConflict, httperrors.ErrCodeConflict, err.Error())
	default:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("game request failed")
		httperrors.RespondInternalError(w, "Internal server error")
	}
}

func (h *GameHandlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("encode response failed")
	}
}

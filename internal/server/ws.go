package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	httperrors "github.com/gokatarajesh/codeduel/pkg/http/errors"
	ws "github.com/gokatarajesh/codeduel/pkg/http/ws"
)

// WatchHandler lets a player subscribe to live events of their current game.
type WatchHandler struct {
	games    GameService
	hub      *ws.Hub
	tokens   TokenValidator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewWatchHandler(games GameService, hub *ws.Hub, tokens TokenValidator, upgrader websocket.Upgrader, logger zerolog.Logger) *WatchHandler {
	return &WatchHandler{
		games:    games,
		hub:      hub,
		tokens:   tokens,
		upgrader: upgrader,
		logger:   logger.With().Str("component", "game_ws").Logger(),
	}
}

// HandleWebSocket upgrades HTTP connection to WebSocket and authenticates user.
// Browsers cannot set headers on WebSocket requests, so the token rides in the query.
func (h *WatchHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Missing token")
		return
	}
	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket token validation failed")
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	userID := claims.UserID
	wsConn := ws.NewConnection(conn, h.logger.With().Str("user_id", userID.String()).Logger())
	h.hub.RegisterConnection(userID, wsConn)

	go wsConn.WritePump()

	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(context.Background(), userID, msg)
	})

	h.hub.UnregisterConnection(userID, wsConn)
}

func (h *WatchHandler) handleMessage(ctx context.Context, userID uuid.UUID, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeWatchGame:
		return h.handleWatch(ctx, userID, msg)
	case ws.TypeUnwatchGame:
		var req ws.WatchGamePayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(userID, httperrors.ErrCodeInvalidPayload, "Invalid payload")
		}
		gameID, err := uuid.Parse(req.GameID)
		if err != nil {
			return h.sendError(userID, httperrors.ErrCodeInvalidGameID, "Invalid game id")
		}
		h.hub.UnwatchGame(gameID, userID)
		return nil
	case ws.TypePing:
		return h.hub.SendToUser(userID, ws.Message{Type: ws.TypePong, Payload: json.RawMessage(`{}`), RequestID: msg.RequestID})
	default:
		return h.sendError(userID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// handleWatch only lets a player watch the game their latest session belongs to.
func (h *WatchHandler) handleWatch(ctx context.Context, userID uuid.UUID, msg ws.Message) error {
	var req ws.WatchGamePayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return h.sendError(userID, httperrors.ErrCodeInvalidPayload, "Invalid payload")
	}
	gameID, err := uuid.Parse(req.GameID)
	if err != nil {
		return h.sendError(userID, httperrors.ErrCodeInvalidGameID, "Invalid game id")
	}

	view, err := h.games.Current(ctx, userID)
	if err != nil || view.Game.ID != gameID {
		return h.sendError(userID, httperrors.ErrCodeNotFound, "Not a player of this game")
	}

	h.hub.WatchGame(gameID, userID)
	reply, err := ws.NewMessage(ws.TypeWatching, ws.WatchingPayload{GameID: gameID.String(), State: string(view.Game.State)})
	if err != nil {
		return err
	}
	reply.RequestID = msg.RequestID
	return h.hub.SendToUser(userID, reply)
}

func (h *WatchHandler) sendError(userID uuid.UUID, code, message string) error {
	msg, err := ws.NewMessage(ws.TypeError, ws.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return err
	}
	return h.hub.SendToUser(userID, msg)
}

package ws

import "encoding/json"

// MessageType constants for WebSocket protocol.
const (
	// Client -> Server
	TypeWatchGame   = "watch_game"
	TypeUnwatchGame = "unwatch_game"
	TypePing        = "ping"

	// Server -> Client
	TypeWatching  = "watching"
	TypeGameEvent = "game_event"
	TypeError     = "error"
	TypePong      = "pong"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage marshals payload into a typed message.
func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// Client Messages (incoming)

type WatchGamePayload struct {
	GameID string `json:"game_id"`
}

// Server Messages (outgoing)

type WatchingPayload struct {
	GameID string `json:"game_id"`
	State  string `json:"state"`
}

// GameEventPayload tells a watcher that a game or one of its sessions changed.
// Clients re-read the current game over HTTP for details.
type GameEventPayload struct {
	Event  string `json:"event"`
	GameID string `json:"game_id"`
	UserID string `json:"user_id,omitempty"`
	State  string `json:"state,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

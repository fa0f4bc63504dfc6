// Package events fans game events out across API instances through Redis
// pub/sub and onto local WebSocket connections.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
	ws "github.com/gokatarajesh/codeduel/pkg/http/ws"
)

const DefaultChannel = "game:events"

// Publisher implements game.Notifier on a Redis channel.
type Publisher struct {
	redis   *redis.Client
	channel string
}

var _ game.Notifier = (*Publisher)(nil)

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{redis: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, evt game.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Hub is the part of the WebSocket hub the broadcaster drives.
type Hub interface {
	BroadcastToGame(gameID uuid.UUID, msg ws.Message) error
	SendToUser(userID uuid.UUID, msg ws.Message) error
}

// Broadcaster listens for game events and forwards them to connected clients.
// Game-wide events go to every watcher; session events only to their owner.
type Broadcaster struct {
	redis   *redis.Client
	hub     Hub
	channel string
	logger  zerolog.Logger
}

func NewBroadcaster(client *redis.Client, hub Hub, channel string, logger zerolog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{
		redis:   client,
		hub:     hub,
		channel: channel,
		logger:  logger.With().Str("component", "game_broadcaster").Logger(),
	}
}

// Run subscribes to the event channel and blocks until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no event published after
	// Run returns from setup is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.Forward([]byte(msg.Payload))
		}
	}
}

// Forward routes one encoded event to the hub.
func (b *Broadcaster) Forward(payload []byte) {
	var evt game.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.logger.Warn().Err(err).Msg("failed to decode game event")
		return
	}

	out := ws.GameEventPayload{
		Event:  evt.Type,
		GameID: evt.GameID.String(),
		State:  string(evt.State),
	}
	if evt.UserID != nil {
		out.UserID = evt.UserID.String()
	}
	msg, err := ws.NewMessage(ws.TypeGameEvent, out)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to marshal game event")
		return
	}

	if sessionScoped(evt.Type) && evt.UserID != nil {
		err = b.hub.SendToUser(*evt.UserID, msg)
	} else {
		err = b.hub.BroadcastToGame(evt.GameID, msg)
	}
	if err != nil && !errors.Is(err, ws.ErrConnectionNotFound) {
		b.logger.Warn().Err(err).Str("event", evt.Type).Str("game_id", evt.GameID.String()).Msg("failed to deliver game event")
	}
}

func sessionScoped(eventType string) bool {
	switch eventType {
	case game.EventChatUpdated, game.EventCodeUpdated, game.EventRunUpdated:
		return true
	}
	return false
}

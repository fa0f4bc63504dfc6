// Package redisstore keeps game and session state in Redis as JSON blobs.
// Read-modify-write goes through WATCH/MULTI with bounded retries.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

const (
	waitingKey = "games:waiting"
	maxRetries = 16
)

func gameKey(id uuid.UUID) string {
	return fmt.Sprintf("game:%s", id)
}

func playersKey(id uuid.UUID) string {
	return fmt.Sprintf("game:%s:players", id)
}

func sessionKey(gameID, userID uuid.UUID) string {
	return fmt.Sprintf("session:%s:%s", gameID, userID)
}

func userSessionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:sessions", userID)
}

// Options tunes retention of finished state.
type Options struct {
	// Retention is how long terminal games and their sessions are kept for review.
	Retention time.Duration
}

// Store implements game.Store on Redis.
type Store struct {
	redis  *redis.Client
	opts   Options
	logger zerolog.Logger
}

// NewStore creates a store backed by client.
func NewStore(client *redis.Client, opts Options, logger zerolog.Logger) *Store {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Store{
		redis:  client,
		opts:   opts,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (s *Store) InsertGame(ctx context.Context, g *game.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, gameKey(g.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	if !ok {
		return fmt.Errorf("insert game %s: %w", g.ID, game.ErrConflict)
	}
	if g.State == game.StateWaiting {
		if err := s.redis.ZAdd(ctx, waitingKey, redis.Z{Score: score(g.CreatedAt), Member: g.ID.String()}).Err(); err != nil {
			return fmt.Errorf("index waiting game: %w", err)
		}
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*game.Game, error) {
	return getJSON[game.Game](ctx, s.redis, gameKey(id))
}

func (s *Store) UpdateGame(ctx context.Context, id uuid.UUID, fn func(g *game.Game) error) (*game.Game, error) {
	key := gameKey(id)
	var out *game.Game
	err := s.transact(ctx, func(tx *redis.Tx) error {
		g, err := getJSON[game.Game](ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		g.Version++
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("marshal game: %w", err)
		}

		var members []string
		if g.State.Terminal() {
			if members, err = tx.SMembers(ctx, playersKey(id)).Result(); err != nil {
				return fmt.Errorf("list players: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if g.State != game.StateWaiting {
				pipe.ZRem(ctx, waitingKey, id.String())
			}
			if g.State.Terminal() {
				pipe.Expire(ctx, key, s.opts.Retention)
				pipe.Expire(ctx, playersKey(id), s.opts.Retention)
				for _, m := range members {
					if uid, err := uuid.Parse(m); err == nil {
						pipe.Expire(ctx, sessionKey(id, uid), s.opts.Retention)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = g
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecentWaitingGames(ctx context.Context, limit int) ([]game.Game, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Overfetch a little so stale index entries do not starve the result.
	ids, err := s.redis.ZRevRange(ctx, waitingKey, 0, int64(limit*2-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting games: %w", err)
	}

	games := make([]game.Game, 0, limit)
	for _, raw := range ids {
		if len(games) == limit {
			break
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn().Str("member", raw).Msg("drop malformed waiting entry")
			s.redis.ZRem(ctx, waitingKey, raw)
			continue
		}
		g, err := s.GetGame(ctx, id)
		if errors.Is(err, game.ErrNotFound) {
			s.redis.ZRem(ctx, waitingKey, raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		if g.State != game.StateWaiting {
			continue
		}
		games = append(games, *g)
	}
	return games, nil
}

func (s *Store) InsertSession(ctx context.Context, ps *game.PlayerSession, check func(g game.Game) error) error {
	gk, sk := gameKey(ps.GameID), sessionKey(ps.GameID, ps.UserID)
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.transact(ctx, func(tx *redis.Tx) error {
		g, err := getJSON[game.Game](ctx, tx, gk)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*g); err != nil {
				return err
			}
		}
		exists, err := tx.Exists(ctx, sk).Result()
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("session %s/%s: %w", ps.GameID, ps.UserID, game.ErrConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sk, data, 0)
			pipe.SAdd(ctx, playersKey(ps.GameID), ps.UserID.String())
			pipe.ZAdd(ctx, userSessionsKey(ps.UserID), redis.Z{Score: score(ps.JoinedAt), Member: ps.GameID.String()})
			return nil
		})
		return err
	}, gk, sk)
}

func (s *Store) GetSession(ctx context.Context, gameID, userID uuid.UUID) (*game.PlayerSession, error) {
	return getJSON[game.PlayerSession](ctx, s.redis, sessionKey(gameID, userID))
}

func (s *Store) UpdateSession(ctx context.Context, gameID, userID uuid.UUID, fn func(g game.Game, ps *game.PlayerSession) error) (*game.PlayerSession, error) {
	gk, sk := gameKey(gameID), sessionKey(gameID, userID)
	var out *game.PlayerSession
	err := s.transact(ctx, func(tx *redis.Tx) error {
		ps, err := getJSON[game.PlayerSession](ctx, tx, sk)
		if err != nil {
			return err
		}
		g, err := getJSON[game.Game](ctx, tx, gk)
		if err != nil {
			return err
		}
		if err := fn(*g, ps); err != nil {
			return err
		}
		ps.Version++
		data, err := json.Marshal(ps)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		// Keep whatever expiry the game's end already put on the key.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, sk, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		out = ps
		return nil
	}, gk, sk)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, gameID, userID uuid.UUID, check func(g game.Game) error) (bool, error) {
	gk, sk, pk := gameKey(gameID), sessionKey(gameID, userID), playersKey(gameID)
	var gameDeleted bool
	err := s.transact(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, sk).Result()
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s/%s: %w", gameID, userID, game.ErrNotFound)
		}
		if check != nil {
			g, err := getJSON[game.Game](ctx, tx, gk)
			if err != nil {
				return err
			}
			if err := check(*g); err != nil {
				return err
			}
		}
		members, err := tx.SMembers(ctx, pk).Result()
		if err != nil {
			return fmt.Errorf("list players: %w", err)
		}
		remaining := 0
		for _, m := range members {
			if m != userID.String() {
				remaining++
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, sk)
			pipe.SRem(ctx, pk, userID.String())
			pipe.ZRem(ctx, userSessionsKey(userID), gameID.String())
			if remaining == 0 {
				pipe.Del(ctx, gk, pk)
				pipe.ZRem(ctx, waitingKey, gameID.String())
			}
			return nil
		})
		if err != nil {
			return err
		}
		gameDeleted = remaining == 0
		return nil
	}, gk, sk, pk)
	return gameDeleted, err
}

func (s *Store) LatestSession(ctx context.Context, userID uuid.UUID) (*game.PlayerSession, error) {
	key := userSessionsKey(userID)
	ids, err := s.redis.ZRevRange(ctx, key, 0, 4).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	for _, raw := range ids {
		gameID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ps, err := s.GetSession(ctx, gameID, userID)
		if errors.Is(err, game.ErrNotFound) {
			// Expired with its game; prune the index.
			s.redis.ZRem(ctx, key, raw)
			continue
		}
		return ps, err
	}
	return nil, fmt.Errorf("sessions for %s: %w", userID, game.ErrNotFound)
}

// transact runs fn under WATCH on keys, retrying when another writer wins.
func (s *Store) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug().Strs("keys", keys).Int("attempt", i+1).Msg("optimistic transaction retry")
	}
	return fmt.Errorf("transaction on %v: %w", keys, game.ErrConflict)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return out, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

var _ game.Store = (*Store)(nil)

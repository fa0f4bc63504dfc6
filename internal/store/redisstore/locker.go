package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

// releaseScript deletes the lock only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker is a SetNX-based game.Locker. Locks expire after their TTL so a
// crashed holder never wedges the key.
type Locker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewLocker creates a locker backed by client.
func NewLocker(client *redis.Client, logger zerolog.Logger) *Locker {
	return &Locker{
		redis:  client,
		logger: logger.With().Str("component", "redis_locker").Logger(),
	}
}

func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	key = "lock:" + key
	token := uuid.NewString()

	acquired, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("lock %s already held: %w", key, game.ErrConflict)
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("release lock failed")
		}
	}
	return unlock, nil
}

var _ game.Locker = (*Locker)(nil)

// Package scheduler delivers delayed lifecycle triggers through a Redis sorted
// set. Delivery is at-least-once; handlers must tolerate duplicates.
//
// A poller claims a due trigger by pushing its score out by the lease and
// removes it only after the handler succeeds, so a trigger whose poller dies
// mid-flight becomes due again once the lease runs out.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/game"
)

const defaultKey = "scheduler:triggers"

// ackTimeout bounds the bookkeeping writes that run after the poll context is gone.
const ackTimeout = 5 * time.Second

// claimScript moves a member's score to ARGV[3] only while it is still due at ARGV[2].
var claimScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
  redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

// Handler applies one due trigger. A non-nil error re-queues it after RetryDelay.
type Handler func(ctx context.Context, t game.Trigger) error

// Options tunes polling.
type Options struct {
	Key          string
	PollInterval time.Duration
	BatchSize    int
	RetryDelay   time.Duration
	// Lease is how long a claimed trigger stays hidden from other pollers.
	Lease time.Duration
	Now   func() time.Time
}

// Scheduler is both the producer (RunAfter) and the poller (Run).
type Scheduler struct {
	redis  *redis.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a scheduler on client.
func New(client *redis.Client, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Key == "" {
		opts.Key = defaultKey
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		redis:  client,
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// RunAfter enqueues t to fire no earlier than delay from now.
func (s *Scheduler) RunAfter(ctx context.Context, delay time.Duration, t game.Trigger) error {
	if delay < 0 {
		delay = 0
	}
	return s.enqueue(ctx, t, s.opts.Now().Add(delay))
}

func (s *Scheduler) enqueue(ctx context.Context, t game.Trigger, at time.Time) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := s.redis.ZAdd(ctx, s.opts.Key, redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); err != nil {
		return fmt.Errorf("enqueue trigger: %w", err)
	}
	return nil
}

// Run polls for due triggers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("poll_interval", s.opts.PollInterval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Poll(ctx, handle); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

// Poll handles one batch of due triggers and returns how many it claimed.
// A trigger is claimed by whichever poller leases it first.
func (s *Scheduler) Poll(ctx context.Context, handle Handler) (int, error) {
	now := s.opts.Now()
	members, err := s.redis.ZRangeByScore(ctx, s.opts.Key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(s.opts.BatchSize),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due triggers: %w", err)
	}

	claimed := 0
	for _, m := range members {
		ok, err := s.claim(ctx, m, now)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		claimed++

		var t game.Trigger
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			s.logger.Error().Err(err).Str("member", m).Msg("drop undecodable trigger")
			s.settle(ctx, func(ctx context.Context) error { return s.redis.ZRem(ctx, s.opts.Key, m).Err() })
			continue
		}

		if err := handle(ctx, t); err != nil {
			s.logger.Warn().Err(err).
				Str("trigger_id", t.ID.String()).
				Str("game_id", t.GameID.String()).
				Dur("retry_in", s.opts.RetryDelay).
				Msg("trigger failed, re-queued")
			retryAt := s.opts.Now().Add(s.opts.RetryDelay)
			s.settle(ctx, func(ctx context.Context) error {
				return s.redis.ZAdd(ctx, s.opts.Key, redis.Z{Score: float64(retryAt.UnixMilli()), Member: m}).Err()
			})
			continue
		}

		s.settle(ctx, func(ctx context.Context) error { return s.redis.ZRem(ctx, s.opts.Key, m).Err() })
	}
	return claimed, nil
}

// claim leases member until now+Lease if it is still due.
func (s *Scheduler) claim(ctx context.Context, member string, now time.Time) (bool, error) {
	leaseUntil := now.Add(s.opts.Lease).UnixMilli()
	n, err := claimScript.Run(ctx, s.redis, []string{s.opts.Key},
		member, now.UnixMilli(), leaseUntil).Int()
	if err != nil {
		return false, fmt.Errorf("claim trigger: %w", err)
	}
	return n == 1, nil
}

// settle runs a post-handle write even when ctx was cancelled meanwhile.
// A failed write leaves the lease in place and the trigger comes back later.
func (s *Scheduler) settle(ctx context.Context, write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		s.logger.Error().Err(err).Msg("settle trigger failed; lease will expire")
	}
}

// Pending returns how many triggers are queued, due or not.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.redis.ZCard(ctx, s.opts.Key).Result()
}

var _ game.Scheduler = (*Scheduler)(nil)

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	galleryRateLimitEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_rate_limit_events_total",
		Help: "Total number of remote 429 responses recorded",
	})

	galleryRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_rate_limit_blocks_total",
		Help: "Total number of remote requests blocked by the shared rate limit",
	})

	galleryRateLimitBlockSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_rate_limit_block_seconds",
		Help: "Duration of the most recently recorded rate limit block",
	})
)

// Tracker records remote rate limits in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current rate limit state from Redis.
// Returns an unblocked zero state if nothing was recorded.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	pipe := t.redis.Pipeline()
	blockedCmd := pipe.Get(ctx, RedisKeyBlockedUntil)
	strikesCmd := pipe.Get(ctx, RedisKeyStrikes)
	lastUpdateCmd := pipe.Get(ctx, RedisKeyLastUpdate)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	state := &RateLimitState{}

	if blockedMillis, err := blockedCmd.Int64(); err == nil {
		state.BlockedUntil = time.UnixMilli(blockedMillis)
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("parse blocked until: %w", err)
	}

	if strikes, err := strikesCmd.Int(); err == nil {
		state.Strikes = strikes
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("parse strikes: %w", err)
	}

	if raw, err := lastUpdateCmd.Bytes(); err == nil {
		if err := json.Unmarshal(raw, &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	return state, nil
}

// RecordRateLimit stores a block after a remote 429. retryAfter is the
// server's Retry-After (0 if absent). An existing longer block is kept.
func (t *Tracker) RecordRateLimit(ctx context.Context, retryAfter time.Duration) error {
	strikes, err := t.redis.Incr(ctx, RedisKeyStrikes).Result()
	if err != nil {
		return fmt.Errorf("record rate limit strike: %w", err)
	}

	now := time.Now()
	block := blockDuration(retryAfter, int(strikes))
	blockedUntil := now.Add(block)

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	if current.BlockedUntil.After(blockedUntil) {
		blockedUntil = current.BlockedUntil
		block = time.Until(blockedUntil)
	}

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Store in Redis atomically
	pipe := t.redis.TxPipeline()
	pipe.Expire(ctx, RedisKeyStrikes, StrikeWindow)
	pipe.Set(ctx, RedisKeyBlockedUntil, strconv.FormatInt(blockedUntil.UnixMilli(), 10), block)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, StrikeWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	galleryRateLimitEventsTotal.Inc()
	galleryRateLimitBlockSeconds.Set(block.Seconds())

	t.logger.Warn().
		Int64("strikes", strikes).
		Dur("block", block).
		Time("blocked_until", blockedUntil).
		Msg("Remote gallery rate limited - blocking requests")

	return nil
}

// ShouldAllowRequest reports whether a remote request may be sent now. When
// it may not, wait is the remaining block.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (allowed bool, wait time.Duration, err error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.IsBlocked() {
		wait = state.TimeUntilReset()
		t.logger.Debug().
			Int("strikes", state.Strikes).
			Dur("wait_duration", wait).
			Msg("Remote gallery rate limited - blocking request")

		galleryRateLimitBlocksTotal.Inc()
		return false, wait, nil
	}

	return true, 0, nil
}

// Reset clears the shared state.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyBlockedUntil, RedisKeyStrikes, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}

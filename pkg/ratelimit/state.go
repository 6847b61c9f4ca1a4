// Package ratelimit shares remote gallery rate limits across server
// instances. A 429 seen by one instance blocks remote requests of every
// instance until the advertised (or escalated) block expires.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyBlockedUntil = "gallery:rate_limit:blocked_until"
	RedisKeyStrikes      = "gallery:rate_limit:strikes"
	RedisKeyLastUpdate   = "gallery:rate_limit:last_update"
)

// Block durations.
const (
	// DefaultBlock is the first block applied to a 429 without Retry-After.
	// Each further strike inside StrikeWindow doubles it.
	DefaultBlock = 2 * time.Second

	// MaxBlock caps any block, including server supplied Retry-After values.
	MaxBlock = 60 * time.Second

	// StrikeWindow is how long a 429 counts towards escalation.
	StrikeWindow = time.Minute
)

// RateLimitState represents the shared remote gallery rate limit state.
type RateLimitState struct {
	// BlockedUntil is when remote requests may resume. Zero if never blocked.
	BlockedUntil time.Time `json:"blocked_until"`

	// Strikes counts 429 responses inside the current StrikeWindow.
	Strikes int `json:"strikes"`

	// LastUpdate is when a 429 was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked returns true while remote requests must not be sent.
func (s *RateLimitState) IsBlocked() bool {
	return time.Now().Before(s.BlockedUntil)
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until requests may resume.
// Returns 0 if the block has already expired.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.BlockedUntil)
	if duration < 0 {
		return 0
	}
	return duration
}

// blockDuration returns how long to block after the strikes-th 429.
// A server supplied retryAfter wins over escalation.
func blockDuration(retryAfter time.Duration, strikes int) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, MaxBlock)
	}
	if strikes < 1 {
		strikes = 1
	}
	block := DefaultBlock
	for i := 1; i < strikes && block < MaxBlock; i++ {
		block *= 2
	}
	return min(block, MaxBlock)
}

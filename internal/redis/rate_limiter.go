package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DialGuard bounds call placements per agent inside a sliding window,
// independent of dispatch-cycle boundaries. The per-cycle allocation in the
// dispatch loop already limits how many calls one cycle schedules; the guard
// additionally protects against overlapping cycles stacking up on one agent.
type DialGuard interface {
	// Allow records a placement attempt for agentID and reports whether it
	// is within limit for the current window.
	Allow(ctx context.Context, agentID string, limit int) (bool, error)
}

type slidingWindowGuard struct {
	client *redis.Client
	window time.Duration
}

// NewDialGuard returns a Redis-backed sliding-window DialGuard. window is
// the period the limit applies to (one minute for the dispatch rate limit).
func NewDialGuard(client *redis.Client, window time.Duration) DialGuard {
	return &slidingWindowGuard{client: client, window: window}
}

// Allow uses a Redis sorted set as a timestamp ring buffer per agent.
func (g *slidingWindowGuard) Allow(ctx context.Context, agentID string, limit int) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - g.window.Nanoseconds()
	key := "dial:agent:" + agentID

	pipe := g.client.TxPipeline()
	// Evict timestamps that fell outside the window.
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	// Record this attempt with the current nanosecond timestamp as both score and member.
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
	// Count attempts still in the window.
	countCmd := pipe.ZCard(ctx, key)
	// Keep the key alive for at least one more window.
	pipe.Expire(ctx, key, g.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("dial guard pipeline for agent %q: %w", agentID, err)
	}

	return countCmd.Val() <= int64(limit), nil
}

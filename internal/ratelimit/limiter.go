// Package ratelimit throttles per-user and per-IP actions with Redis
// fixed-window counters (INCR + EXPIRE). Every check is a single round
// trip, which keeps it cheap enough to sit on the message hot path.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy: a Redis key prefix, the number of actions
// permitted per window, and the window length.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:report:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rules for the actions the router throttles.
var (
	// RuleMessage allows 10 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleReport allows 5 reports per minute per user.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: 1 * time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow records one action for the identifier under the given rule and
// reports whether it stayed within the limit. The first increment in a
// window also arms the key's expiry.
//
// A Redis failure never blocks traffic: the method logs, returns true, and
// surfaces the error for callers that want to count outages.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] INCR %s: %v (failing open)", key, err)
		return true, err
	}

	if count == 1 {
		// First hit in this window; the expiry defines the window boundary.
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] EXPIRE %s: %v (failing open)", key, err)
			// Without a TTL the counter would pin the identifier forever,
			// so drop it and let the next window start clean.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining reports how many actions the identifier has left in the current
// window. An absent key means a fresh window (full limit), and Redis errors
// fail open the same way Allow does.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] GET %s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

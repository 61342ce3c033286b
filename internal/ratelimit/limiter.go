// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE fixed-window algorithm, used to throttle message creation
// per sender.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleCreateMessage allows 20 message creations per 10 seconds per sender.
var RuleCreateMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. It increments the counter in Redis and sets the expiry on first
// access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open so that a Redis outage does not block
// legitimate traffic. A nil Limiter always allows.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil {
		return true
	}

	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL. Best effort: delete it so it
			// does not throttle the identifier forever.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}

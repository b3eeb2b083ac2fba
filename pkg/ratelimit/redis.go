package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// incrWindow increments KEYS[1] and starts its expiry on the first hit.
// Returns {count, ttl in ms}.
var incrWindow = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Redis is a fixed-window Limiter shared by every process using the same server.
type Redis struct {
	client goredis.UniversalClient
	clock  clockwork.Clock
	prefix string
}

// NewRedis creates a Redis limiter. Keys are stored under prefix.
func NewRedis(client goredis.UniversalClient, clock clockwork.Clock, prefix string) *Redis {
	return &Redis{client: client, clock: clock, prefix: prefix}
}

// Allow increments the window counter of key.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	values, err := incrWindow.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count rate limit hit for %s: %w", key, err)
	}

	if len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply for %s: %v", key, values)
	}

	hits := int(values[0])
	resetAt := r.clock.Now().Add(time.Duration(values[1]) * time.Millisecond)

	if hits > limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{Allowed: true, Remaining: limit - hits, ResetAt: resetAt}, nil
}

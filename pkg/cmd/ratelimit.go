package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/flowrule/pkg/ratelimit"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "flowrule:ratelimit:"

// NewRateLimiter returns a redis backed limiter when redisURL is set so every process
// shares the action windows, and an in-memory limiter otherwise.
func NewRateLimiter(logger *slog.Logger, redisURL string, clock clockwork.Clock) (ratelimit.Limiter, error) {
	if redisURL == "" {
		return ratelimit.NewMemory(clock), nil
	}

	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	logger.Info("Using redis rate limiter", "addr", options.Addr)

	return ratelimit.NewRedis(goredis.NewClient(options), clock, rateLimitPrefix), nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/persistence/file"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/dukex/flowrule/pkg/persistence/postgresql"
	"github.com/dukex/flowrule/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql", "redis", "rediss"}

// NewStore opens the store named by the scheme of databaseURL. Urls without a known
// scheme are treated as a file store root.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Store, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "memory":
		return memory.NewStore(), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql store: %w", err)
		}

		return store, nil
	case "redis", "rediss":
		store, err := redis.NewFromURL(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}

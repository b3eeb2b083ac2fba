// Package redis implements persistence.Store on Redis. Each entity is a string key
// holding its JSON document and every tenant/kind pair has a Set of ids for listing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/flowrule/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "flowrule:"

// entityKey returns flowrule:{tenant}:{kind}:{id}.
func entityKey(kind, tenantID, id string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, tenantID, kind, id)
}

// indexKey returns the Set tracking ids of a tenant/kind pair.
func indexKey(kind, tenantID string) string {
	return fmt.Sprintf("%s%s:%s:_ids", keyPrefix, tenantID, kind)
}

// Store implements persistence.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New wraps an existing client. Close closes it.
func New(client goredis.UniversalClient, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger.With("module", "redis_store")}
}

// NewFromURL parses a redis:// url and connects.
func NewFromURL(ctx context.Context, logger *slog.Logger, url string) (*Store, error) {
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	store := New(goredis.NewClient(options), logger)

	err = store.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient {
	return s.client
}

func (s *Store) Get(ctx context.Context, kind, tenantID, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, entityKey(kind, tenantID, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, persistence.ErrNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, err)
	}

	return data, nil
}

func (s *Store) Put(ctx context.Context, kind, tenantID, id string, data []byte) error {
	err := persistence.CheckKey("Put", kind, tenantID, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entityKey(kind, tenantID, id), data, 0)
	pipe.SAdd(ctx, indexKey(kind, tenantID), id)

	_, err = pipe.Exec(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to put entity", "kind", kind, "tenant_id", tenantID, "id", id, "error", err)

		return persistence.NewEntityError("Put", kind, tenantID, id, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, kind, tenantID, id string) error {
	pipe := s.client.TxPipeline()
	deleted := pipe.Del(ctx, entityKey(kind, tenantID, id))
	pipe.SRem(ctx, indexKey(kind, tenantID), id)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return persistence.NewEntityError("Delete", kind, tenantID, id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewEntityError("Delete", kind, tenantID, id, persistence.ErrNotFound)
	}

	return nil
}

func (s *Store) List(ctx context.Context, kind, tenantID string) ([][]byte, error) {
	ids, err := s.client.SMembers(ctx, indexKey(kind, tenantID)).Result()
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", err)
	}

	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entityKey(kind, tenantID, id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", err)
	}

	documents := make([][]byte, 0, len(values))

	for _, value := range values {
		// Ids whose key vanished between SMEMBERS and MGET come back nil.
		text, ok := value.(string)
		if !ok {
			continue
		}

		documents = append(documents, []byte(text))
	}

	return documents, nil
}

// HealthCheck verifies the Redis connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}

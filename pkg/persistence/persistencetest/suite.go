// Package persistencetest holds the behavior every persistence.Store backend must satisfy.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite exercises store through its raw and typed APIs.
func RunStoreSuite(t *testing.T, store persistence.Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := store.Get(ctx, persistence.KindRule, "tenant-a", "rule_missing")
		require.Error(t, err)
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("put then get", func(t *testing.T) {
		err := store.Put(ctx, persistence.KindRule, "tenant-a", "rule_1", []byte(`{"id":"rule_1"}`))
		require.NoError(t, err)

		data, err := store.Get(ctx, persistence.KindRule, "tenant-a", "rule_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"rule_1"}`, string(data))
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		err := store.Put(ctx, persistence.KindRule, "tenant-b", "rule_1", []byte(`{"id":"rule_1","tenant":"b"}`))
		require.NoError(t, err)

		data, err := store.Get(ctx, persistence.KindRule, "tenant-a", "rule_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"rule_1"}`, string(data))

		listed, err := store.List(ctx, persistence.KindRule, "tenant-b")
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("list is ordered by id", func(t *testing.T) {
		for _, id := range []string{"wf_c", "wf_a", "wf_b"} {
			err := store.Put(ctx, persistence.KindWorkflow, "tenant-a", id, []byte(`{"id":"`+id+`"}`))
			require.NoError(t, err)
		}

		listed, err := store.List(ctx, persistence.KindWorkflow, "tenant-a")
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.JSONEq(t, `{"id":"wf_a"}`, string(listed[0]))
		assert.JSONEq(t, `{"id":"wf_c"}`, string(listed[2]))
	})

	t.Run("delete", func(t *testing.T) {
		err := store.Delete(ctx, persistence.KindWorkflow, "tenant-a", "wf_b")
		require.NoError(t, err)

		_, err = store.Get(ctx, persistence.KindWorkflow, "tenant-a", "wf_b")
		assert.True(t, persistence.IsNotFound(err))

		err = store.Delete(ctx, persistence.KindWorkflow, "tenant-a", "wf_b")
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("list of empty kind", func(t *testing.T) {
		listed, err := store.List(ctx, persistence.KindRecord, "tenant-z")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("typed repository", func(t *testing.T) {
		repo := persistence.NewRepository[models.RuleSet](store, persistence.KindRuleSet)
		now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

		set := &models.RuleSet{
			ID:            "rset_1",
			TenantID:      "tenant-a",
			Name:          "Orders",
			RuleIDs:       []string{"rule_1", "rule_2"},
			ExecutionMode: models.ExecutionModeAll,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err := repo.Save(ctx, set.TenantID, set.ID, set)
		require.NoError(t, err)

		loaded, err := repo.Get(ctx, "tenant-a", "rset_1")
		require.NoError(t, err)
		assert.Equal(t, set, loaded)

		all, err := repo.List(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, repo.Delete(ctx, "tenant-a", "rset_1"))

		_, err = repo.Get(ctx, "tenant-a", "rset_1")
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("health check", func(t *testing.T) {
		require.NoError(t, store.HealthCheck(ctx))
	})
}

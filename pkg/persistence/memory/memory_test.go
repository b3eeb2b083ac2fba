package memory_test

import (
	"context"
	"testing"

	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/dukex/flowrule/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	persistencetest.RunStoreSuite(t, memory.NewStore())
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()

	payload := []byte(`{"a":1}`)
	require.NoError(t, store.Put(ctx, persistence.KindRecord, "t1", "rec_1", payload))

	payload[2] = 'b'

	data, err := store.Get(ctx, persistence.KindRecord, "t1", "rec_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	t.Parallel()

	err := memory.NewStore().Put(context.Background(), persistence.KindRecord, "", "rec_1", []byte(`{}`))
	require.ErrorIs(t, err, persistence.ErrInvalidKey)
}

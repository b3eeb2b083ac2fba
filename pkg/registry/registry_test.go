package registry_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
	"github.com/dukex/flowrule/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct {
	input map[string]any
}

func (a *echoAction) Execute(_ context.Context, actx models.ActionContext, _ *slog.Logger) (map[string]any, error) {
	return map[string]any{"echo": a.input["message"], "tenant": actx.TenantID}, nil
}

type echoFactory struct {
	id string
}

func (f echoFactory) ID() string {
	return f.id
}

func (f echoFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{ID: f.id, Name: "Echo " + f.id, Category: models.CategoryCustom}
}

func (f echoFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	return &echoAction{input: input}, nil
}

func TestRegistry_RegisterAndRun(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterAction(echoFactory{id: "echo"})
	reg.RegisterAction(echoFactory{id: "alpha"})

	assert.True(t, reg.HasAction("echo"))
	assert.False(t, reg.HasAction("missing"))

	definitions := reg.Definitions()
	require.Len(t, definitions, 2)
	assert.Equal(t, "alpha", definitions[0].ID)
	assert.Equal(t, "echo", definitions[1].ID)

	output, err := reg.Run(
		context.Background(),
		&models.ActionDefinition{ID: "echo"},
		map[string]any{"message": "hi"},
		models.ActionContext{TenantID: "t1"},
		log.Discard(),
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hi", "tenant": "t1"}, output)
}

func TestRegistry_UnknownAction(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())

	_, err := reg.Run(context.Background(), &models.ActionDefinition{ID: "nope"}, nil, models.ActionContext{}, log.Discard())
	require.ErrorIs(t, err, protocol.ErrUnknownAction)
}

func TestRegistry_LoadActionPlugins(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())

	plugins, err := reg.LoadActionPlugins("")
	require.NoError(t, err)
	assert.Empty(t, plugins)

	plugins, err = reg.LoadActionPlugins(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, plugins)
}

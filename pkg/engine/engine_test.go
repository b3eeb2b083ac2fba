package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrule/pkg/channels/gochannel"
	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/monitor"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/dukex/flowrule/pkg/triggers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()

	logger := log.Discard()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	e, err := engine.New(engine.Config{
		Logger: logger,
		Store:  memory.NewStore(),
		Bus:    eventbus.NewWatermillEventBus(pub, sub, logger),
	})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background(), []string{tenant}))
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})

	return e
}

func TestNew_RequiresStoreAndBus(t *testing.T) {
	_, err := engine.New(engine.Config{Logger: log.Discard()})
	require.Error(t, err)

	_, err = engine.New(engine.Config{Logger: log.Discard(), Store: memory.NewStore()})
	require.Error(t, err)
}

func TestEngine_RegistersBuiltins(t *testing.T) {
	e := newEngine(t)

	for _, id := range []string{
		"log", "transform_data", "http_request", "webhook", "delay", "set_variable",
		"send_email", "send_sms", "send_slack", "send_notification",
		"create_record", "update_record", "delete_record", "query_records",
		"start_workflow", "evaluate_rule",
	} {
		assert.True(t, e.Registry.HasAction(id), id)
	}
}

func TestEngine_TriggerRunsWorkflow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	wf, err := e.Workflows.CreateWorkflow(ctx, tenant, &models.Workflow{
		Name: "Greet",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Name: "start", Type: models.NodeTypeTrigger, Config: &models.TriggerNodeConfig{}},
			{
				ID:     "say",
				Name:   "say",
				Type:   models.NodeTypeAction,
				Config: &models.ActionNodeConfig{ActionType: "log", Config: map[string]any{"message": "hello {{ .name }}"}},
			},
			{ID: "done", Name: "done", Type: models.NodeTypeEnd, Config: &models.EndNodeConfig{Output: map[string]any{"name": "{{ .name }}"}}},
		},
		Edges: []*models.WorkflowEdge{{Source: "start", Target: "say"}, {Source: "say", Target: "done"}},
	})
	require.NoError(t, err)

	_, err = e.Workflows.ActivateWorkflow(ctx, tenant, wf.ID)
	require.NoError(t, err)

	trigger, err := e.Triggers.CreateTrigger(ctx, tenant, &models.Trigger{
		Name:    "button",
		Type:    models.TriggerTypeManual,
		Config:  &models.ManualTriggerConfig{},
		Targets: []models.TriggerTarget{{Type: models.TargetWorkflow, TargetID: wf.ID, Enabled: true}},
	})
	require.NoError(t, err)

	_, err = e.Triggers.ActivateTrigger(ctx, tenant, trigger.ID)
	require.NoError(t, err)

	fired, err := e.Triggers.FireManualTrigger(ctx, tenant, trigger.ID, map[string]any{"name": "ada"}, triggers.Caller{UserID: "u-1"})
	require.NoError(t, err)
	require.Equal(t, models.TriggerExecutionSuccess, fired.Status)
	require.Len(t, fired.Targets, 1)

	output, ok := fired.Targets[0].Output.(map[string]any)
	require.True(t, ok)

	executionID, ok := output["executionId"].(string)
	require.True(t, ok)

	awaitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	execution, err := e.Workflows.AwaitExecution(awaitCtx, tenant, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"name": "ada"}, execution.Context.Output)
	assert.Equal(t, string(models.TriggerTypeManual), execution.Trigger.Type)
	assert.Equal(t, trigger.ID, execution.Trigger.Source)

	require.Eventually(t, func() bool {
		return len(e.Monitor.ListExecutions(tenant, monitor.Filter{Type: monitor.TypeWorkflow})) == 1 &&
			len(e.Monitor.ListExecutions(tenant, monitor.Filter{Type: monitor.TypeTrigger})) == 1 &&
			len(e.Monitor.ListExecutions(tenant, monitor.Filter{Type: monitor.TypeAction})) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

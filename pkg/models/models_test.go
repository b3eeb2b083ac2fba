package models_test

import (
	"encoding/json"
	"testing"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowNode_UnmarshalSelectsConfigByType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		expected models.NodeConfig
	}{
		{
			name:     "action",
			payload:  `{"id":"n1","type":"action","name":"Log","config":{"action_type":"log","config":{"message":"hi"}}}`,
			expected: &models.ActionNodeConfig{ActionType: "log", Config: map[string]any{"message": "hi"}},
		},
		{
			name:     "parallel",
			payload:  `{"id":"n2","type":"parallel","name":"Fan","config":{"branches":["a","b"],"max_concurrency":2}}`,
			expected: &models.ParallelNodeConfig{Branches: []string{"a", "b"}, MaxConcurrency: 2},
		},
		{
			name:     "end without config",
			payload:  `{"id":"n3","type":"end","name":"Done"}`,
			expected: &models.EndNodeConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var node models.WorkflowNode

			err := json.Unmarshal([]byte(tt.payload), &node)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, node.Config)
			require.NoError(t, node.CheckConfig())
		})
	}
}

func TestWorkflowNode_UnknownTypeFails(t *testing.T) {
	t.Parallel()

	var node models.WorkflowNode

	err := json.Unmarshal([]byte(`{"id":"n1","type":"teleport","config":{}}`), &node)
	require.ErrorIs(t, err, models.ErrUnknownNodeType)
}

func TestWorkflowNode_CheckConfigMismatch(t *testing.T) {
	t.Parallel()

	node := &models.WorkflowNode{ID: "n1", Type: models.NodeTypeDelay, Config: &models.EndNodeConfig{}}
	require.Error(t, node.CheckConfig())
}

func TestTrigger_RoundTrip(t *testing.T) {
	t.Parallel()

	trigger := &models.Trigger{
		ID:       "trg_1",
		TenantID: "t1",
		Name:     "Orders",
		Type:     models.TriggerTypeWebhook,
		Config:   &models.WebhookTriggerConfig{Path: "/orders", Method: "POST", Secret: "s3cret"},
		Targets: []models.TriggerTarget{
			{ID: "tg1", Type: models.TargetRule, TargetID: "rule_1", Enabled: true},
		},
	}

	cloned, err := models.Clone(trigger)
	require.NoError(t, err)
	assert.Equal(t, trigger.Config, cloned.Config)
	assert.Equal(t, trigger.Targets, cloned.Targets)
}

func TestConditionEntry_JSON(t *testing.T) {
	t.Parallel()

	payload := `{"operator":"and","conditions":[
		{"field":"amount","operator":"greaterThan","value":100},
		{"operator":"or","conditions":[{"field":"country","operator":"equals","value":"BR"}]}
	]}`

	var group models.ConditionGroup

	err := json.Unmarshal([]byte(payload), &group)
	require.NoError(t, err)
	require.Len(t, group.Conditions, 2)

	require.NotNil(t, group.Conditions[0].Condition)
	assert.Equal(t, "amount", group.Conditions[0].Condition.Field)
	assert.InDelta(t, 100.0, group.Conditions[0].Condition.Value, 0)

	require.NotNil(t, group.Conditions[1].Group)
	assert.Equal(t, models.GroupOr, group.Conditions[1].Group.Operator)

	encoded, err := json.Marshal(group)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(encoded))
}

func TestConditionEntry_MarshalEmptyFails(t *testing.T) {
	t.Parallel()

	_, err := json.Marshal(models.ConditionEntry{})
	require.Error(t, err)
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	assert.Empty(t, models.ValidateStruct(&models.Rule{TenantID: "t1", Name: "ok"}))

	messages := models.ValidateStruct(&models.Rule{TenantID: "t1", Priority: "urgent"})
	assert.Len(t, messages, 2)
}

func TestRunningMean(t *testing.T) {
	t.Parallel()

	mean := 0.0
	for i, sample := range []float64{10, 20, 30, 40} {
		mean = models.RunningMean(mean, int64(i+1), sample)
	}

	assert.InDelta(t, 25.0, mean, 1e-9)
}

func TestWorkflowSettings_WithDefaults(t *testing.T) {
	t.Parallel()

	settings := models.WorkflowSettings{ConcurrencyLimit: 2}.WithDefaults()
	assert.Equal(t, int64(models.DefaultMaxExecutionTimeMs), settings.MaxExecutionTime)
	assert.Equal(t, models.DefaultMaxRetries, settings.MaxRetries)
	assert.Equal(t, int64(models.DefaultRetryDelayMs), settings.RetryDelay)
	assert.Equal(t, 2, settings.ConcurrencyLimit)
}

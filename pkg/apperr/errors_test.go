package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/stretchr/testify/assert"
)

func TestPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		notActive  bool
		conflict   bool
	}{
		{name: "validation", err: apperr.Validation("ActivateWorkflow", "workflow", "wf_1", "missing end"), validation: true},
		{name: "not found", err: apperr.NotFound("GetRule", "rule", "rule_1"), notFound: true},
		{name: "not active", err: apperr.NotActive("ExecuteWorkflow", "workflow", "wf_1"), notActive: true},
		{name: "conflict", err: apperr.Conflict("RetryExecution", "action execution", "x"), conflict: true},
		{name: "wrapped", err: fmt.Errorf("outer: %w", apperr.NotFound("GetRule", "rule", "r")), notFound: true},
		{name: "unrelated", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.validation, apperr.IsValidation(tt.err))
			assert.Equal(t, tt.notFound, apperr.IsNotFound(tt.err))
			assert.Equal(t, tt.notActive, apperr.IsNotActive(tt.err))
			assert.Equal(t, tt.conflict, apperr.IsConflict(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := apperr.Validation("ActivateWorkflow", "workflow", "wf_1",
		"Workflow must have at least one trigger node",
		"Workflow must have at least one end node")

	assert.Equal(t,
		"ActivateWorkflow workflow wf_1: validation failed: Workflow must have at least one trigger node, Workflow must have at least one end node",
		err.Error())
	assert.Len(t, apperr.Details(err), 2)
	assert.Nil(t, apperr.Details(errors.New("plain")))
}

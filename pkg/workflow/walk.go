package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrActionFailed = errors.New("action failed")
	ErrChildFailed  = errors.New("subworkflow did not complete")
)

// outcome is what a node behavior hands back to the walk.
type outcome struct {
	input  any
	output any
	next   []string
}

// walk runs nodeID and then, depth first, the children it selects. A failed node is
// handled by its error strategy; the error returned aborts the run.
func (r *run) walk(ctx context.Context, nodeID string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	node, ok := r.workflow.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	result, err := r.runNode(ctx, node)
	if err == nil {
		return r.walkAll(ctx, result.next)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	handling := r.errorHandling(node)

	switch handling.Strategy {
	case models.ErrorStrategyContinue:
		r.logger.WarnContext(ctx, "Node failed, continuing", "node_id", node.ID, "error", err)

		next := r.targets(node, models.PortError)
		if len(next) == 0 {
			next = r.targets(node, models.PortDefault)
		}

		return r.walkAll(ctx, next)
	case models.ErrorStrategyFallback:
		r.logger.WarnContext(ctx, "Node failed, running fallback",
			"node_id", node.ID,
			"fallback_node_id", handling.FallbackNodeID,
			"error", err,
		)

		return r.walk(ctx, handling.FallbackNodeID)
	default:
		return fmt.Errorf("node %s (%s) failed: %w", node.ID, node.Type, err)
	}
}

func (r *run) walkAll(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		err := r.walk(ctx, id)
		if err != nil {
			return err
		}
	}

	return nil
}

// targets returns the nodes behind the outgoing edges on any of ports. An edge without
// a port is on the default port.
func (r *run) targets(node *models.WorkflowNode, ports ...string) []string {
	var out []string

	for _, edge := range r.workflow.Outgoing(node.ID) {
		port := edge.SourcePort
		if port == "" {
			port = models.PortDefault
		}

		if slices.Contains(ports, port) {
			out = append(out, edge.Target)
		}
	}

	return out
}

// runNode records a NodeExecution around one node behavior, retrying it when the node
// asks for it.
func (r *run) runNode(ctx context.Context, node *models.WorkflowNode) (outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	record := r.startNode(node)
	handling := r.errorHandling(node)

	var result outcome

	attempt := func() error {
		var err error

		result, err = r.behave(ctx, node)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	var err error

	if handling.Strategy == models.ErrorStrategyRetry {
		delay := time.Duration(handling.RetryDelay) * time.Millisecond
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(handling.MaxRetries)),
			ctx,
		)

		err = backoff.RetryNotifyWithTimer(attempt, policy, func(err error, wait time.Duration) {
			r.mu.Lock()
			record.RetryCount++
			retries := record.RetryCount
			r.mu.Unlock()

			r.logger.WarnContext(ctx, "Retrying node",
				"node_id", node.ID,
				"retry", retries,
				"wait", wait,
				"error", err,
			)
		}, &clockTimer{clock: r.engine.clock})
	} else {
		err = attempt()
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	r.finishNode(ctx, node, record, result, err)

	return result, err
}

// errorHandling resolves the node policy, filling retry settings from the workflow.
func (r *run) errorHandling(node *models.WorkflowNode) models.ErrorHandling {
	handling := models.ErrorHandling{Strategy: models.ErrorStrategyFail}
	if node.ErrorHandling != nil {
		handling = *node.ErrorHandling
	}

	if handling.Strategy == "" {
		handling.Strategy = models.ErrorStrategyFail
	}

	if handling.MaxRetries <= 0 {
		handling.MaxRetries = r.settings.MaxRetries
	}

	if handling.RetryDelay <= 0 {
		handling.RetryDelay = r.settings.RetryDelay
	}

	return handling
}

func (r *run) startNode(node *models.WorkflowNode) *models.NodeExecution {
	record := &models.NodeExecution{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    models.NodeStatusRunning,
		StartedAt: r.engine.now(),
	}

	r.mu.Lock()
	r.execution.NodeExecutions = append(r.execution.NodeExecutions, record)
	r.mu.Unlock()

	return record
}

// finishNode closes the record. A successful output is stored in the variables under
// "<nodeID>_output".
func (r *run) finishNode(
	ctx context.Context,
	node *models.WorkflowNode,
	record *models.NodeExecution,
	result outcome,
	err error,
) {
	completedAt := r.engine.now()

	r.mu.Lock()

	record.Input = result.input
	record.CompletedAt = &completedAt
	record.Duration = completedAt.Sub(record.StartedAt).Milliseconds()

	if err != nil {
		record.Status = models.NodeStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = models.NodeStatusCompleted
		record.Output = result.output

		if result.output != nil {
			r.execution.Context.Variables[node.ID+"_output"] = result.output
		}
	}

	event := events.NodeExecuted{
		BaseEvent:   events.NewBaseEvent(events.NodeExecutedEvent, r.execution.TenantID),
		WorkflowID:  r.workflow.ID,
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeType:    string(node.Type),
		Status:      string(record.Status),
		Error:       record.Error,
		Duration:    record.Duration,
	}

	r.mu.Unlock()

	r.logger.DebugContext(ctx, "Node executed", "node_id", node.ID, "node_type", node.Type, "status", event.Status)

	if r.engine.publisher == nil {
		return
	}

	emitErr := eventbus.Emit(context.WithoutCancel(ctx), r.engine.publisher, event)
	if emitErr != nil {
		r.logger.WarnContext(ctx, "Failed to publish node event", "node_id", node.ID, "error", emitErr)
	}
}

// scope is the data conditions and templates see: input fields and variables at the
// top level, plus input, variables, output and execution.
func (r *run) scope() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.execution.Context
	variables := maps.Clone(data.Variables)

	scope := make(map[string]any, len(data.Input)+len(variables)+4)
	maps.Copy(scope, data.Input)
	maps.Copy(scope, variables)

	scope["input"] = data.Input
	scope["variables"] = variables
	scope["output"] = maps.Clone(data.Output)
	scope["execution"] = map[string]any{
		"id":          r.execution.ID,
		"workflow_id": r.workflow.ID,
	}

	return scope
}

func (r *run) setVariable(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.execution.Context.Variables[name] = value
}

// clockTimer lets backoff wait on the engine clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}

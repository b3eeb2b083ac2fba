package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/dukex/flowrule/pkg/actions/flow"
	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/template"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownUnit      = errors.New("unknown delay unit")
	ErrInvalidDelay     = errors.New("invalid delay")
	ErrNotACollection   = errors.New("loop collection is not a list")
	ErrUnsupportedNode  = errors.New("unsupported node config")
	ErrLoopLimitReached = errors.New("loop reached max iterations")
)

// Loop variables exposed to the loop body.
const (
	LoopIndexVariable = "loop_index"
	LoopItemVariable  = "loop_item"
)

func (r *run) behave(ctx context.Context, node *models.WorkflowNode) (outcome, error) {
	switch config := node.Config.(type) {
	case *models.TriggerNodeConfig:
		return outcome{output: r.scope()["input"], next: r.targets(node, models.PortDefault)}, nil
	case *models.ConditionNodeConfig:
		return r.runCondition(node, config)
	case *models.ActionNodeConfig:
		return r.runAction(ctx, node, config)
	case *models.DelayNodeConfig:
		return r.runDelay(ctx, node, config)
	case *models.LoopNodeConfig:
		return r.runLoop(ctx, node, config)
	case *models.ParallelNodeConfig:
		return r.runParallel(ctx, node, config)
	case *models.SubworkflowNodeConfig:
		return r.runSubworkflow(ctx, node, config)
	case *models.EndNodeConfig:
		return r.runEnd(config)
	default:
		return outcome{}, fmt.Errorf("%w: %T", ErrUnsupportedNode, node.Config)
	}
}

func (r *run) runCondition(node *models.WorkflowNode, config *models.ConditionNodeConfig) (outcome, error) {
	result := condition.Evaluate(config.Conditions, r.scope())

	port := models.PortFalse
	if result.Matched {
		port = models.PortTrue
	}

	return outcome{
		output: map[string]any{"result": result.Matched, "matched_conditions": result.MatchedIDs},
		next:   r.targets(node, port),
	}, nil
}

// runAction dispatches through the action executor with the templated config.
// set_variable assignments are applied to the execution variables here.
func (r *run) runAction(ctx context.Context, node *models.WorkflowNode, config *models.ActionNodeConfig) (outcome, error) {
	scope := r.scope()

	input, err := template.RenderMap(config.Config, scope)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to render action config: %w", err)
	}

	variables, _ := scope["variables"].(map[string]any)

	actionCtx := models.ActionContext{
		WorkflowID:          r.workflow.ID,
		WorkflowExecutionID: r.execution.ID,
		NodeID:              node.ID,
		Variables:           variables,
	}

	var execution *models.ActionExecution

	if config.InstanceID != "" {
		execution, err = r.engine.actions.ExecuteInstance(ctx, r.execution.TenantID, config.InstanceID, input, actionCtx)
	} else {
		execution, err = r.engine.actions.Execute(ctx, r.execution.TenantID, config.ActionType, input, actionCtx)
	}

	if err != nil {
		return outcome{input: input}, err
	}

	if execution.Failed() {
		return outcome{input: input}, fmt.Errorf("%w: %s", ErrActionFailed, execution.ErrorMessage())
	}

	if execution.DefinitionID == flow.SetVariableID {
		if name, ok := input["name"].(string); ok && name != "" {
			r.setVariable(name, input["value"])
		}
	}

	return outcome{input: input, output: execution.Output, next: r.targets(node, models.PortDefault)}, nil
}

func (r *run) runDelay(ctx context.Context, node *models.WorkflowNode, config *models.DelayNodeConfig) (outcome, error) {
	wait, err := r.delayDuration(config)
	if err != nil {
		return outcome{}, err
	}

	r.logger.DebugContext(ctx, "Delaying", "node_id", node.ID, "wait", wait)

	err = flow.Sleep(ctx, r.engine.clock, wait)
	if err != nil {
		return outcome{}, err
	}

	return outcome{
		output: map[string]any{"delayed_ms": wait.Milliseconds()},
		next:   r.targets(node, models.PortDefault),
	}, nil
}

func (r *run) delayDuration(config *models.DelayNodeConfig) (time.Duration, error) {
	var wait time.Duration

	switch config.DelayType {
	case models.DelayFixed:
		unit, err := unitDuration(config.Unit)
		if err != nil {
			return 0, err
		}

		wait = time.Duration(config.Value * float64(unit))
	case models.DelayUntil:
		rendered, err := template.RenderValue(config.Until, r.scope())
		if err != nil {
			return 0, err
		}

		until, err := time.Parse(time.RFC3339, fmt.Sprint(rendered))
		if err != nil {
			return 0, fmt.Errorf("%w: until: %w", ErrInvalidDelay, err)
		}

		wait = until.Sub(r.engine.clock.Now())
	case models.DelayDynamic:
		value, found := condition.Resolve(r.scope(), config.Field)
		if !found {
			return 0, fmt.Errorf("%w: field '%s' not found", ErrInvalidDelay, config.Field)
		}

		ms, ok := number(value)
		if !ok {
			return 0, fmt.Errorf("%w: field '%s' is not a number of milliseconds", ErrInvalidDelay, config.Field)
		}

		wait = time.Duration(ms * float64(time.Millisecond))
	default:
		return 0, fmt.Errorf("%w: unknown delay type '%s'", ErrInvalidDelay, config.DelayType)
	}

	return max(wait, 0), nil
}

// unitDuration maps a delay unit to its duration. Seconds are the default.
func unitDuration(unit string) (time.Duration, error) {
	switch unit {
	case "ms", "milliseconds":
		return time.Millisecond, nil
	case "", "s", "seconds":
		return time.Second, nil
	case "m", "minutes":
		return time.Minute, nil
	case "h", "hours":
		return time.Hour, nil
	case "d", "days":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: '%s'", ErrUnknownUnit, unit)
	}
}

// runLoop walks the item port body once per iteration with loop_index and loop_item
// set, then leaves through the complete and default ports.
func (r *run) runLoop(ctx context.Context, node *models.WorkflowNode, config *models.LoopNodeConfig) (outcome, error) {
	limit := config.MaxIterations
	if limit <= 0 {
		limit = models.DefaultMaxLoopIterations
	}

	body := r.targets(node, models.PortItem)

	iterate := func(index int, item any) error {
		err := ctx.Err()
		if err != nil {
			return err
		}

		r.setVariable(LoopIndexVariable, index)
		r.setVariable(LoopItemVariable, item)

		return r.walkAll(ctx, body)
	}

	iterations := 0

	switch config.LoopType {
	case models.LoopCount:
		count := min(config.Count, limit)

		for ; iterations < count; iterations++ {
			if err := iterate(iterations, iterations); err != nil {
				return outcome{}, err
			}
		}
	case models.LoopCollection:
		items, err := r.collection(config.Collection)
		if err != nil {
			return outcome{}, err
		}

		for ; iterations < len(items) && iterations < limit; iterations++ {
			if err := iterate(iterations, items[iterations]); err != nil {
				return outcome{}, err
			}
		}
	case models.LoopWhile:
		for condition.Evaluate(*config.Condition, r.scope()).Matched {
			if iterations >= limit {
				return outcome{}, fmt.Errorf("%w: %d", ErrLoopLimitReached, limit)
			}

			if err := iterate(iterations, nil); err != nil {
				return outcome{}, err
			}

			iterations++
		}
	default:
		return outcome{}, fmt.Errorf("%w: unknown loop type '%s'", ErrUnsupportedNode, config.LoopType)
	}

	return outcome{
		output: map[string]any{"iterations": iterations},
		next:   r.targets(node, models.PortComplete, models.PortDefault),
	}, nil
}

// collection resolves a context path, or renders a template, into a list.
func (r *run) collection(source string) ([]any, error) {
	scope := r.scope()

	var (
		value any
		found bool
	)

	if template.IsTemplate(source) {
		rendered, err := template.Render(source, scope)
		if err != nil {
			return nil, err
		}

		value, found = rendered, true
	} else {
		value, found = condition.Resolve(scope, source)
	}

	if !found || value == nil {
		return []any{}, nil
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotACollection, source)
	}

	return items, nil
}

// runParallel walks every branch with at most MaxConcurrency in flight. The results
// are the branch node outputs in branch order.
func (r *run) runParallel(ctx context.Context, node *models.WorkflowNode, config *models.ParallelNodeConfig) (outcome, error) {
	limit := config.MaxConcurrency
	if limit <= 0 {
		limit = len(config.Branches)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(limit, 1))

	for _, branch := range config.Branches {
		group.Go(func() error {
			err := groupCtx.Err()
			if err != nil {
				return err
			}

			return r.walk(groupCtx, branch)
		})
	}

	err := group.Wait()
	if err != nil {
		return outcome{}, err
	}

	scope := r.scope()
	results := make([]any, len(config.Branches))

	for i, branch := range config.Branches {
		results[i] = scope[branch+"_output"]
	}

	next := slices.DeleteFunc(r.targets(node, models.PortDefault), func(target string) bool {
		return slices.Contains(config.Branches, target)
	})

	return outcome{output: map[string]any{"results": results}, next: next}, nil
}

// runSubworkflow starts the child execution. Without Wait the node only records the
// child id; with Wait it adopts the child's output and fails when the child does.
func (r *run) runSubworkflow(
	ctx context.Context,
	node *models.WorkflowNode,
	config *models.SubworkflowNodeConfig,
) (outcome, error) {
	scope := r.scope()

	input, err := template.RenderMap(config.Input, scope)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to render subworkflow input: %w", err)
	}

	if len(config.Input) == 0 {
		input, _ = scope["output"].(map[string]any)
	}

	tenantID := r.execution.TenantID

	child, err := r.engine.ExecuteWorkflow(ctx, tenantID, config.WorkflowID, maps.Clone(input), ExecuteOptions{
		Trigger: models.ExecutionTrigger{
			Type:   TriggerSubworkflow,
			Source: r.workflow.ID,
			Data:   map[string]any{"parentExecutionId": r.execution.ID, "nodeId": node.ID},
		},
		ParentExecutionID: r.execution.ID,
	})
	if err != nil {
		return outcome{input: input}, err
	}

	next := r.targets(node, models.PortDefault)

	if !config.Wait {
		return outcome{input: input, output: map[string]any{"subworkflowExecutionId": child.ID}, next: next}, nil
	}

	finished, err := r.engine.AwaitExecution(ctx, tenantID, child.ID)
	if err != nil {
		_, _ = r.engine.CancelExecution(context.WithoutCancel(ctx), tenantID, child.ID)

		return outcome{input: input}, err
	}

	if finished.Status != models.ExecutionStatusCompleted {
		return outcome{input: input}, fmt.Errorf("%w: execution %s %s: %s", ErrChildFailed, child.ID, finished.Status, finished.Error)
	}

	return outcome{input: input, output: finished.Context.Output, next: next}, nil
}

// runEnd merges the templated output into the execution output. End nodes have no children.
func (r *run) runEnd(config *models.EndNodeConfig) (outcome, error) {
	output, err := template.RenderMap(config.Output, r.scope())
	if err != nil {
		return outcome{}, fmt.Errorf("failed to render end output: %w", err)
	}

	r.mu.Lock()
	maps.Copy(r.execution.Context.Output, output)
	r.mu.Unlock()

	return outcome{output: output}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

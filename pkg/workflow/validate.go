package workflow

import (
	"fmt"

	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/models"
)

// Validate returns every reason the workflow cannot be activated. An empty result
// means the graph has a trigger and an end node, every other node is connected, every
// edge references existing nodes and node configs are complete and acyclic.
func Validate(workflow *models.Workflow) []string {
	problems := configProblems(workflow)

	if len(workflow.NodesOfType(models.NodeTypeTrigger)) == 0 {
		problems = append(problems, "workflow must have at least one trigger node")
	}

	if len(workflow.NodesOfType(models.NodeTypeEnd)) == 0 {
		problems = append(problems, "workflow must have at least one end node")
	}

	connected := map[string]bool{}

	for _, edge := range workflow.Edges {
		_, sourceOK := workflow.Node(edge.Source)
		if !sourceOK {
			problems = append(problems, fmt.Sprintf("edge %s references missing source node '%s'", edge.ID, edge.Source))
		}

		_, targetOK := workflow.Node(edge.Target)
		if !targetOK {
			problems = append(problems, fmt.Sprintf("edge %s references missing target node '%s'", edge.ID, edge.Target))
		}

		connected[edge.Source] = true
		connected[edge.Target] = true
	}

	for _, node := range workflow.Nodes {
		for _, ref := range references(node) {
			connected[node.ID] = true
			connected[ref] = true
		}
	}

	for _, node := range workflow.Nodes {
		if node.Type != models.NodeTypeTrigger && node.Type != models.NodeTypeEnd && !connected[node.ID] {
			problems = append(problems, fmt.Sprintf("node %s (%s) is not connected to any edge", node.ID, node.Name))
		}

		problems = append(problems, nodeProblems(workflow, node)...)
	}

	if node := findCycle(workflow); node != "" {
		problems = append(problems, fmt.Sprintf("graph contains a cycle through node %s", node))
	}

	return problems
}

// configProblems reports structural errors that are rejected even for drafts.
func configProblems(workflow *models.Workflow) []string {
	var problems []string

	seen := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if seen[node.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %s", node.ID))
		}

		seen[node.ID] = true

		if err := node.CheckConfig(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	return problems
}

func nodeProblems(workflow *models.Workflow, node *models.WorkflowNode) []string {
	var problems []string

	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("node %s: ", node.ID)+fmt.Sprintf(format, args...))
	}

	if handling := node.ErrorHandling; handling != nil && handling.Strategy == models.ErrorStrategyFallback {
		if _, ok := workflow.Node(handling.FallbackNodeID); !ok {
			add("fallback node '%s' does not exist", handling.FallbackNodeID)
		}
	}

	switch config := node.Config.(type) {
	case *models.ConditionNodeConfig:
		for _, problem := range condition.Validate(config.Conditions) {
			add("%s", problem)
		}
	case *models.ActionNodeConfig:
		if config.ActionType == "" && config.InstanceID == "" {
			add("action_type or instance_id is required")
		}
	case *models.DelayNodeConfig:
		switch config.DelayType {
		case models.DelayFixed:
			if _, err := unitDuration(config.Unit); err != nil {
				add("%s", err)
			}
		case models.DelayUntil:
			if config.Until == "" {
				add("until is required for an until delay")
			}
		case models.DelayDynamic:
			if config.Field == "" {
				add("field is required for a dynamic delay")
			}
		default:
			add("unknown delay type '%s'", config.DelayType)
		}
	case *models.LoopNodeConfig:
		switch config.LoopType {
		case models.LoopCount:
		case models.LoopCollection:
			if config.Collection == "" {
				add("collection is required for a collection loop")
			}
		case models.LoopWhile:
			if config.Condition == nil {
				add("condition is required for a while loop")
			} else {
				for _, problem := range condition.Validate(*config.Condition) {
					add("%s", problem)
				}
			}
		default:
			add("unknown loop type '%s'", config.LoopType)
		}
	case *models.ParallelNodeConfig:
		if len(config.Branches) == 0 {
			add("parallel node needs at least one branch")
		}

		for _, branch := range config.Branches {
			if _, ok := workflow.Node(branch); !ok {
				add("branch node '%s' does not exist", branch)
			}
		}
	case *models.SubworkflowNodeConfig:
		if config.WorkflowID == "" {
			add("workflow_id is required")
		}
	}

	return problems
}

// findCycle returns a node on a directed cycle, or "" when the graph is acyclic.
// Parallel branches count as edges.
func findCycle(workflow *models.Workflow) string {
	const (
		visiting = iota + 1
		done
	)

	state := make(map[string]int, len(workflow.Nodes))

	var visit func(id string) string

	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}

		state[id] = visiting

		for _, next := range successors(workflow, id) {
			if found := visit(next); found != "" {
				return found
			}
		}

		state[id] = done

		return ""
	}

	for _, node := range workflow.Nodes {
		if found := visit(node.ID); found != "" {
			return found
		}
	}

	return ""
}

func successors(workflow *models.Workflow, id string) []string {
	var out []string

	for _, edge := range workflow.Outgoing(id) {
		out = append(out, edge.Target)
	}

	node, ok := workflow.Node(id)
	if !ok {
		return out
	}

	if parallel, ok := node.Config.(*models.ParallelNodeConfig); ok {
		out = append(out, parallel.Branches...)
	}

	return out
}

// references lists the nodes a node reaches without an edge: parallel branches and the
// fallback node.
func references(node *models.WorkflowNode) []string {
	var refs []string

	if parallel, ok := node.Config.(*models.ParallelNodeConfig); ok {
		refs = append(refs, parallel.Branches...)
	}

	if handling := node.ErrorHandling; handling != nil && handling.Strategy == models.ErrorStrategyFallback {
		refs = append(refs, handling.FallbackNodeID)
	}

	return refs
}

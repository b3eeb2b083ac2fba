package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
)

// AddNode appends node to the graph and returns it with its id.
func (e *Engine) AddNode(ctx context.Context, tenantID, workflowID string, node *models.WorkflowNode) (*models.WorkflowNode, error) {
	if node.ID == "" {
		node.ID = models.NewID(models.PrefixNode)
	}

	err := e.editGraph(ctx, "AddNode", tenantID, workflowID, func(workflow *models.Workflow) error {
		if _, exists := workflow.Node(node.ID); exists {
			return apperr.Conflict("AddNode", "node", node.ID, "node id already used in workflow")
		}

		if err := node.CheckConfig(); err != nil {
			return apperr.Validation("AddNode", "node", node.ID, err.Error())
		}

		workflow.Nodes = append(workflow.Nodes, node)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

// UpdateNode replaces the node with nodeID, keeping the id.
func (e *Engine) UpdateNode(
	ctx context.Context,
	tenantID, workflowID, nodeID string,
	node *models.WorkflowNode,
) (*models.WorkflowNode, error) {
	node.ID = nodeID

	err := e.editGraph(ctx, "UpdateNode", tenantID, workflowID, func(workflow *models.Workflow) error {
		index := slices.IndexFunc(workflow.Nodes, func(n *models.WorkflowNode) bool { return n.ID == nodeID })
		if index < 0 {
			return apperr.NotFound("UpdateNode", "node", nodeID)
		}

		if err := node.CheckConfig(); err != nil {
			return apperr.Validation("UpdateNode", "node", nodeID, err.Error())
		}

		workflow.Nodes[index] = node

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

// RemoveNode deletes a node together with every edge touching it.
func (e *Engine) RemoveNode(ctx context.Context, tenantID, workflowID, nodeID string) error {
	return e.editGraph(ctx, "RemoveNode", tenantID, workflowID, func(workflow *models.Workflow) error {
		before := len(workflow.Nodes)

		workflow.Nodes = slices.DeleteFunc(workflow.Nodes, func(n *models.WorkflowNode) bool { return n.ID == nodeID })
		if len(workflow.Nodes) == before {
			return apperr.NotFound("RemoveNode", "node", nodeID)
		}

		workflow.Edges = slices.DeleteFunc(workflow.Edges, func(edge *models.WorkflowEdge) bool {
			return edge.Source == nodeID || edge.Target == nodeID
		})

		return nil
	})
}

// AddEdge connects two existing nodes.
func (e *Engine) AddEdge(ctx context.Context, tenantID, workflowID string, edge *models.WorkflowEdge) (*models.WorkflowEdge, error) {
	if edge.ID == "" {
		edge.ID = models.NewID(models.PrefixEdge)
	}

	err := e.editGraph(ctx, "AddEdge", tenantID, workflowID, func(workflow *models.Workflow) error {
		var problems []string

		if _, ok := workflow.Node(edge.Source); !ok {
			problems = append(problems, fmt.Sprintf("source node '%s' does not exist", edge.Source))
		}

		if _, ok := workflow.Node(edge.Target); !ok {
			problems = append(problems, fmt.Sprintf("target node '%s' does not exist", edge.Target))
		}

		if len(problems) > 0 {
			return apperr.Validation("AddEdge", "edge", edge.ID, problems...)
		}

		workflow.Edges = append(workflow.Edges, edge)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return edge, nil
}

func (e *Engine) RemoveEdge(ctx context.Context, tenantID, workflowID, edgeID string) error {
	return e.editGraph(ctx, "RemoveEdge", tenantID, workflowID, func(workflow *models.Workflow) error {
		before := len(workflow.Edges)

		workflow.Edges = slices.DeleteFunc(workflow.Edges, func(edge *models.WorkflowEdge) bool { return edge.ID == edgeID })
		if len(workflow.Edges) == before {
			return apperr.NotFound("RemoveEdge", "edge", edgeID)
		}

		return nil
	})
}

// editGraph applies edit under the workflow lock and bumps the version. Edits that
// would leave an active workflow invalid are rejected.
func (e *Engine) editGraph(
	ctx context.Context,
	op, tenantID, workflowID string,
	edit func(workflow *models.Workflow) error,
) error {
	unlock := e.locks.Lock(lock.Key(tenantID, workflowID))
	defer unlock()

	workflow, err := e.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}

	err = edit(workflow)
	if err != nil {
		return err
	}

	if workflow.Status == models.WorkflowStatusActive {
		if problems := Validate(workflow); len(problems) > 0 {
			return apperr.Validation(op, kindWorkflow, workflowID, problems...)
		}
	}

	workflow.Version++
	workflow.UpdatedAt = e.now()

	err = e.workflows.Save(ctx, tenantID, workflowID, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow graph: %w", err)
	}

	e.emitChange(ctx, events.WorkflowUpdatedEvent, workflow)

	return nil
}

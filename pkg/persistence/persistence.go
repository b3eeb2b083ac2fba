package persistence

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entity kinds.
const (
	KindWorkflow          = "workflows"
	KindWorkflowExecution = "workflow_executions"
	KindRule              = "rules"
	KindRuleSet           = "rule_sets"
	KindRuleEvaluation    = "rule_evaluations"
	KindTrigger           = "triggers"
	KindTriggerExecution  = "trigger_executions"
	KindActionDefinition  = "action_definitions"
	KindActionInstance    = "action_instances"
	KindActionExecution   = "action_executions"
	KindRecord            = "records"
)

// Store is a tenant-scoped key/value store of JSON documents grouped by kind.
// List returns documents ordered by id.
type Store interface {
	Get(ctx context.Context, kind, tenantID, id string) ([]byte, error)
	Put(ctx context.Context, kind, tenantID, id string, data []byte) error
	Delete(ctx context.Context, kind, tenantID, id string) error
	List(ctx context.Context, kind, tenantID string) ([][]byte, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Repository gives typed access to one kind of a Store.
type Repository[T any] struct {
	store Store
	kind  string
}

// NewRepository creates a repository of kind over store.
func NewRepository[T any](store Store, kind string) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// Kind returns the entity kind handled by the repository.
func (r *Repository[T]) Kind() string {
	return r.kind
}

// Get loads the entity or returns an error matching ErrNotFound.
func (r *Repository[T]) Get(ctx context.Context, tenantID, id string) (*T, error) {
	data, err := r.store.Get(ctx, r.kind, tenantID, id)
	if err != nil {
		return nil, err
	}

	var entity T

	err = json.Unmarshal(data, &entity)
	if err != nil {
		return nil, NewEntityError("Get", r.kind, tenantID, id, fmt.Errorf("failed to decode: %w", err))
	}

	return &entity, nil
}

// Save writes the entity, replacing any previous version.
func (r *Repository[T]) Save(ctx context.Context, tenantID, id string, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return NewEntityError("Save", r.kind, tenantID, id, fmt.Errorf("failed to encode: %w", err))
	}

	return r.store.Put(ctx, r.kind, tenantID, id, data)
}

// Delete removes the entity or returns an error matching ErrNotFound.
func (r *Repository[T]) Delete(ctx context.Context, tenantID, id string) error {
	return r.store.Delete(ctx, r.kind, tenantID, id)
}

// List loads every entity of the tenant.
func (r *Repository[T]) List(ctx context.Context, tenantID string) ([]*T, error) {
	documents, err := r.store.List(ctx, r.kind, tenantID)
	if err != nil {
		return nil, err
	}

	entities := make([]*T, 0, len(documents))

	for _, data := range documents {
		var entity T

		err := json.Unmarshal(data, &entity)
		if err != nil {
			return nil, NewEntityError("List", r.kind, tenantID, "", fmt.Errorf("failed to decode: %w", err))
		}

		entities = append(entities, &entity)
	}

	return entities, nil
}

package actions

import (
	"context"
	"sort"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
)

// publicTenant is the store partition of custom definitions shared with every tenant.
const publicTenant = "_public"

const kindDefinition = "action definition"

// ListDefinitions returns the definitions visible to tenantID sorted by name: the
// built-in catalog, the tenant's custom definitions and public custom definitions.
// An empty category lists every category.
func (e *Executor) ListDefinitions(ctx context.Context, tenantID string, category models.ActionCategory) ([]models.ActionDefinition, error) {
	seen := map[string]bool{}

	var out []models.ActionDefinition

	add := func(definition models.ActionDefinition) {
		if seen[definition.ID] {
			return
		}

		seen[definition.ID] = true

		if category == "" || definition.Category == category {
			out = append(out, definition)
		}
	}

	for _, definition := range e.handlers.Definitions() {
		add(definition)
	}

	for _, partition := range []string{tenantID, publicTenant} {
		custom, err := e.definitions.List(ctx, partition)
		if err != nil {
			return nil, err
		}

		for _, definition := range custom {
			add(*definition)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// GetDefinition resolves id among the built-in, tenant and public definitions.
func (e *Executor) GetDefinition(ctx context.Context, tenantID, id string) (*models.ActionDefinition, error) {
	for _, definition := range e.handlers.Definitions() {
		if definition.ID == id {
			return &definition, nil
		}
	}

	for _, partition := range []string{tenantID, publicTenant} {
		definition, err := e.definitions.Get(ctx, partition, id)
		if err == nil {
			return definition, nil
		}

		if !persistence.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, apperr.NotFound("GetDefinition", kindDefinition, id)
}

// RegisterDefinition stores a custom definition owned by tenantID. It is private to
// the tenant unless Public is set. Built-in ids cannot be shadowed.
func (e *Executor) RegisterDefinition(ctx context.Context, tenantID string, definition *models.ActionDefinition) (*models.ActionDefinition, error) {
	if problems := models.ValidateStruct(definition); len(problems) > 0 {
		return nil, apperr.Validation("RegisterDefinition", kindDefinition, definition.ID, problems...)
	}

	if err := checkSchema(definition.InputSchema); err != nil {
		return nil, apperr.Validation("RegisterDefinition", kindDefinition, definition.ID, "input schema: "+err.Error())
	}

	if e.isBuiltin(definition.ID) {
		return nil, apperr.Conflict("RegisterDefinition", kindDefinition, definition.ID, "id is reserved by a built-in action")
	}

	unlock := e.locks.Lock(definition.ID)
	defer unlock()

	partition := tenantID
	if definition.Public {
		partition = publicTenant
	}

	existing, err := e.GetDefinition(ctx, tenantID, definition.ID)
	if err == nil && existing.TenantID != tenantID {
		return nil, apperr.Conflict("RegisterDefinition", kindDefinition, definition.ID, "id is owned by another tenant")
	}

	if definition.Category == "" {
		definition.Category = models.CategoryCustom
	}

	definition.TenantID = tenantID

	err = e.definitions.Save(ctx, partition, definition.ID, definition)
	if err != nil {
		return nil, err
	}

	return definition, nil
}

func (e *Executor) isBuiltin(id string) bool {
	for _, definition := range e.handlers.Definitions() {
		if definition.ID == id {
			return true
		}
	}

	return false
}

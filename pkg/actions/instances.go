package actions

import (
	"context"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
)

const kindInstance = "action instance"

// InstanceUpdate lists the instance fields to change. Nil fields are kept.
type InstanceUpdate struct {
	Name        *string        `json:"name,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Credentials *string        `json:"credentials,omitempty"`
	Active      *bool          `json:"active,omitempty"`
}

// CreateInstance binds a definition visible to tenantID to a tenant configuration.
// New instances are active.
func (e *Executor) CreateInstance(ctx context.Context, tenantID string, instance *models.ActionInstance) (*models.ActionInstance, error) {
	instance.TenantID = tenantID

	if problems := models.ValidateStruct(instance); len(problems) > 0 {
		return nil, apperr.Validation("CreateInstance", kindInstance, instance.ID, problems...)
	}

	_, err := e.GetDefinition(ctx, tenantID, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()

	instance.ID = models.NewID(models.PrefixActionInstance)
	instance.Active = true
	instance.CreatedAt = now
	instance.UpdatedAt = now

	err = e.instances.Save(ctx, tenantID, instance.ID, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (e *Executor) GetInstance(ctx context.Context, tenantID, id string) (*models.ActionInstance, error) {
	instance, err := e.instances.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetInstance", kindInstance, id)
	}

	return instance, err
}

// ListInstances returns the tenant's instances, optionally only those of definitionID.
func (e *Executor) ListInstances(ctx context.Context, tenantID, definitionID string) ([]*models.ActionInstance, error) {
	all, err := e.instances.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if definitionID == "" {
		return all, nil
	}

	out := make([]*models.ActionInstance, 0, len(all))

	for _, instance := range all {
		if instance.DefinitionID == definitionID {
			out = append(out, instance)
		}
	}

	return out, nil
}

func (e *Executor) UpdateInstance(ctx context.Context, tenantID, id string, update InstanceUpdate) (*models.ActionInstance, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	instance, err := e.GetInstance(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		instance.Name = *update.Name
	}

	if update.Config != nil {
		instance.Config = update.Config
	}

	if update.Credentials != nil {
		instance.Credentials = *update.Credentials
	}

	if update.Active != nil {
		instance.Active = *update.Active
	}

	if problems := models.ValidateStruct(instance); len(problems) > 0 {
		return nil, apperr.Validation("UpdateInstance", kindInstance, id, problems...)
	}

	instance.UpdatedAt = e.clock.Now().UTC()

	err = e.instances.Save(ctx, tenantID, id, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (e *Executor) DeleteInstance(ctx context.Context, tenantID, id string) error {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	err := e.instances.Delete(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return apperr.NotFound("DeleteInstance", kindInstance, id)
	}

	return err
}

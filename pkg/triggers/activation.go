package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
)

type triggerRef struct {
	tenantID string
	id       string
}

func refOf(trigger *models.Trigger) triggerRef {
	return triggerRef{tenantID: trigger.TenantID, id: trigger.ID}
}

func (r triggerRef) scheduleID() string {
	return r.tenantID + "/" + r.id
}

// registration remembers the side effect performed for an active trigger so
// deactivation reverses exactly that, whatever the stored config says by then.
type registration struct {
	triggerType models.TriggerType
	eventName   string
	route       webhook.Route
}

// subscription is one bus subscription shared by every trigger of an event name.
type subscription struct {
	unsubscribe func()
	refs        map[triggerRef]struct{}
}

func (m *Manager) register(trigger *models.Trigger) error {
	ref := refOf(trigger)
	reg := registration{triggerType: trigger.Type}

	switch config := trigger.Config.(type) {
	case *models.EventTriggerConfig:
		err := m.subscribe(config.EventName, ref)
		if err != nil {
			return err
		}

		reg.eventName = config.EventName
	case *models.ScheduleTriggerConfig:
		err := m.scheduler.Add(ref.scheduleID(), config, func(ctx context.Context, firedAt time.Time) {
			m.fireScheduled(ctx, ref, firedAt)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule trigger: %w", err)
		}
	case *models.WebhookTriggerConfig:
		reg.route = webhook.NewRoute(trigger.TenantID, config.Path, config.Method)

		err := m.webhooks.Register(reg.route, trigger.ID, config.Secret)
		if err != nil {
			return err
		}
	case *models.ManualTriggerConfig, *models.APITriggerConfig, *models.EmailTriggerConfig,
		*models.FileTriggerConfig, *models.DatabaseTriggerConfig:
		// fired through FireTrigger only
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownTriggerType, trigger.Type)
	}

	m.mu.Lock()
	m.registered[ref] = reg
	m.mu.Unlock()

	return nil
}

func (m *Manager) unregister(ref triggerRef) {
	m.mu.Lock()
	reg, ok := m.registered[ref]
	delete(m.registered, ref)
	m.mu.Unlock()

	if !ok {
		return
	}

	switch reg.triggerType {
	case models.TriggerTypeEvent:
		m.unsubscribe(reg.eventName, ref)
	case models.TriggerTypeSchedule:
		m.scheduler.Remove(ref.scheduleID())
	case models.TriggerTypeWebhook:
		m.webhooks.Unregister(reg.route)
	}
}

// swap moves an active trigger from the registration of before to the config of after.
// Webhook routes and event subscriptions are added before the old ones are removed, so
// requests arriving during the update always find a route. On failure the previous
// registration stays in place.
func (m *Manager) swap(before, after *models.Trigger) error {
	ref := refOf(before)

	m.mu.Lock()
	previous, ok := m.registered[ref]
	m.mu.Unlock()

	if !ok || previous.triggerType == models.TriggerTypeSchedule || previous.triggerType != after.Type {
		return m.replace(before, after)
	}

	m.mu.Lock()
	delete(m.registered, ref)
	m.mu.Unlock()

	err := m.register(after)
	if err != nil {
		m.mu.Lock()
		m.registered[ref] = previous
		m.mu.Unlock()

		return err
	}

	m.mu.Lock()
	current := m.registered[ref]
	m.mu.Unlock()

	switch previous.triggerType {
	case models.TriggerTypeEvent:
		if previous.eventName != current.eventName {
			m.unsubscribe(previous.eventName, ref)
		}
	case models.TriggerTypeWebhook:
		if previous.route != current.route {
			m.webhooks.Unregister(previous.route)
		}
	}

	return nil
}

// replace removes the registration of before, then registers after. Schedules go
// through here since an entry id cannot be held twice.
func (m *Manager) replace(before, after *models.Trigger) error {
	m.unregister(refOf(before))

	err := m.register(after)
	if err == nil {
		return nil
	}

	restoreErr := m.register(before)
	if restoreErr != nil {
		m.logger.Error("Failed to restore trigger registration", "trigger_id", before.ID, "error", restoreErr)
	}

	return err
}

// Registered reports whether the trigger currently has an activation side effect.
func (m *Manager) Registered(tenantID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.registered[triggerRef{tenantID: tenantID, id: id}]

	return ok
}

// Subscriptions returns the number of event names with a live bus subscription.
func (m *Manager) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subscriptions)
}

func (m *Manager) subscribe(eventName string, ref triggerRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscriptions[eventName]; ok {
		sub.refs[ref] = struct{}{}

		return nil
	}

	sub := &subscription{
		unsubscribe: func() {},
		refs:        map[triggerRef]struct{}{ref: {}},
	}

	if m.subscriber != nil {
		unsubscribe, err := m.subscriber.Subscribe(m.ctx, eventName, m.handleMessage(eventName))
		if err != nil {
			return fmt.Errorf("failed to subscribe to event %s: %w", eventName, err)
		}

		sub.unsubscribe = unsubscribe
	}

	m.subscriptions[eventName] = sub

	m.logger.Info("Subscribed to event", "event_name", eventName)

	return nil
}

func (m *Manager) unsubscribe(eventName string, ref triggerRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[eventName]
	if !ok {
		return
	}

	delete(sub.refs, ref)

	if len(sub.refs) > 0 {
		return
	}

	sub.unsubscribe()
	delete(m.subscriptions, eventName)

	m.logger.Info("Unsubscribed from event", "event_name", eventName)
}

// listeners returns the triggers of tenantID subscribed to eventName.
func (m *Manager) listeners(tenantID, eventName string) []triggerRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[eventName]
	if !ok {
		return nil
	}

	var refs []triggerRef

	for ref := range sub.refs {
		if ref.tenantID == tenantID {
			refs = append(refs, ref)
		}
	}

	return refs
}

// handleMessage routes a bus message to HandleEvent. The tenant is the message key,
// or the tenant_id field of the payload when the publisher did not set one.
func (m *Manager) handleMessage(eventName string) eventbus.EventHandler {
	return func(ctx context.Context, msg *eventbus.Message) error {
		var payload map[string]any

		err := msg.Decode(&payload)
		if err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", eventName, err)
		}

		tenantID := msg.Key
		if tenantID == "" {
			tenantID, _ = payload["tenant_id"].(string)
		}

		if tenantID == "" {
			m.logger.WarnContext(ctx, "Dropping event without tenant", "event_name", eventName, "message_id", msg.ID)

			return nil
		}

		_, err = m.HandleEvent(ctx, tenantID, eventName, payload)

		return err
	}
}

func (m *Manager) fireScheduled(ctx context.Context, ref triggerRef, firedAt time.Time) {
	input := map[string]any{
		"trigger_id": ref.id,
		"fired_at":   firedAt.UTC().Format(time.RFC3339),
	}

	_, err := m.FireTrigger(ctx, ref.tenantID, ref.id, input)
	if err != nil {
		m.logger.ErrorContext(ctx, "Scheduled trigger failed", "tenant_id", ref.tenantID, "trigger_id", ref.id, "error", err)
	}
}

// Package notify provides the communication actions. Each one publishes a
// notification.send event for a delivery worker; the engine never talks to mail,
// SMS or chat providers itself.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

// Channels.
const (
	ChannelEmail        = "email"
	ChannelSMS          = "sms"
	ChannelSlack        = "slack"
	ChannelNotification = "in_app"
)

var ErrRecipientRequired = errors.New("notification recipient is required")

// ActionFactory builds the action of one delivery channel.
type ActionFactory struct {
	publisher  protocol.EventPublisher
	channel    string
	definition models.ActionDefinition
}

func NewEmailFactory(publisher protocol.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher, channel: ChannelEmail, definition: emailDefinition}
}

func NewSMSFactory(publisher protocol.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher, channel: ChannelSMS, definition: smsDefinition}
}

func NewSlackFactory(publisher protocol.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher, channel: ChannelSlack, definition: slackDefinition}
}

func NewNotificationFactory(publisher protocol.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher, channel: ChannelNotification, definition: notificationDefinition}
}

// Factories returns the four communication factories sharing publisher.
func Factories(publisher protocol.EventPublisher) []protocol.ActionFactory {
	return []protocol.ActionFactory{
		NewEmailFactory(publisher),
		NewSMSFactory(publisher),
		NewSlackFactory(publisher),
		NewNotificationFactory(publisher),
	}
}

func (f *ActionFactory) ID() string {
	return f.definition.ID
}

func (f *ActionFactory) Definition() models.ActionDefinition {
	return f.definition
}

func (f *ActionFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &Action{publisher: f.publisher, channel: f.channel, actionRef: f.definition.ID}

	err := models.Decode(input, &action.Input)
	if err != nil {
		return nil, err
	}

	if len(action.recipients()) == 0 {
		return nil, fmt.Errorf("%s: %w", f.definition.ID, ErrRecipientRequired)
	}

	return action, nil
}

// Input is the union of the inputs of every communication action.
type Input struct {
	To          any      `json:"to"`
	Cc          []string `json:"cc"`
	Bcc         []string `json:"bcc"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	IsHTML      bool     `json:"isHtml"`
	Attachments []any    `json:"attachments"`
	Message     string   `json:"message"`
	Channel     string   `json:"channel"`
	Blocks      []any    `json:"blocks"`
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Link        string   `json:"link"`
}

type Action struct {
	Input

	publisher protocol.EventPublisher
	channel   string
	actionRef string
}

func (a *Action) recipients() []string {
	switch a.channel {
	case ChannelSlack:
		return nonEmpty(a.Channel)
	case ChannelNotification:
		return nonEmpty(a.UserID)
	}

	switch to := a.To.(type) {
	case string:
		return nonEmpty(to)
	case []any:
		out := make([]string, 0, len(to))

		for _, item := range to {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}

	return []string{s}
}

func (a *Action) Execute(ctx context.Context, actx models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	event := events.Notification{
		BaseEvent: events.NewBaseEvent(events.NotificationEvent, actx.TenantID),
		Channel:   a.channel,
		To:        a.recipients(),
		ActionRef: a.actionRef,
	}

	switch a.channel {
	case ChannelEmail:
		event.Subject = a.Subject
		event.Body = a.Body
		event.Data = map[string]any{"cc": a.Cc, "bcc": a.Bcc, "isHtml": a.IsHTML, "attachments": a.Attachments}
	case ChannelSMS:
		event.Body = a.Message
	case ChannelSlack:
		event.Body = a.Message
		event.Data = map[string]any{"blocks": a.Blocks}
	case ChannelNotification:
		event.Subject = a.Title
		event.Body = a.Message

		kind := a.Type
		if kind == "" {
			kind = "info"
		}

		event.Data = map[string]any{"type": kind, "link": a.Link}
	}

	err := a.publisher.Publish(ctx, string(event.Type), actx.TenantID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s notification: %w", a.channel, err)
	}

	logger.InfoContext(ctx, "Notification queued", "channel", a.channel, "recipients", len(event.To))

	switch a.channel {
	case ChannelEmail:
		return map[string]any{"messageId": event.ID, "sentAt": event.Timestamp.Format(time.RFC3339)}, nil
	case ChannelSMS:
		return map[string]any{"messageId": event.ID, "status": "sent"}, nil
	case ChannelSlack:
		ts := fmt.Sprintf("%d.%06d", event.Timestamp.Unix(), event.Timestamp.Nanosecond()/1000)

		return map[string]any{"ts": ts, "channel": a.Channel}, nil
	default:
		return map[string]any{"notificationId": event.ID}, nil
	}
}

package notify

import "github.com/dukex/flowrule/pkg/models"

var emailDefinition = models.ActionDefinition{
	ID:          "send_email",
	Name:        "Send Email",
	Description: "Send an email to one or more recipients",
	Category:    models.CategoryCommunication,
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "title": "To"},
			"cc":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "title": "CC"},
			"bcc":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "title": "BCC"},
			"subject":     map[string]any{"type": "string", "title": "Subject"},
			"body":        map[string]any{"type": "string", "title": "Body"},
			"isHtml":      map[string]any{"type": "boolean", "title": "HTML Content", "default": false},
			"attachments": map[string]any{"type": "array", "title": "Attachments"},
		},
		"required": []any{"to", "subject", "body"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"messageId": map[string]any{"type": "string"},
			"sentAt":    map[string]any{"type": "string"},
		},
	},
	Retryable: true,
	Timeout:   30000,
	Public:    true,
}

var smsDefinition = models.ActionDefinition{
	ID:          "send_sms",
	Name:        "Send SMS",
	Description: "Send an SMS message",
	Category:    models.CategoryCommunication,
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string", "title": "Phone Number"},
			"message": map[string]any{"type": "string", "title": "Message", "maxLength": 1600},
		},
		"required": []any{"to", "message"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"messageId": map[string]any{"type": "string"},
			"status":    map[string]any{"type": "string"},
		},
	},
	Retryable: true,
	Timeout:   15000,
	Public:    true,
}

var slackDefinition = models.ActionDefinition{
	ID:          "send_slack",
	Name:        "Send Slack Message",
	Description: "Send a message to a Slack channel",
	Category:    models.CategoryCommunication,
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{"type": "string", "title": "Channel"},
			"message": map[string]any{"type": "string", "title": "Message"},
			"blocks":  map[string]any{"type": "array", "title": "Blocks"},
		},
		"required": []any{"channel", "message"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ts":      map[string]any{"type": "string"},
			"channel": map[string]any{"type": "string"},
		},
	},
	Retryable: true,
	Timeout:   10000,
	Public:    true,
}

var notificationDefinition = models.ActionDefinition{
	ID:          "send_notification",
	Name:        "Send In-App Notification",
	Description: "Send an in-app notification to a user",
	Category:    models.CategoryCommunication,
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"userId":  map[string]any{"type": "string", "title": "User ID"},
			"title":   map[string]any{"type": "string", "title": "Title"},
			"message": map[string]any{"type": "string", "title": "Message"},
			"type":    map[string]any{"type": "string", "enum": []any{"info", "success", "warning", "error"}, "title": "Type", "default": "info"},
			"link":    map[string]any{"type": "string", "title": "Link"},
		},
		"required": []any{"userId", "title", "message"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"notificationId": map[string]any{"type": "string"},
		},
	},
	Retryable: false,
	Timeout:   5000,
	Public:    true,
}

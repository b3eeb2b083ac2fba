package record

import "github.com/dukex/flowrule/pkg/models"

var definitions = map[string]models.ActionDefinition{
	OpCreate: {
		ID:          OpCreate,
		Name:        "Create Record",
		Description: "Create a new record in a data table",
		Category:    models.CategoryData,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table": map[string]any{"type": "string", "title": "Table Name"},
				"data":  map[string]any{"type": "object", "title": "Record Data"},
			},
			"required": []any{"table", "data"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":     map[string]any{"type": "string"},
				"record": map[string]any{"type": "object"},
			},
		},
		Retryable: false,
		Timeout:   10000,
		Public:    true,
	},
	OpUpdate: {
		ID:          OpUpdate,
		Name:        "Update Record",
		Description: "Update an existing record",
		Category:    models.CategoryData,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table": map[string]any{"type": "string", "title": "Table Name"},
				"id":    map[string]any{"type": "string", "title": "Record ID"},
				"data":  map[string]any{"type": "object", "title": "Update Data"},
			},
			"required": []any{"table", "id", "data"},
		},
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"record": map[string]any{"type": "object"}},
		},
		Retryable: false,
		Timeout:   10000,
		Public:    true,
	},
	OpDelete: {
		ID:          OpDelete,
		Name:        "Delete Record",
		Description: "Delete a record from a data table",
		Category:    models.CategoryData,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table": map[string]any{"type": "string", "title": "Table Name"},
				"id":    map[string]any{"type": "string", "title": "Record ID"},
			},
			"required": []any{"table", "id"},
		},
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"deleted": map[string]any{"type": "boolean"}},
		},
		Retryable: false,
		Timeout:   10000,
		Public:    true,
	},
	OpQuery: {
		ID:          OpQuery,
		Name:        "Query Records",
		Description: "Query records from a data table",
		Category:    models.CategoryData,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table":   map[string]any{"type": "string", "title": "Table Name"},
				"filters": map[string]any{"type": "object", "title": "Filters"},
				"sort": map[string]any{
					"type":  "object",
					"title": "Sort",
					"properties": map[string]any{
						"field": map[string]any{"type": "string"},
						"order": map[string]any{"type": "string", "enum": []any{"asc", "desc"}},
					},
				},
				"limit": map[string]any{"type": "number", "title": "Limit"},
			},
			"required": []any{"table"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"records": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
				"total":   map[string]any{"type": "number"},
			},
		},
		Retryable: true,
		Timeout:   30000,
		Public:    true,
	},
}

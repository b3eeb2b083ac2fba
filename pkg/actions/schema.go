package actions

import (
	"fmt"

	"github.com/dukex/flowrule/pkg/template"
	"github.com/xeipuuv/gojsonschema"
)

// templateFormat accepts strings that parse as Go templates.
type templateFormat struct{}

func (templateFormat) IsFormat(input any) bool {
	s, ok := input.(string)
	if !ok {
		return true
	}

	_, err := template.Parse(s)

	return err == nil
}

func init() {
	gojsonschema.FormatCheckers.Add("template", templateFormat{})
}

// withDefaults copies input and fills absent top-level properties from their schema default.
func withDefaults(schema map[string]any, input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}

	properties, _ := schema["properties"].(map[string]any)

	for name, raw := range properties {
		property, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if _, present := out[name]; present {
			continue
		}

		if value, ok := property["default"]; ok {
			out[name] = value
		}
	}

	return out
}

// validateInput checks input against schema and returns one message per violation.
func validateInput(schema map[string]any, input map[string]any) ([]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		messages = append(messages, resultErr.String())
	}

	return messages, nil
}

// checkSchema reports whether schema is a loadable JSON schema.
func checkSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))

	return err
}

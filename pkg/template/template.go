// Package template renders Go text/template expressions against execution data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
}

// Parse checks templateStr for syntax errors without rendering it.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.New("expression").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// Render executes templateStr against data. Output that looks like JSON, a number or a
// boolean is decoded into the matching Go value; anything else is returned as a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// IsTemplate reports whether s contains template actions.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderValue walks maps and slices and renders every string that contains template
// actions. Other values are returned unchanged.
func RenderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !IsTemplate(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		return RenderMap(v, data)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// RenderMap renders every templated value of config into a new map.
func RenderMap(config map[string]any, data any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}

	out := make(map[string]any, len(config))

	for key, value := range config {
		rendered, err := RenderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render '%s': %w", key, err)
		}

		out[key] = rendered
	}

	return out, nil
}

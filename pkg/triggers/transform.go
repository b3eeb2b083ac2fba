package triggers

import (
	"errors"
	"fmt"
	"maps"

	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/models"
)

var ErrUnknownTransformation = errors.New("unknown transformation")

func checkTransformation(t models.DataTransformation) error {
	switch t.Type {
	case models.TransformPick, models.TransformOmit:
		if len(t.Fields) == 0 {
			return fmt.Errorf("%s needs fields", t.Type)
		}
	case models.TransformRename:
		if len(t.Mapping) == 0 {
			return fmt.Errorf("%s needs a mapping", t.Type)
		}
	case models.TransformDefault:
		if len(t.Defaults) == 0 {
			return fmt.Errorf("%s needs defaults", t.Type)
		}
	default:
		return fmt.Errorf("%w '%s'", ErrUnknownTransformation, t.Type)
	}

	return nil
}

// transform applies transformations in order. Every step returns a new record; input
// is never modified.
func transform(transformations []models.DataTransformation, input map[string]any) map[string]any {
	out := maps.Clone(input)
	if out == nil {
		out = map[string]any{}
	}

	for _, t := range transformations {
		out = apply(t, out)
	}

	return out
}

func apply(t models.DataTransformation, record map[string]any) map[string]any {
	switch t.Type {
	case models.TransformPick:
		out := make(map[string]any, len(t.Fields))

		for _, field := range t.Fields {
			if value, ok := record[field]; ok {
				out[field] = value
			}
		}

		return out
	case models.TransformOmit:
		out := maps.Clone(record)

		for _, field := range t.Fields {
			delete(out, field)
		}

		return out
	case models.TransformRename:
		out := maps.Clone(record)
		renamed := make(map[string]any, len(t.Mapping))

		// Every source is read and removed before any target is written, so swaps
		// and chains keep all values.
		for from, to := range t.Mapping {
			value, ok := condition.Resolve(record, from)
			if !ok {
				continue
			}

			delete(out, from)
			renamed[to] = value
		}

		maps.Copy(out, renamed)

		return out
	case models.TransformDefault:
		out := maps.Clone(record)

		for field, value := range t.Defaults {
			if current, ok := out[field]; !ok || current == nil {
				out[field] = value
			}
		}

		return out
	default:
		return record
	}
}

// mapInput builds the input of one target. Each mapping entry copies the value at a
// payload path into a target field; an empty mapping forwards the whole payload.
func mapInput(mapping map[string]string, payload map[string]any) map[string]any {
	if len(mapping) == 0 {
		return maps.Clone(payload)
	}

	out := make(map[string]any, len(mapping))

	for field, path := range mapping {
		if value, ok := condition.Resolve(payload, path); ok {
			out[field] = value
		}
	}

	return out
}

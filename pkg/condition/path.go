package condition

import (
	"reflect"
	"strconv"
	"strings"
)

// Resolve walks a dotted path with optional "name[i]" indexing through maps and slices.
// The second result is false when any segment is missing; Resolve never panics.
func Resolve(input any, path string) (any, bool) {
	if path == "" {
		return input, true
	}

	current := input

	for _, segment := range splitPath(path) {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}

		current = next
	}

	return current, true
}

type pathSegment struct {
	key     string
	indexes []int
	valid   bool
}

func splitPath(path string) []pathSegment {
	parts := strings.Split(path, ".")
	segments := make([]pathSegment, 0, len(parts))

	for _, part := range parts {
		segments = append(segments, parseSegment(part))
	}

	return segments
}

// parseSegment splits "items[0][1]" into key "items" and indexes [0 1].
func parseSegment(part string) pathSegment {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return pathSegment{key: part, valid: true}
	}

	segment := pathSegment{key: part[:open], valid: true}
	rest := part[open:]

	for rest != "" {
		if rest[0] != '[' {
			return pathSegment{}
		}

		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return pathSegment{}
		}

		index, err := strconv.Atoi(rest[1:end])
		if err != nil || index < 0 {
			return pathSegment{}
		}

		segment.indexes = append(segment.indexes, index)
		rest = rest[end+1:]
	}

	return segment
}

func step(current any, segment pathSegment) (any, bool) {
	if !segment.valid {
		return nil, false
	}

	value := current

	if segment.key != "" {
		var ok bool

		value, ok = lookup(value, segment.key)
		if !ok {
			return nil, false
		}
	}

	for _, index := range segment.indexes {
		var ok bool

		value, ok = indexOf(value, index)
		if !ok {
			return nil, false
		}
	}

	return value, true
}

func lookup(container any, key string) (any, bool) {
	switch typed := container.(type) {
	case map[string]any:
		value, ok := typed[key]

		return value, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(container)

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		value := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !value.IsValid() {
			return nil, false
		}

		return value.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}

		return indexOf(container, index)
	default:
		return nil, false
	}
}

func indexOf(container any, index int) (any, bool) {
	if typed, ok := container.([]any); ok {
		if index < 0 || index >= len(typed) {
			return nil, false
		}

		return typed[index], true
	}

	if container == nil {
		return nil, false
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	if index < 0 || index >= rv.Len() {
		return nil, false
	}

	return rv.Index(index).Interface(), true
}

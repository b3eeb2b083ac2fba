// Package condition evaluates AND/OR condition trees against arbitrary JSON-like input.
package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/template"
)

// Result is the outcome of evaluating a condition group.
type Result struct {
	Matched    bool
	MatchedIDs []string
}

var aliases = map[models.ConditionOperator]models.ConditionOperator{
	"eq":  models.OpEquals,
	"neq": models.OpNotEquals,
	"ne":  models.OpNotEquals,
	"gt":  models.OpGreaterThan,
	"gte": models.OpGreaterThanOrEqual,
	"lt":  models.OpLessThan,
	"lte": models.OpLessThanOrEqual,
}

var known = map[models.ConditionOperator]struct{}{
	models.OpEquals: {}, models.OpNotEquals: {},
	models.OpGreaterThan: {}, models.OpGreaterThanOrEqual: {},
	models.OpLessThan: {}, models.OpLessThanOrEqual: {},
	models.OpContains: {}, models.OpNotContains: {},
	models.OpStartsWith: {}, models.OpEndsWith: {},
	models.OpIn: {}, models.OpNotIn: {},
	models.OpBetween: {}, models.OpNotBetween: {},
	models.OpIsNull: {}, models.OpIsNotNull: {},
	models.OpIsEmpty: {}, models.OpIsNotEmpty: {},
	models.OpMatches: {}, models.OpNotMatches: {},
	models.OpBefore: {}, models.OpAfter: {},
	models.OpHasProperty: {}, models.OpHasNotProperty: {},
}

// Normalize maps short operator aliases to their canonical name.
func Normalize(op models.ConditionOperator) models.ConditionOperator {
	if canonical, ok := aliases[op]; ok {
		return canonical
	}

	return op
}

// Known reports whether op, after alias normalization, is a supported operator.
func Known(op models.ConditionOperator) bool {
	_, ok := known[Normalize(op)]

	return ok
}

// Evaluate walks group against input. Every child is evaluated; an empty AND group
// matches and an empty OR group does not.
func Evaluate(group models.ConditionGroup, input map[string]any) Result {
	matched, ids := evalGroup(&group, input, nil)

	return Result{Matched: matched, MatchedIDs: ids}
}

// Explain evaluates group and also returns one diagnostic per leaf condition.
func Explain(group models.ConditionGroup, input map[string]any) (Result, []models.ConditionDiagnostic) {
	diagnostics := []models.ConditionDiagnostic{}
	matched, ids := evalGroup(&group, input, &diagnostics)

	return Result{Matched: matched, MatchedIDs: ids}, diagnostics
}

// Match evaluates a single leaf condition.
func Match(c models.Condition, input map[string]any) bool {
	matched, _, _ := evalLeaf(&c, input)

	return matched
}

// MatchAll reports whether every condition matches input. An empty list matches.
func MatchAll(conditions []models.Condition, input map[string]any) bool {
	for i := range conditions {
		if !Match(conditions[i], input) {
			return false
		}
	}

	return true
}

func evalGroup(group *models.ConditionGroup, input map[string]any, diagnostics *[]models.ConditionDiagnostic) (bool, []string) {
	isOr := group.Operator == models.GroupOr
	matched := !isOr

	var ids []string

	for _, entry := range group.Conditions {
		var (
			ok       bool
			childIDs []string
		)

		switch {
		case entry.Group != nil:
			ok, childIDs = evalGroup(entry.Group, input, diagnostics)
		case entry.Condition != nil:
			var actual, expected any

			ok, actual, expected = evalLeaf(entry.Condition, input)
			if ok {
				childIDs = []string{leafID(entry.Condition)}
			}

			if diagnostics != nil {
				*diagnostics = append(*diagnostics, models.ConditionDiagnostic{
					ID:       leafID(entry.Condition),
					Field:    entry.Condition.Field,
					Operator: entry.Condition.Operator,
					Expected: expected,
					Actual:   actual,
					Matched:  ok,
				})
			}
		}

		if ok {
			ids = append(ids, childIDs...)
		}

		if isOr {
			matched = matched || ok
		} else {
			matched = matched && ok
		}
	}

	return matched, ids
}

func leafID(c *models.Condition) string {
	if c.ID != "" {
		return c.ID
	}

	return c.Field
}

func evalLeaf(c *models.Condition, input map[string]any) (bool, any, any) {
	actual, found := Resolve(input, c.Field)
	expected := operand(c, input)

	matched := compare(Normalize(c.Operator), actual, found, expected, c.CaseSensitive)
	if c.Negate {
		matched = !matched
	}

	return matched, actual, expected
}

func operand(c *models.Condition, input map[string]any) any {
	switch c.ValueType {
	case models.ValueField:
		path, ok := c.Value.(string)
		if !ok {
			return nil
		}

		value, _ := Resolve(input, path)

		return value
	case models.ValueExpression:
		expr, ok := c.Value.(string)
		if !ok {
			return c.Value
		}

		value, err := template.Render(expr, input)
		if err != nil {
			return nil
		}

		return value
	default:
		return c.Value
	}
}

func compare(op models.ConditionOperator, actual any, found bool, expected any, caseSensitive bool) bool {
	switch op {
	case models.OpEquals:
		return found && equal(actual, expected, caseSensitive)
	case models.OpNotEquals:
		return !found || !equal(actual, expected, caseSensitive)
	case models.OpGreaterThan:
		cmp, ok := order(actual, found, expected)

		return ok && cmp > 0
	case models.OpGreaterThanOrEqual:
		cmp, ok := order(actual, found, expected)

		return ok && cmp >= 0
	case models.OpLessThan:
		cmp, ok := order(actual, found, expected)

		return ok && cmp < 0
	case models.OpLessThanOrEqual:
		cmp, ok := order(actual, found, expected)

		return ok && cmp <= 0
	case models.OpContains:
		return found && contains(actual, expected)
	case models.OpNotContains:
		return !found || !contains(actual, expected)
	case models.OpStartsWith:
		return found && strings.HasPrefix(stringify(actual), stringify(expected))
	case models.OpEndsWith:
		return found && strings.HasSuffix(stringify(actual), stringify(expected))
	case models.OpIn:
		return found && in(actual, expected)
	case models.OpNotIn:
		return !found || !in(actual, expected)
	case models.OpBetween:
		return found && between(actual, expected)
	case models.OpNotBetween:
		return found && bounds(expected) && !between(actual, expected)
	case models.OpIsNull:
		return isNull(actual, found)
	case models.OpIsNotNull:
		return !isNull(actual, found)
	case models.OpIsEmpty:
		return isEmpty(actual, found)
	case models.OpIsNotEmpty:
		return !isEmpty(actual, found)
	case models.OpMatches:
		re, err := regexp.Compile(stringify(expected))

		return err == nil && found && re.MatchString(stringify(actual))
	case models.OpNotMatches:
		re, err := regexp.Compile(stringify(expected))

		return err == nil && (!found || !re.MatchString(stringify(actual)))
	case models.OpBefore:
		a, okA := toTime(actual)
		b, okB := toTime(expected)

		return found && okA && okB && a.Before(b)
	case models.OpAfter:
		a, okA := toTime(actual)
		b, okB := toTime(expected)

		return found && okA && okB && a.After(b)
	case models.OpHasProperty:
		return found && hasProperty(actual, stringify(expected))
	case models.OpHasNotProperty:
		return !found || !hasProperty(actual, stringify(expected))
	default:
		return false
	}
}

func isNull(v any, found bool) bool {
	if !found || v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func isEmpty(v any, found bool) bool {
	if isNull(v, found) {
		return true
	}

	if s, ok := v.(string); ok {
		return s == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}

func equal(a, b any, caseSensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}

	if x, ok := a.(bool); ok {
		y, ok := b.(bool)

		return ok && x == y
	}

	sa, okA := a.(string)
	sb, okB := b.(string)

	if okA && okB {
		if caseSensitive {
			return sa == sb
		}

		return strings.EqualFold(sa, sb)
	}

	return reflect.DeepEqual(a, b)
}

// Compare orders a and b with the rules of the ordering operators. The second result
// is false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	return order(a, true, b)
}

// order compares numerically, then as timestamps, then lexically.
func order(a any, found bool, b any) (int, bool) {
	if !found || a == nil || b == nil {
		return 0, false
	}

	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if x, ok := timeValue(a); ok {
		if y, ok := timeValue(b); ok {
			return x.Compare(y), true
		}
	}

	sa, okA := a.(string)
	sb, okB := b.(string)

	if okA && okB {
		return strings.Compare(sa, sb), true
	}

	return 0, false
}

func contains(actual, expected any) bool {
	if items, ok := asSlice(actual); ok {
		for _, item := range items {
			if equal(item, expected, true) {
				return true
			}
		}

		return false
	}

	return strings.Contains(stringify(actual), stringify(expected))
}

func in(actual, expected any) bool {
	items, ok := asSlice(expected)
	if !ok {
		return false
	}

	for _, item := range items {
		if equal(actual, item, true) {
			return true
		}
	}

	return false
}

func bounds(expected any) bool {
	items, ok := asSlice(expected)

	return ok && len(items) == 2
}

func between(actual, expected any) bool {
	items, ok := asSlice(expected)
	if !ok || len(items) != 2 {
		return false
	}

	low, ok := order(actual, true, items[0])
	if !ok || low < 0 {
		return false
	}

	high, ok := order(actual, true, items[1])

	return ok && high <= 0
}

func hasProperty(actual any, key string) bool {
	if m, ok := actual.(map[string]any); ok {
		_, exists := m[key]

		return exists
	}

	_, ok := lookup(actual, key)

	return ok && reflect.ValueOf(actual).Kind() == reflect.Map
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}

	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil && strings.TrimSpace(n) != ""
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// timeValue only accepts time values and timestamp strings.
func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}

		return *t, true
	case string:
		for _, layout := range timeLayouts {
			parsed, err := time.Parse(layout, t)
			if err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}

// toTime also treats numbers as unix milliseconds.
func toTime(v any) (time.Time, bool) {
	if t, ok := timeValue(v); ok {
		return t, true
	}

	if _, isString := v.(string); isString {
		return time.Time{}, false
	}

	if ms, ok := toNumber(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}

	return time.Time{}, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

package condition

import (
	"fmt"
	"regexp"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/template"
)

var noOperand = map[models.ConditionOperator]bool{
	models.OpIsNull:     true,
	models.OpIsNotNull:  true,
	models.OpIsEmpty:    true,
	models.OpIsNotEmpty: true,
}

// Validate returns one message per structural problem found in group.
func Validate(group models.ConditionGroup) []string {
	return validateGroup(&group, "conditions")
}

// ValidateCondition returns the problems of a single leaf.
func ValidateCondition(c models.Condition, path string) []string {
	var problems []string

	if c.Field == "" {
		problems = append(problems, path+": field is required")
	}

	op := Normalize(c.Operator)
	if !Known(op) {
		problems = append(problems, fmt.Sprintf("%s: unknown operator '%s'", path, c.Operator))

		return problems
	}

	switch c.ValueType {
	case "", models.ValueStatic:
	case models.ValueField:
		if _, ok := c.Value.(string); !ok {
			problems = append(problems, path+": field value must be a path string")
		}
	case models.ValueExpression:
		expr, ok := c.Value.(string)
		if !ok {
			problems = append(problems, path+": expression value must be a string")
		} else if _, err := template.Parse(expr); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", path, err))
		}
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown value type '%s'", path, c.ValueType))
	}

	if noOperand[op] || c.ValueType == models.ValueField || c.ValueType == models.ValueExpression {
		return problems
	}

	switch op {
	case models.OpIn, models.OpNotIn:
		if _, ok := asSlice(c.Value); !ok {
			problems = append(problems, path+": value must be a list")
		}
	case models.OpBetween, models.OpNotBetween:
		if !bounds(c.Value) {
			problems = append(problems, path+": value must be a [min, max] pair")
		}
	case models.OpMatches, models.OpNotMatches:
		if _, err := regexp.Compile(stringify(c.Value)); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid pattern: %s", path, err))
		}
	}

	return problems
}

func validateGroup(group *models.ConditionGroup, path string) []string {
	var problems []string

	if group.Operator != models.GroupAnd && group.Operator != models.GroupOr {
		problems = append(problems, fmt.Sprintf("%s: group operator must be 'and' or 'or', got '%s'", path, group.Operator))
	}

	for i, entry := range group.Conditions {
		childPath := fmt.Sprintf("%s[%d]", path, i)

		switch {
		case entry.Group != nil:
			problems = append(problems, validateGroup(entry.Group, childPath)...)
		case entry.Condition != nil:
			problems = append(problems, ValidateCondition(*entry.Condition, childPath)...)
		default:
			problems = append(problems, childPath+": empty entry")
		}
	}

	return problems
}

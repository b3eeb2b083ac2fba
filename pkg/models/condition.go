package models

import (
	"encoding/json"
	"errors"
)

// GroupOperator joins the children of a ConditionGroup.
type GroupOperator string

const (
	GroupAnd GroupOperator = "and"
	GroupOr  GroupOperator = "or"
)

// ConditionOperator is the comparison applied by a leaf condition.
type ConditionOperator string

const (
	OpEquals             ConditionOperator = "equals"
	OpNotEquals          ConditionOperator = "notEquals"
	OpGreaterThan        ConditionOperator = "greaterThan"
	OpGreaterThanOrEqual ConditionOperator = "greaterThanOrEqual"
	OpLessThan           ConditionOperator = "lessThan"
	OpLessThanOrEqual    ConditionOperator = "lessThanOrEqual"
	OpContains           ConditionOperator = "contains"
	OpNotContains        ConditionOperator = "notContains"
	OpStartsWith         ConditionOperator = "startsWith"
	OpEndsWith           ConditionOperator = "endsWith"
	OpIn                 ConditionOperator = "in"
	OpNotIn              ConditionOperator = "notIn"
	OpBetween            ConditionOperator = "between"
	OpNotBetween         ConditionOperator = "notBetween"
	OpIsNull             ConditionOperator = "isNull"
	OpIsNotNull          ConditionOperator = "isNotNull"
	OpIsEmpty            ConditionOperator = "isEmpty"
	OpIsNotEmpty         ConditionOperator = "isNotEmpty"
	OpMatches            ConditionOperator = "matches"
	OpNotMatches         ConditionOperator = "notMatches"
	OpBefore             ConditionOperator = "before"
	OpAfter              ConditionOperator = "after"
	OpHasProperty        ConditionOperator = "hasProperty"
	OpHasNotProperty     ConditionOperator = "hasNotProperty"
)

// ValueType tells how Condition.Value is turned into the comparison operand.
type ValueType string

const (
	ValueStatic     ValueType = "static"
	ValueField      ValueType = "field"
	ValueExpression ValueType = "expression"
)

// Condition is a leaf comparison of the value at Field against Value.
type Condition struct {
	ID            string            `json:"id,omitempty"`
	Field         string            `json:"field"`
	Operator      ConditionOperator `json:"operator"`
	Value         any               `json:"value,omitempty"`
	ValueType     ValueType         `json:"value_type,omitempty"`
	CaseSensitive bool              `json:"case_sensitive,omitempty"`
	Negate        bool              `json:"negate,omitempty"`
}

// ConditionGroup is a recursive AND/OR node of a condition tree.
type ConditionGroup struct {
	ID         string           `json:"id,omitempty"`
	Operator   GroupOperator    `json:"operator"`
	Conditions []ConditionEntry `json:"conditions"`
}

// ConditionEntry holds exactly one of a leaf or a nested group.
type ConditionEntry struct {
	Condition *Condition
	Group     *ConditionGroup
}

var ErrEmptyConditionEntry = errors.New("condition entry holds neither a condition nor a group")

func Leaf(c Condition) ConditionEntry {
	return ConditionEntry{Condition: &c}
}

func Nested(g ConditionGroup) ConditionEntry {
	return ConditionEntry{Group: &g}
}

// All builds an AND group of the given entries.
func All(entries ...ConditionEntry) ConditionGroup {
	return ConditionGroup{Operator: GroupAnd, Conditions: entries}
}

// Any builds an OR group of the given entries.
func Any(entries ...ConditionEntry) ConditionGroup {
	return ConditionGroup{Operator: GroupOr, Conditions: entries}
}

func (e ConditionEntry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Group != nil:
		return json.Marshal(e.Group)
	case e.Condition != nil:
		return json.Marshal(e.Condition)
	default:
		return nil, ErrEmptyConditionEntry
	}
}

func (e *ConditionEntry) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage

	err := json.Unmarshal(data, &probe)
	if err != nil {
		return err
	}

	if _, isGroup := probe["conditions"]; isGroup {
		var group ConditionGroup

		err = json.Unmarshal(data, &group)
		if err != nil {
			return err
		}

		*e = ConditionEntry{Group: &group}

		return nil
	}

	var condition Condition

	err = json.Unmarshal(data, &condition)
	if err != nil {
		return err
	}

	*e = ConditionEntry{Condition: &condition}

	return nil
}

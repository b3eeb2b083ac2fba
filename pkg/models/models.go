// Package models defines the tenant-scoped entities of the automation engine.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Id prefixes.
const (
	PrefixWorkflow          = "wf"
	PrefixNode              = "node"
	PrefixEdge              = "edge"
	PrefixWorkflowExecution = "wfx"
	PrefixRule              = "rule"
	PrefixRuleAction        = "ract"
	PrefixRuleSet           = "rset"
	PrefixRuleEvaluation    = "reval"
	PrefixTrigger           = "trg"
	PrefixTriggerExecution  = "trgx"
	PrefixTriggerTarget     = "tgt"
	PrefixActionInstance    = "inst"
	PrefixActionExecution   = "actx"
	PrefixRecord            = "rec"
)

// NewID returns a fresh identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs the struct tags of v and returns one message per failed field.
func ValidateStruct(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' failed on '%s'", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return messages
}

// Clone deep copies v through its JSON encoding.
func Clone[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal for clone: %w", err)
	}

	var out T

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal clone: %w", err)
	}

	return &out, nil
}

// RunningMean folds sample into the running mean of count samples (count includes sample).
func RunningMean(mean float64, count int64, sample float64) float64 {
	if count <= 0 {
		return sample
	}

	return mean + (sample-mean)/float64(count)
}

// Decode converts a JSON-like value (usually an action input map) into out.
func Decode(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to decode input: %w", err)
	}

	return nil
}

// ToMap converts a struct into its JSON object form.
func ToMap(in any) (map[string]any, error) {
	out := map[string]any{}

	err := Decode(in, &out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

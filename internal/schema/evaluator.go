// Package schema evaluates field and document visibility conditions over a
// submission's collected values.
package schema

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/model"
)

// Evaluator resolves visibility conditions against collected values. It is
// read-only and safe for concurrent use across submissions.
type Evaluator struct {
	logger            *zap.Logger
	integrityWarnings prometheus.Counter
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithIntegrityCounter wires the counter incremented when a condition
// references a field missing from the snapshot.
func WithIntegrityCounter(c prometheus.Counter) EvaluatorOption {
	return func(e *Evaluator) { e.integrityWarnings = c }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *zap.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Visible folds an item's conditions left to right and reports whether the
// item applies. Conditions owned by forSubmitterUUID cannot be evaluated
// server-side yet (the signer hasn't answered); they count as true and are
// returned as deferred conditions for client-side re-evaluation.
//
// The fold keeps a stack of booleans: an "or" condition replaces the top
// entry with (top OR result), anything else pushes a new entry, and the item
// is visible only if no entry is false.
func (e *Evaluator) Visible(
	conditions []model.Condition,
	values map[string]any,
	index map[string]model.FieldDefinition,
	forSubmitterUUID string,
) (bool, []model.Condition) {
	if len(conditions) == 0 {
		return true, nil
	}

	var deferred []model.Condition
	var acc []bool
	for _, cond := range conditions {
		var result bool
		ref, known := index[cond.FieldUUID]
		switch {
		case known && forSubmitterUUID != "" && ref.SubmitterUUID == forSubmitterUUID:
			// Same-signer dependency: assume visible, let the client
			// re-check once the value exists.
			deferred = append(deferred, cond)
			result = true
		case !known:
			// Fail closed: hide rather than error, but never silently.
			e.warnIntegrity(cond.FieldUUID)
			result = false
		default:
			result = checkCondition(cond, values)
		}

		if cond.Operation == model.ConditionOperationOr && len(acc) > 0 {
			acc[len(acc)-1] = acc[len(acc)-1] || result
		} else {
			acc = append(acc, result)
		}
	}

	for _, ok := range acc {
		if !ok {
			return false, deferred
		}
	}
	return true, deferred
}

// FilterSchema returns the document schema entries that apply to the
// submission given all values collected so far across every signer.
func (e *Evaluator) FilterSchema(sub *model.Submission) []model.DocumentSchemaEntry {
	var values map[string]any
	var index map[string]model.FieldDefinition

	entries := make([]model.DocumentSchemaEntry, 0, len(sub.TemplateSchema))
	for _, entry := range sub.TemplateSchema {
		if len(entry.Conditions) > 0 {
			if values == nil {
				values = sub.CollectedValues()
				index = sub.FieldIndex()
			}
			if ok, _ := e.Visible(entry.Conditions, values, index, ""); !ok {
				continue
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// FilterFields returns the snapshot fields visible to one submitter, with
// deferred same-signer conditions re-attached so downstream logic can
// re-evaluate them once the signer supplies the value.
func (e *Evaluator) FilterFields(sub *model.Submission, submitter *model.Submitter) []model.FieldDefinition {
	var values map[string]any
	var index map[string]model.FieldDefinition

	fields := make([]model.FieldDefinition, 0, len(sub.TemplateFields))
	for _, field := range sub.TemplateFields {
		if field.SubmitterUUID != submitter.UUID {
			continue
		}
		if len(field.Conditions) > 0 {
			if values == nil {
				values = sub.CollectedValues()
				index = sub.FieldIndex()
			}
			ok, deferred := e.Visible(field.Conditions, values, index, submitter.UUID)
			if !ok {
				continue
			}
			if len(deferred) != len(field.Conditions) {
				field.Conditions = deferred
			}
		}
		fields = append(fields, field)
	}
	return fields
}

func (e *Evaluator) warnIntegrity(fieldUUID string) {
	e.logger.Warn("condition references unknown field", zap.String("field_uuid", fieldUUID))
	if e.integrityWarnings != nil {
		e.integrityWarnings.Inc()
	}
}

// checkCondition evaluates a single condition against the referenced field's
// stored value. Unknown actions evaluate false.
func checkCondition(cond model.Condition, values map[string]any) bool {
	stored, present := values[cond.FieldUUID]
	storedStr := valueString(stored)
	wantStr := valueString(cond.Value)

	switch cond.Action {
	case model.ConditionActionEqual:
		return storedStr == wantStr
	case model.ConditionActionNotEqual:
		return storedStr != wantStr
	case model.ConditionActionContains:
		return storedStr != "" && strings.Contains(storedStr, wantStr)
	case model.ConditionActionDoesNotContain:
		return !strings.Contains(storedStr, wantStr)
	case model.ConditionActionNotEmpty, model.ConditionActionChecked:
		return present && !isEmptyValue(stored)
	case model.ConditionActionEmpty, model.ConditionActionUnchecked:
		return !present || isEmptyValue(stored)
	default:
		return false
	}
}

// valueString renders a stored value for comparison. Values arrive as JSON
// scalars, so string formatting gives stable equality semantics.
func valueString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case []any:
		return len(x) == 0
	default:
		return false
	}
}

// Package schemaval validates a step's materialized configuration against
// an action's declared JSON Schema input schema, using
// github.com/kaptinlin/jsonschema as the compiler/evaluator.
package schemaval

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// Validator compiles and caches JSON Schemas keyed by their qualified
// action name, so a hot action isn't recompiled on every invocation.
type Validator struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// New returns a ready-to-use Validator.
func New() *Validator {
	return &Validator{
		compiler: jsonschema.NewCompiler(),
		cache:    make(map[string]*jsonschema.Schema),
	}
}

// Error describes why an input failed schema validation. It implements
// error and carries the per-field messages the evaluator produced.
type Error struct {
	ActionName string
	Details    []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("schema validation failed for %s", e.ActionName)
	}
	return fmt.Sprintf("schema validation failed for %s: %v", e.ActionName, e.Details)
}

// Validate compiles schema (a JSON Schema document, draft 2020-12) for
// actionName if not already cached, then validates input against it. A nil
// or empty schema always validates successfully.
func (v *Validator) Validate(actionName string, schema map[string]any, input map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(actionName, schema)
	if err != nil {
		return fmt.Errorf("compiling schema for %s: %w", actionName, err)
	}

	result := compiled.Validate(input)
	if result.IsValid() {
		return nil
	}

	return &Error{ActionName: actionName, Details: flattenErrors(result)}
}

func (v *Validator) compile(actionName string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s, ok := v.cache[actionName]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	compiled, err := v.compiler.Compile(raw)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[actionName] = compiled
	v.mu.Unlock()

	return compiled, nil
}

func flattenErrors(result *jsonschema.EvaluationResult) []string {
	if result == nil {
		return nil
	}
	list := result.ToList()
	var out []string
	var walk func(l *jsonschema.List)
	walk = func(l *jsonschema.List) {
		if l == nil {
			return
		}
		for field, msg := range l.Errors {
			out = append(out, fmt.Sprintf("%s: %s", field, msg))
		}
		for _, child := range l.Details {
			walk(child)
		}
	}
	walk(list)
	return out
}

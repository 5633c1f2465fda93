package form

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks input maps against field lists. Compiled schemas and CEL
// programs are cached; it is safe for concurrent use.
type Validator struct {
	env *cel.Env

	mu       sync.RWMutex
	schemas  map[string]*jsonschema.Schema
	programs map[string]cel.Program
}

func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Validator{
		env:      env,
		schemas:  make(map[string]*jsonschema.Schema),
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate checks input for the form named formID and returns a normalized
// copy: JSON-decoded scalars, empty optional values removed. Failures are
// *ValidationError.
func (v *Validator) Validate(formID string, fields []Field, input map[string]any) (map[string]any, error) {
	normalized, err := normalize(fields, input)
	if err != nil {
		return nil, err
	}

	schema, err := v.schema(formID, fields)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(normalized); err != nil {
		return nil, schemaError(err)
	}

	for _, f := range fields {
		if f.Constraint == "" {
			continue
		}
		value, ok := normalized[f.ID]
		if !ok {
			continue
		}
		prg, err := v.program(f.Constraint)
		if err != nil {
			return nil, err
		}
		out, _, err := prg.Eval(map[string]any{"value": value, "input": normalized})
		if err != nil {
			return nil, &ValidationError{Field: f.ID, Reason: "constraint could not be evaluated", Err: err}
		}
		if pass, ok := out.Value().(bool); !ok || !pass {
			return nil, Invalid(f.ID, "does not satisfy %s", f.Constraint)
		}
	}
	return normalized, nil
}

func normalize(fields []Field, input map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, &ValidationError{Reason: "input is not JSON encodable", Err: err}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ValidationError{Reason: "input is not a JSON object", Err: err}
	}
	for _, f := range fields {
		if !f.Optional {
			continue
		}
		if s, ok := out[f.ID].(string); ok && strings.TrimSpace(s) == "" {
			delete(out, f.ID)
		}
		if out[f.ID] == nil {
			delete(out, f.ID)
		}
	}
	return out, nil
}

func (v *Validator) schema(formID string, fields []Field) (*jsonschema.Schema, error) {
	v.mu.RLock()
	s, hit := v.schemas[formID]
	v.mu.RUnlock()
	if hit {
		return s, nil
	}

	doc, err := json.Marshal(SchemaFor(fields))
	if err != nil {
		return nil, fmt.Errorf("form schema marshal failed: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://schemas.local/forms/%s.schema.json", formID)
	if err := c.AddResource(url, strings.NewReader(string(doc))); err != nil {
		return nil, fmt.Errorf("form schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("form schema compile failed: %w", err)
	}

	v.mu.Lock()
	v.schemas[formID] = compiled
	v.mu.Unlock()
	return compiled, nil
}

func (v *Validator) program(expr string) (cel.Program, error) {
	v.mu.RLock()
	prg, hit := v.programs[expr]
	v.mu.RUnlock()
	if hit {
		return prg, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prg, hit = v.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := v.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	p, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	v.programs[expr] = p
	return p, nil
}

// SchemaFor renders the JSON Schema document for fields.
func SchemaFor(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := []string{}
	for _, f := range fields {
		prop := map[string]any{}
		switch f.Type {
		case TypeNumber:
			prop["type"] = "number"
		case TypeInteger:
			prop["type"] = "integer"
		case TypeBoolean:
			prop["type"] = "boolean"
		case TypeDate:
			prop["type"] = "string"
			prop["pattern"] = `^\d{4}-\d{2}-\d{2}$`
		case TypeTime:
			prop["type"] = "string"
			prop["pattern"] = `^([01]\d|2[0-3]):[0-5]\d$`
		default:
			prop["type"] = "string"
			if !f.Optional {
				prop["minLength"] = 1
			}
		}
		if len(f.Choices) > 0 {
			prop["enum"] = f.Choices
		}
		props[f.ID] = prop
		if !f.Optional {
			required = append(required, f.ID)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func schemaError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Reason: err.Error(), Err: err}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &ValidationError{
		Field:  strings.TrimPrefix(leaf.InstanceLocation, "/"),
		Reason: leaf.Message,
		Err:    err,
	}
}

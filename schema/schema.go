// Package schema wraps JSON Schema compilation and validation for the
// reconciliation loop.
//
// A Schema keeps two representations: the raw map (rendered into prompts and
// flattened into Fields) and a compiled validator (used to check candidate
// JSON objects). Validation reports every field-level error, not just the
// first, so the loop can feed the full list back to the model as a corrective
// reminder.
//
//	sch := schema.MustCompile(map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	        "name": map[string]any{"type": "string"},
//	        "age":  map[string]any{"type": "number"},
//	    },
//	    "required": []string{"name", "age"},
//	})
//
// or derive it from a Go struct:
//
//	type Person struct {
//	    Name string `json:"name"`
//	    Age  int    `json:"age"`
//	}
//	sch, err := schema.FromStruct(Person{})
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Schema is a compiled JSON Schema plus its raw map representation.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// Raw returns the underlying map[string]any representation.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	// Path is the dotted path of the failing instance location,
	// or "(root)" for the document itself.
	Path string

	// Message describes the failure.
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// errPrinter localizes validation error kinds.
var errPrinter = message.NewPrinter(language.English)

// Validate checks data against the schema and returns all field-level
// errors, or nil when the data validates. A nil or uncompiled schema
// accepts everything.
func (s *Schema) Validate(data any) []FieldError {
	if s == nil || s.compiled == nil {
		return nil
	}
	err := s.compiled.Validate(data)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Path: "(root)", Message: err.Error()}}
	}

	var errs []FieldError
	collectLeaves(ve, &errs)
	if len(errs) == 0 {
		errs = append(errs, FieldError{Path: "(root)", Message: ve.Error()})
	}
	return errs
}

// collectLeaves walks the validation error tree and records leaf causes.
func collectLeaves(ve *jsonschema.ValidationError, out *[]FieldError) {
	if len(ve.Causes) == 0 {
		path := "(root)"
		if len(ve.InstanceLocation) > 0 {
			path = strings.Join(ve.InstanceLocation, ".")
		}
		*out = append(*out, FieldError{
			Path:    path,
			Message: ve.ErrorKind.LocalizedString(errPrinter),
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// Compile compiles a raw schema map into a Schema with a compiled validator.
// A nil map yields a nil Schema, which validates everything.
func Compile(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}

	schemaJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	schemaData, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{
		raw:      raw,
		compiled: compiled,
	}, nil
}

// MustCompile is like Compile but panics on error.
// Use this for schemas defined at init time.
func MustCompile(raw map[string]any) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// FromStruct derives a Schema from a Go struct value using its json tags.
// Definitions are inlined so the result renders cleanly into prompts.
func FromStruct(v any) (*Schema, error) {
	r := &invopop.Reflector{
		Anonymous:      true,
		ExpandedStruct: true,
		DoNotReference: true,
	}
	generated := r.Reflect(v)

	data, err := json.Marshal(generated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode reflected schema: %w", err)
	}
	return Compile(raw)
}

// Field is one leaf field of a schema, flattened for prompt rendering.
type Field struct {
	// Path is the dotted path from the root object, e.g. "address.city".
	Path string

	// Type is the declared primitive type, or "any" when the schema does
	// not declare a recognizable type.
	Type string

	// Required reports whether every object on the path lists the field
	// (or its container) as required.
	Required bool

	// Description is the field's description, if any.
	Description string

	// Enum lists every permitted literal for closed value sets.
	Enum []any
}

// Fields flattens the schema's object properties into leaf fields with
// dotted paths, in sorted order for deterministic rendering. Nested objects
// recurse; arrays and non-object leaves stop. Unknown types degrade to "any"
// rather than failing.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	var out []Field
	flattenObject(s.raw, "", true, &out)
	return out
}

func flattenObject(node map[string]any, prefix string, parentRequired bool, out *[]Field) {
	props, ok := node["properties"].(map[string]any)
	if !ok {
		return
	}
	required := requiredSet(node)

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		req := parentRequired && required[name]

		typ := typeLabel(prop)
		if typ == "object" {
			if _, hasProps := prop["properties"].(map[string]any); hasProps {
				flattenObject(prop, path, req, out)
				continue
			}
		}

		f := Field{
			Path:     path,
			Type:     typ,
			Required: req,
		}
		if d, ok := prop["description"].(string); ok {
			f.Description = d
		}
		if e, ok := prop["enum"].([]any); ok {
			f.Enum = e
		}
		*out = append(*out, f)
	}
}

// requiredSet reads the "required" list, tolerating both []string (hand-built
// maps) and []any (maps decoded from JSON).
func requiredSet(node map[string]any) map[string]bool {
	set := make(map[string]bool)
	switch req := node["required"].(type) {
	case []string:
		for _, name := range req {
			set[name] = true
		}
	case []any:
		for _, v := range req {
			if name, ok := v.(string); ok {
				set[name] = true
			}
		}
	}
	return set
}

// typeLabel extracts a primitive type name, degrading to "any" for missing
// or unrecognized declarations.
func typeLabel(prop map[string]any) string {
	switch t := prop["type"].(type) {
	case string:
		if known(t) {
			return t
		}
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && known(s) {
				return s
			}
		}
	}
	return "any"
}

func known(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean", "array", "object", "null":
		return true
	}
	return false
}

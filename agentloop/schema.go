package agentloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// ArgType is the primitive type of a tool argument.
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeArray   ArgType = "array"
	TypeObject  ArgType = "object"
)

// ArgumentSpec declares one tool argument.
type ArgumentSpec struct {
	Name        string  `json:"name"`
	Type        ArgType `json:"type"`
	Required    bool    `json:"required"`
	Description string  `json:"description"`
}

// ArgumentSchema is the ordered set of arguments a tool accepts.
type ArgumentSchema []ArgumentSpec

// Lookup returns the spec for an argument name.
func (s ArgumentSchema) Lookup(name string) (ArgumentSpec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return ArgumentSpec{}, false
}

// Validate parses raw model-produced argument text and checks it against the
// schema. Any failure, including unparseable JSON, is an
// *ArgumentValidationError.
func (s ArgumentSchema) Validate(raw string) (Arguments, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, &ArgumentValidationError{Reason: "arguments are not valid JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &ArgumentValidationError{Reason: "arguments contain trailing data after the JSON object"}
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, &ArgumentValidationError{Reason: "arguments must be a JSON object"}
	}

	// Undeclared names are reported in sorted order so errors are stable.
	var undeclared []string
	for name := range obj {
		if _, ok := s.Lookup(name); !ok {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, &ArgumentValidationError{Field: undeclared[0], Reason: "argument is not declared by this tool"}
	}

	args := make(Arguments, len(obj))
	for _, spec := range s {
		v, present := obj[spec.Name]
		if !present || v == nil {
			if spec.Required {
				return nil, &ArgumentValidationError{Field: spec.Name, Reason: "required argument is missing"}
			}
			continue
		}
		if !matchesType(v, spec.Type) {
			return nil, &ArgumentValidationError{
				Field:  spec.Name,
				Reason: fmt.Sprintf("expected %s, got %s", spec.Type, describeJSONType(v)),
			}
		}
		args[spec.Name] = v
	}
	return args, nil
}

func matchesType(v interface{}, t ArgType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		_, ok = integral(n)
		return ok
	case TypeNumber:
		_, ok := v.(json.Number)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// integral accepts whole numbers in any JSON spelling, so 20.0 reads as 20.
func integral(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func describeJSONType(v interface{}) string {
	switch n := v.(type) {
	case string:
		return "string"
	case json.Number:
		if _, ok := integral(n); ok {
			return "integer"
		}
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (s ArgumentSchema) build() *jsonschema.Schema {
	root := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, spec := range s {
		root.Properties.Set(spec.Name, &jsonschema.Schema{
			Type:        string(spec.Type),
			Description: spec.Description,
		})
		if spec.Required {
			root.Required = append(root.Required, spec.Name)
		}
	}
	return root
}

// JSONSchema renders the schema as a JSON Schema object for providers.
func (s ArgumentSchema) JSONSchema() map[string]interface{} {
	data, err := json.Marshal(s.build())
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out
}

// MarshalJSONSchema returns the indented schema with properties in
// declaration order, for display.
func (s ArgumentSchema) MarshalJSONSchema() ([]byte, error) {
	data, err := json.Marshal(s.build())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Arguments holds validated tool arguments.
type Arguments map[string]interface{}

// String returns a string argument, or "" when absent.
func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns an integer argument, or def when absent.
func (a Arguments) Int(key string, def int) int {
	switch n := a[key].(type) {
	case json.Number:
		if i, ok := integral(n); ok {
			return int(i)
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case int:
		return n
	}
	return def
}

// Bool returns a boolean argument, or def when absent.
func (a Arguments) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Has reports whether an argument was supplied.
func (a Arguments) Has(key string) bool {
	_, ok := a[key]
	return ok
}

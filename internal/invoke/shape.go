package invoke

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Kind is the JSON type a response field must have.
type Kind int

const (
	Any Kind = iota
	String
	Number
	Bool
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "any"
	}
}

// Field is a required response field. Path uses gjson syntax. For arrays,
// Each is checked against every element.
type Field struct {
	Path     string
	Kind     Kind
	Optional bool
	Each     []Field
}

// Check validates data is JSON and satisfies fields.
func Check(data []byte, fields ...Field) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("body is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if len(fields) > 0 && !root.IsObject() {
		return fmt.Errorf("body is not a JSON object")
	}
	return checkFields(root, "", fields)
}

func checkFields(node gjson.Result, prefix string, fields []Field) error {
	for _, f := range fields {
		name := prefix + f.Path
		r := node.Get(f.Path)
		if !r.Exists() || r.Type == gjson.Null {
			if f.Optional {
				continue
			}
			return fmt.Errorf("missing field %q", name)
		}
		if !hasKind(r, f.Kind) {
			return fmt.Errorf("field %q: expected %s", name, f.Kind)
		}
		if len(f.Each) == 0 || !r.IsArray() {
			continue
		}
		for i, elem := range r.Array() {
			if err := checkFields(elem, fmt.Sprintf("%s[%d].", name, i), f.Each); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasKind(r gjson.Result, k Kind) bool {
	switch k {
	case String:
		return r.Type == gjson.String
	case Number:
		return r.Type == gjson.Number
	case Bool:
		return r.Type == gjson.True || r.Type == gjson.False
	case Array:
		return r.IsArray()
	case Object:
		return r.IsObject()
	default:
		return true
	}
}

package validation

import (
	"encoding/json"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Schema checks a value and returns it in its parsed form.
type Schema interface {
	Parse(v *validator.Validate, data any) (any, error)
}

// SchemaFunc adapts a function to the Schema interface.
type SchemaFunc func(v *validator.Validate, data any) (any, error)

func (f SchemaFunc) Parse(v *validator.Validate, data any) (any, error) {
	return f(v, data)
}

type stringSchema struct {
	tag     string
	message string
}

// String accepts a string satisfying the validator tag. A non-empty message
// replaces the default failure message.
func String(tag, message string) Schema {
	return stringSchema{tag: tag, message: message}
}

func (s stringSchema) Parse(v *validator.Validate, data any) (any, error) {
	str, ok := data.(string)
	if !ok {
		return nil, invalidType("", "string")
	}

	if err := v.Var(str, s.tag); err != nil {
		return nil, fromValidator(err, nil, s.message)
	}

	return str, nil
}

type numberSchema struct {
	tag     string
	message string
}

// Number accepts any Go or JSON number satisfying the validator tag and
// parses it to float64.
func Number(tag, message string) Schema {
	return numberSchema{tag: tag, message: message}
}

func (s numberSchema) Parse(v *validator.Validate, data any) (any, error) {
	f, ok := toFloat(data)
	if !ok {
		return nil, invalidType("", "number")
	}

	if err := v.Var(f, s.tag); err != nil {
		return nil, fromValidator(err, nil, s.message)
	}

	return f, nil
}

func toFloat(data any) (float64, bool) {
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}

	if n, ok := data.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

type structSchema[T any] struct{}

// Struct accepts a T, *T, or any value whose JSON form decodes into T, then
// applies T's validate struct tags. A msg tag on a field sets its failure
// message.
func Struct[T any]() Schema {
	return structSchema[T]{}
}

func (structSchema[T]) Parse(v *validator.Validate, data any) (any, error) {
	var out T

	switch d := data.(type) {
	case T:
		out = d
	case *T:
		if d == nil {
			return nil, invalidType("", "object")
		}
		out = *d
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fromDecode(err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fromDecode(err)
		}
	}

	if err := v.Struct(out); err != nil {
		return nil, fromValidator(err, reflect.TypeOf(out), "")
	}

	return out, nil
}

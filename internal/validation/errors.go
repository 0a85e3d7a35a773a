package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrSchemaNotFound is returned when validating against an unregistered
// schema name.
var ErrSchemaNotFound = errors.New("schema not found")

// FieldError describes a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationError carries every rule that failed for a value.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidType(field, expected string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{
		Field:   field,
		Message: "Expected " + expected,
		Code:    "invalid_type",
	}}}
}

// fromDecode converts a JSON decoding failure into a validation error.
func fromDecode(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return invalidType(typeErr.Field, typeErr.Type.String())
	}
	return &ValidationError{Errors: []FieldError{{
		Message: err.Error(),
		Code:    "invalid_type",
	}}}
}

// fromValidator converts validator errors. message overrides every field
// message when set; otherwise a msg struct tag on rt, then a default, is used.
func fromValidator(err error, rt reflect.Type, message string) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("validation could not run: %w", err)
	}

	out := make([]FieldError, 0, len(ves))
	for _, fe := range ves {
		msg := message
		if msg == "" {
			msg = structMessage(rt, fe)
		}
		if msg == "" {
			msg = defaultMessage(fe)
		}

		out = append(out, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: msg,
			Code:    codeFor(fe.Tag()),
		})
	}

	return &ValidationError{Errors: out}
}

// fieldPath drops the leading type name from a validator namespace.
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return ""
	}
	return path
}

func structMessage(rt reflect.Type, fe validator.FieldError) string {
	if rt == nil || rt.Kind() != reflect.Struct {
		return ""
	}
	f, ok := rt.FieldByName(fe.StructField())
	if !ok {
		return ""
	}
	return f.Tag.Get("msg")
}

func codeFor(tag string) string {
	switch tag {
	case "required":
		return "invalid_type"
	case "min", "gte", "gt":
		return "too_small"
	case "max", "lte", "lt":
		return "too_big"
	case "email", "url", "uuid", "phone":
		return "invalid_string"
	default:
		return tag
	}
}

func defaultMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "min", "gte":
		return "Must be at least " + fe.Param()
	case "gt":
		return "Must be greater than " + fe.Param()
	case "max", "lte":
		return "Must be at most " + fe.Param()
	case "lt":
		return "Must be less than " + fe.Param()
	case "email", "url", "uuid", "phone":
		return "Invalid " + fe.Tag()
	default:
		return "Failed " + fe.Tag() + " rule"
	}
}

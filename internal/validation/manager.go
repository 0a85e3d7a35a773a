// Package validation keeps a registry of named schemas that request data is
// checked against before it is sent.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

// Pagination is the shape checked by the "pagination" schema.
type Pagination struct {
	Page  int `json:"page" validate:"gte=1" msg:"Página debe ser mayor a 0"`
	Limit int `json:"limit" validate:"gte=1,lte=100" msg:"Límite debe estar entre 1 y 100"`
}

// FileInfo is the shape checked by the "file" schema.
type FileInfo struct {
	Name string `json:"name" validate:"min=1" msg:"Nombre de archivo requerido"`
	Size int64  `json:"size" validate:"gt=0" msg:"Tamaño de archivo inválido"`
	Type string `json:"type" validate:"min=1" msg:"Tipo de archivo requerido"`
}

// Manager is a registry of named schemas.
type Manager struct {
	mu       sync.RWMutex
	schemas  map[string]Schema
	validate *validator.Validate
}

// NewManager creates a registry with the common schemas registered.
func NewManager() *Manager {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})

	m := &Manager{
		schemas:  map[string]Schema{},
		validate: v,
	}
	m.RegisterCommonSchemas()

	return m
}

// CommonSchemas returns the built-in schemas keyed by name.
func CommonSchemas() map[string]Schema {
	return map[string]Schema{
		"email":      String("email", "Email inválido"),
		"password":   String("min=8", "Password debe tener al menos 8 caracteres"),
		"id":         Number("gt=0", "ID debe ser positivo"),
		"uuid":       String("uuid", "UUID inválido"),
		"url":        String("url", "URL inválida"),
		"phone":      String("phone", "Teléfono inválido"),
		"pagination": Struct[Pagination](),
		"file":       Struct[FileInfo](),
	}
}

func (m *Manager) RegisterCommonSchemas() {
	for name, s := range CommonSchemas() {
		m.RegisterSchema(name, s)
	}
}

// RegisterSchema adds or replaces the schema called name.
func (m *Manager) RegisterSchema(name string, s Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schemas[name] = s
}

func (m *Manager) HasSchema(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.schemas[name]
	return ok
}

// Validate checks data against the named schema and returns the parsed
// value. Failures are ErrSchemaNotFound or a *ValidationError.
func (m *Manager) Validate(name string, data any) (any, error) {
	m.mu.RLock()
	s, ok := m.schemas[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, name)
	}

	return s.Parse(m.validate, data)
}

// ValidateData checks data against an unregistered schema.
func (m *Manager) ValidateData(s Schema, data any) (any, error) {
	return s.Parse(m.validate, data)
}

// ValidateAs checks data against the named schema and returns the parsed
// value as T.
func ValidateAs[T any](m *Manager, name string, data any) (T, error) {
	var zero T

	parsed, err := m.Validate(name, data)
	if err != nil {
		return zero, err
	}

	out, ok := parsed.(T)
	if !ok {
		return zero, fmt.Errorf("schema %q produced %T, not %T", name, parsed, zero)
	}
	return out, nil
}

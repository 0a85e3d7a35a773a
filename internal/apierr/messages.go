package apierr

import (
	"errors"
	"strings"

	"github.com/tillpoint/posadmin/internal/validation"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	msgNetworkError   = "Connection error. Check your internet connection."
	msgInvalidData    = "Invalid data"
	msgInvalidDataFmt = "Invalid data: %s"
	msgUnknownError   = "Unknown error"
	msgSessionExpired = "Your session has expired. Please log in again."
)

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	entries := []struct {
		key string
		es  string
	}{
		{msgNetworkError, "Error de conexión. Verifique su conexión a internet."},
		{msgInvalidData, "Datos inválidos"},
		{msgInvalidDataFmt, "Datos inválidos: %s"},
		{msgUnknownError, "Error desconocido"},
		{msgSessionExpired, "Su sesión ha expirado. Por favor, inicie sesión nuevamente."},
	}

	for _, e := range entries {
		// SetString only fails on malformed tags, and these are constants
		_ = b.SetString(language.English, e.key, e.key)
		_ = b.SetString(language.Spanish, e.key, e.es)
	}

	return b
}

func newPrinter(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}

// ValidationErrors extracts the field failures carried by a normalized
// validation error.
func ValidationErrors(err error) []validation.FieldError {
	e, ok := as(err)
	if !ok || e.Code != CodeValidation {
		return nil
	}

	fields, _ := e.Details["errors"].([]validation.FieldError)
	return fields
}

// UserMessage formats err for display in the given language ("en" or "es").
func UserMessage(lang string, err error) string {
	return formatForUser(newPrinter(lang), err)
}

func formatForUser(p *message.Printer, err error) string {
	if err == nil {
		return ""
	}

	if IsNetworkError(err) {
		return p.Sprintf(msgNetworkError)
	}

	if IsAuthError(err) {
		return p.Sprintf(msgSessionExpired)
	}

	if fields := ValidationErrors(err); len(fields) > 0 {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			msgs = append(msgs, f.Message)
		}
		return p.Sprintf(msgInvalidDataFmt, strings.Join(msgs, ", "))
	}

	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}

	if msg := err.Error(); msg != "" {
		return msg
	}

	return p.Sprintf(msgUnknownError)
}

package apierr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/validation"
)

func TestUserMessage(t *testing.T) {
	validationErr := &apierr.Error{
		Code:   apierr.CodeValidation,
		Status: http.StatusBadRequest,
		Details: map[string]any{
			"errors": []validation.FieldError{
				{Field: "email", Message: "Email inválido"},
				{Field: "password", Message: "Password debe tener al menos 8 caracteres"},
			},
		},
	}

	cases := []struct {
		name string
		lang string
		err  error
		want string
	}{
		{
			name: "network es",
			lang: "es",
			err:  &apierr.Error{Code: apierr.CodeNetwork},
			want: "Error de conexión. Verifique su conexión a internet.",
		},
		{
			name: "network en",
			lang: "en",
			err:  &apierr.RequestError{Err: errors.New("dial")},
			want: "Connection error. Check your internet connection.",
		},
		{
			name: "auth",
			lang: "es",
			err:  &apierr.Error{Code: "HTTP_403", Status: http.StatusForbidden},
			want: "Su sesión ha expirado. Por favor, inicie sesión nuevamente.",
		},
		{
			name: "validation",
			lang: "es",
			err:  validationErr,
			want: "Datos inválidos: Email inválido, Password debe tener al menos 8 caracteres",
		},
		{
			name: "server message",
			lang: "en",
			err:  &apierr.Error{Message: "Stock insuficiente", Code: "OUT_OF_STOCK", Status: 409},
			want: "Stock insuficiente",
		},
		{
			name: "unknown language falls back to english",
			lang: "??",
			err:  &apierr.Error{Code: apierr.CodeNetwork},
			want: "Connection error. Check your internet connection.",
		},
		{
			name: "nil",
			lang: "en",
			err:  nil,
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apierr.UserMessage(tc.lang, tc.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, apierr.IsAuthError(&apierr.Error{Status: 401}))
	assert.False(t, apierr.IsAuthError(&apierr.Error{Status: 404}))
	assert.False(t, apierr.IsValidationError(errors.New("plain")))
	assert.False(t, apierr.IsNetworkError(&apierr.Error{Code: "HTTP_500"}))
	assert.Nil(t, apierr.ValidationErrors(&apierr.Error{Code: "HTTP_500"}))
}

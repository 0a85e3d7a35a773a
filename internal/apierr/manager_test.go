package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/validation"
)

func TestNormalize_ServerResponse(t *testing.T) {
	m := apierr.NewManager()

	e := m.Normalize(&apierr.ResponseError{
		Method:     http.MethodGet,
		URL:        "/products/9",
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"message":"Not found","code":"NOT_FOUND"}`),
	}, "load product")

	assert.Equal(t, "Not found", e.Message)
	assert.Equal(t, "NOT_FOUND", e.Code)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Equal(t, "load product", e.Details["context"])
	assert.Equal(t, "/products/9", e.Details["url"])
	assert.Equal(t, http.MethodGet, e.Details["method"])
	assert.Equal(t, map[string]any{"message": "Not found", "code": "NOT_FOUND"}, e.Details["data"])
}

func TestNormalize_ServerResponseWithoutBody(t *testing.T) {
	m := apierr.NewManager()

	e := m.Normalize(&apierr.ResponseError{
		Method:     http.MethodPost,
		URL:        "/sales",
		StatusCode: http.StatusBadGateway,
		Body:       []byte("<html>bad gateway</html>"),
	}, "")

	assert.Equal(t, "HTTP_502", e.Code)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, "POST /sales: request failed with status code 502", e.Message)
	assert.Equal(t, "<html>bad gateway</html>", e.Details["data"])
}

func TestNormalize_Network(t *testing.T) {
	m := apierr.NewManager(apierr.WithLanguage("es"))
	cause := errors.New("connection refused")

	e := m.Normalize(&apierr.RequestError{Method: "GET", URL: "/users", Err: cause}, "list users")

	assert.Equal(t, apierr.CodeNetwork, e.Code)
	assert.Equal(t, 0, e.Status)
	assert.Equal(t, "Error de conexión. Verifique su conexión a internet.", e.Message)
	assert.ErrorIs(t, e, cause)
	assert.True(t, apierr.IsNetworkError(e))
}

func TestNormalize_Validation(t *testing.T) {
	m := apierr.NewManager()
	fields := []validation.FieldError{{Field: "email", Message: "Email inválido", Code: "invalid_string"}}

	e := m.Normalize(fmt.Errorf("checking body: %w", &validation.ValidationError{Errors: fields}), "create user")

	assert.Equal(t, apierr.CodeValidation, e.Code)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, "Invalid data", e.Message)
	assert.Equal(t, fields, apierr.ValidationErrors(e))
	assert.True(t, apierr.IsValidationError(e))
}

func TestNormalize_Unknown(t *testing.T) {
	m := apierr.NewManager()

	e := m.Normalize(errors.New("something odd"), "ctx")

	assert.Equal(t, apierr.CodeUnknown, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Equal(t, "something odd", e.Message)
	assert.Equal(t, "something odd", e.Details["originalError"])
}

func TestNormalize_AlreadyNormalizedPassesThrough(t *testing.T) {
	m := apierr.NewManager()
	original := &apierr.Error{Message: "kept", Code: "CUSTOM", Status: 418}

	assert.Same(t, original, m.Normalize(original, "other"))
	assert.Same(t, original, m.Normalize(fmt.Errorf("wrapped: %w", original), "other"))
}

func TestHandle_BoundedNewestFirst(t *testing.T) {
	m := apierr.NewManager()
	ctx := context.Background()

	for i := range 60 {
		m.Handle(ctx, fmt.Errorf("error %d", i), "")
	}

	errs := m.Errors()
	require.Len(t, errs, 50)
	assert.Equal(t, "error 59", errs[0].Error.Message)
	assert.Equal(t, "error 10", errs[49].Error.Message)
	assert.Equal(t, 50, m.Unread())
}

func TestHandle_HandlerOrder(t *testing.T) {
	m := apierr.NewManager()
	var calls []string

	m.RegisterHandler(apierr.StatusHandlerKey(http.StatusNotFound), func(ctx context.Context, e *apierr.Error) {
		calls = append(calls, "status")
	})
	m.RegisterHandler("NOT_FOUND", func(ctx context.Context, e *apierr.Error) {
		calls = append(calls, "code")
	})
	m.RegisterHandler(apierr.GlobalHandler, func(ctx context.Context, e *apierr.Error) {
		calls = append(calls, "global")
	})
	m.RegisterHandler("OTHER", func(ctx context.Context, e *apierr.Error) {
		calls = append(calls, "other")
	})

	e := m.Handle(context.Background(), &apierr.ResponseError{
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"message":"Not found","code":"NOT_FOUND"}`),
	}, "")

	assert.Equal(t, []string{"global", "code", "status"}, calls)
	assert.Equal(t, "NOT_FOUND", e.Code)

	m.UnregisterHandler(apierr.GlobalHandler)
	calls = nil
	m.Handle(context.Background(), errors.New("x"), "")
	assert.Empty(t, calls)
}

func TestSetupDefaultHandlers(t *testing.T) {
	m := apierr.NewManager()
	m.SetupDefaultHandlers()

	for _, status := range []int{401, 403, 404, 500} {
		e := m.Handle(context.Background(), &apierr.ResponseError{StatusCode: status}, "")
		assert.Equal(t, status, e.Status)
	}
	assert.Len(t, m.Errors(), 4)
}

func TestNotifications_MarkAndClear(t *testing.T) {
	m := apierr.NewManager()
	ctx := context.Background()

	m.Handle(ctx, errors.New("first"), "")
	m.Handle(ctx, errors.New("second"), "")

	errs := m.Errors()
	require.Len(t, errs, 2)
	assert.NotEqual(t, errs[0].ID, errs[1].ID)

	assert.True(t, m.MarkAsRead(errs[0].ID))
	assert.False(t, m.MarkAsRead("missing"))
	assert.Equal(t, 1, m.Unread())
	assert.True(t, m.Errors()[0].Read)

	assert.True(t, m.ClearError(errs[1].ID))
	assert.False(t, m.ClearError(errs[1].ID))
	require.Len(t, m.Errors(), 1)
	assert.Equal(t, "second", m.Errors()[0].Error.Message)

	m.ClearErrors()
	assert.Empty(t, m.Errors())
}

func TestErrors_ReturnsCopy(t *testing.T) {
	m := apierr.NewManager()
	m.Handle(context.Background(), errors.New("first"), "")

	errs := m.Errors()
	errs[0].Read = true

	assert.False(t, m.Errors()[0].Read)
}

func TestWithMaxRetained(t *testing.T) {
	m := apierr.NewManager(apierr.WithMaxRetained(3))

	for i := range 5 {
		m.Handle(context.Background(), fmt.Errorf("e%d", i), "")
	}

	assert.Len(t, m.Errors(), 3)
}

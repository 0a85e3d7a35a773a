package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/validation"
	"golang.org/x/text/message"
)

const (
	// DefaultMaxRetained is the default capacity of the notification log.
	DefaultMaxRetained = 50

	// GlobalHandler is the handler key invoked for every error.
	GlobalHandler = "global"
)

// StatusHandlerKey is the handler key invoked for errors with the given
// status.
func StatusHandlerKey(status int) string {
	return fmt.Sprintf("status_%d", status)
}

// Notification is a handled error retained for display.
type Notification struct {
	ID        string    `json:"id" yaml:"id"`
	Error     *Error    `json:"error" yaml:"error"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Read      bool      `json:"read" yaml:"read"`
}

// Handler reacts to a handled error.
type Handler func(ctx context.Context, e *Error)

// Manager normalizes errors, keeps the most recent ones newest first and
// dispatches them to registered handlers.
type Manager struct {
	mu            sync.Mutex
	notifications []Notification
	handlers      map[string]Handler

	maxRetained int
	printer     *message.Printer
	now         func() time.Time
}

type Option func(*Manager)

func WithMaxRetained(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetained = n
		}
	}
}

// WithLanguage selects the language of messages the manager generates.
func WithLanguage(lang string) Option {
	return func(m *Manager) {
		m.printer = newPrinter(lang)
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		handlers:    map[string]Handler{},
		maxRetained: DefaultMaxRetained,
		printer:     newPrinter("en"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle normalizes err, records it, runs the matching handlers and logs it.
// The normalized error is returned.
func (m *Manager) Handle(ctx context.Context, err error, errContext string) *Error {
	e := m.Normalize(err, errContext)

	n := Notification{
		ID:        ulid.Make().String(),
		Error:     e,
		Timestamp: m.now(),
	}

	m.mu.Lock()
	m.notifications = slices.Insert(m.notifications, 0, n)
	if len(m.notifications) > m.maxRetained {
		m.notifications = m.notifications[:m.maxRetained]
	}
	handlers := m.matchingHandlers(e)
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, e)
	}

	logError(ctx, e, errContext)

	return e
}

func (m *Manager) matchingHandlers(e *Error) []Handler {
	var out []Handler
	for _, key := range []string{GlobalHandler, e.Code, StatusHandlerKey(e.Status)} {
		if h, ok := m.handlers[key]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Normalize converts any error into an *Error. Errors that are already
// normalized are returned unchanged.
func (m *Manager) Normalize(err error, errContext string) *Error {
	if e, ok := as(err); ok {
		return e
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return m.fromResponse(respErr, errContext, err)
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Message: m.printer.Sprintf(msgNetworkError),
			Code:    CodeNetwork,
			Status:  0,
			Details: map[string]any{
				"context": errContext,
				"url":     reqErr.URL,
				"method":  reqErr.Method,
			},
			cause: err,
		}
	}

	var valErr *validation.ValidationError
	if errors.As(err, &valErr) {
		return &Error{
			Message: m.printer.Sprintf(msgInvalidData),
			Code:    CodeValidation,
			Status:  http.StatusBadRequest,
			Details: map[string]any{
				"context": errContext,
				"errors":  valErr.Errors,
			},
			cause: err,
		}
	}

	msg := m.printer.Sprintf(msgUnknownError)
	original := ""
	if err != nil {
		original = err.Error()
		if original != "" {
			msg = original
		}
	}

	return &Error{
		Message: msg,
		Code:    CodeUnknown,
		Status:  http.StatusInternalServerError,
		Details: map[string]any{
			"context":       errContext,
			"originalError": original,
		},
		cause: err,
	}
}

func (m *Manager) fromResponse(r *ResponseError, errContext string, cause error) *Error {
	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	var data any

	if len(r.Body) > 0 {
		if err := json.Unmarshal(r.Body, &data); err == nil {
			// a body that is not an object still decodes into data
			_ = json.Unmarshal(r.Body, &body)
		} else {
			data = string(r.Body)
		}
	}

	msg := body.Message
	if msg == "" {
		msg = r.Error()
	}

	code := body.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", r.StatusCode)
	}

	return &Error{
		Message: msg,
		Code:    code,
		Status:  r.StatusCode,
		Details: map[string]any{
			"context": errContext,
			"url":     r.URL,
			"method":  r.Method,
			"data":    data,
		},
		cause: cause,
	}
}

func logError(ctx context.Context, e *Error, errContext string) {
	logger := log.Ctx(ctx)

	var event *zerolog.Event
	var msg string
	switch {
	case e.Status >= 500:
		event, msg = logger.Error(), "server error"
	case e.Status >= 400:
		event, msg = logger.Warn(), "client error"
	default:
		event, msg = logger.Info(), "request error"
	}

	event.
		Str("code", e.Code).
		Int("status", e.Status).
		Str("context", errContext).
		Str("error_message", e.Message).
		Msg(msg)
}

// UserMessage formats err for display in the manager's language.
func (m *Manager) UserMessage(err error) string {
	return formatForUser(m.printer, err)
}

// RegisterHandler sets the handler for key, replacing any existing one. Keys
// are GlobalHandler, an error code, or StatusHandlerKey(status).
func (m *Manager) RegisterHandler(key string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[key] = h
}

func (m *Manager) UnregisterHandler(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.handlers, key)
}

// SetupDefaultHandlers registers logging handlers for common statuses.
func (m *Manager) SetupDefaultHandlers() {
	m.RegisterHandler(StatusHandlerKey(http.StatusUnauthorized), func(ctx context.Context, e *Error) {
		log.Ctx(ctx).Warn().Str("code", e.Code).Msg("token expired or invalid")
	})
	m.RegisterHandler(StatusHandlerKey(http.StatusForbidden), func(ctx context.Context, e *Error) {
		log.Ctx(ctx).Warn().Str("code", e.Code).Msg("access denied")
	})
	m.RegisterHandler(StatusHandlerKey(http.StatusNotFound), func(ctx context.Context, e *Error) {
		log.Ctx(ctx).Info().Str("code", e.Code).Msg("resource not found")
	})
	m.RegisterHandler(StatusHandlerKey(http.StatusInternalServerError), func(ctx context.Context, e *Error) {
		log.Ctx(ctx).Error().Str("code", e.Code).Msg("internal server error")
	})
}

// Errors returns the retained notifications, newest first.
func (m *Manager) Errors() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.notifications)
}

// Unread counts notifications not yet marked as read.
func (m *Manager) Unread() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.notifications {
		if !e.Read {
			n++
		}
	}
	return n
}

// MarkAsRead flags the notification with id, reporting whether it exists.
func (m *Manager) MarkAsRead(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Read = true
			return true
		}
	}
	return false
}

// ClearError removes the notification with id, reporting whether it existed.
func (m *Manager) ClearError(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.notifications, func(n Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	m.notifications = slices.Delete(m.notifications, i, i+1)
	return true
}

func (m *Manager) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = nil
}

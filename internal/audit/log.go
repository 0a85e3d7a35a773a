// Package audit records one structured log entry for every API request the
// client makes, whatever path the request took (cache, retry, refresh).
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

type contextKey struct{}

// Entry describes a single client request.
type Entry struct {
	RequestID string
	Method    string
	URL       string
	Status    int
	Attempts  int
	CacheHit  bool
	Refreshed bool
	Error     string
	ErrorCode string
	Files     []string
	Bytes     int64
	Duration  time.Duration

	start time.Time
}

// MarshalZerologObject writes the entry as log fields.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("url", e.URL).
		Int("status", e.Status).
		Dur("duration", e.Duration)

	outcome := &OptionalEvent{}
	outcome.Int("attempts", e.Attempts).
		True("cache_hit", e.CacheHit).
		True("token_refreshed", e.Refreshed).
		Str("error", e.Error).
		Str("error_code", e.ErrorCode)
	outcome.AttachTo(ev, "outcome")

	upload := &OptionalEvent{}
	upload.Strs("files", e.Files).
		Int64("bytes", e.Bytes)
	upload.AttachTo(ev, "upload")
}

// Context returns the entry carried by ctx, creating and attaching a new
// one when absent.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Log returns the entry carried by ctx. When there is none, a detached
// entry is returned so callers can write to it unconditionally.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Begin marks the start of the request.
func (e *Entry) Begin(method, url string) {
	e.RequestID = ulid.Make().String()
	e.Method = method
	e.URL = url
	e.start = time.Now()
}

// End returns a function to be deferred that finalizes and writes the entry.
// A panic in the request path is recorded and then re-raised.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
		}

		if !e.start.IsZero() {
			e.Duration = time.Since(e.start)
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

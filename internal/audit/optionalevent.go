package audit

import (
	"github.com/rs/zerolog"
)

// OptionalEvent builds a nested log dictionary that is only attached to its
// parent when at least one field was written. Zero values are skipped.
type OptionalEvent struct {
	dict    *zerolog.Event
	written bool
}

func (oe *OptionalEvent) target() *zerolog.Event {
	if oe.dict == nil {
		oe.dict = zerolog.Dict()
	}
	oe.written = true
	return oe.dict
}

// AttachTo adds the dictionary to parent under key if anything was written.
func (oe *OptionalEvent) AttachTo(parent *zerolog.Event, key string) bool {
	if !oe.written {
		return false
	}
	parent.Dict(key, oe.dict)
	return true
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val != "" {
		oe.target().Str(key, val)
	}
	return oe
}

func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	if len(vals) > 0 {
		oe.target().Strs(key, vals)
	}
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val != 0 {
		oe.target().Int(key, val)
	}
	return oe
}

func (oe *OptionalEvent) Int64(key string, val int64) *OptionalEvent {
	if val != 0 {
		oe.target().Int64(key, val)
	}
	return oe
}

// True records key only when val is set.
func (oe *OptionalEvent) True(key string, val bool) *OptionalEvent {
	if val {
		oe.target().Bool(key, true)
	}
	return oe
}

// Package loading tracks in-flight request state: a global flag, a flag per
// request key and upload progress percentages.
package loading

import (
	"slices"
	"sync"
)

// RequestKey identifies a request for loading state.
func RequestKey(method, url string) string {
	return method + ":" + url
}

// Snapshot is a point-in-time copy of the loading state.
type Snapshot struct {
	Global   bool           `json:"global" yaml:"global"`
	Requests []string       `json:"requests" yaml:"requests"`
	Uploads  map[string]int `json:"uploads" yaml:"uploads"`
}

// Store holds loading state. Flags are reference counted so that concurrent
// requests sharing a key, or the global flag, do not clear each other.
type Store struct {
	mu       sync.RWMutex
	global   int
	requests map[string]int
	uploads  map[string]int
}

func NewStore() *Store {
	return &Store{
		requests: map[string]int{},
		uploads:  map[string]int{},
	}
}

func (s *Store) RequestKey(method, url string) string {
	return RequestKey(method, url)
}

func (s *Store) SetGlobalLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loading {
		s.global++
	} else if s.global > 0 {
		s.global--
	}
}

func (s *Store) SetRequestLoading(key string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loading {
		s.requests[key]++
		return
	}

	if s.requests[key] <= 1 {
		delete(s.requests, key)
		return
	}
	s.requests[key]--
}

// SetUploadProgress records an upload percentage. Reaching 100 removes the
// entry.
func (s *Store) SetUploadProgress(key string, percentage int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if percentage >= 100 {
		delete(s.uploads, key)
		return
	}
	s.uploads[key] = percentage
}

// ClearAll resets every flag and upload entry.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = 0
	clear(s.requests)
	clear(s.uploads)
}

func (s *Store) IsGlobalLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.global > 0
}

func (s *Store) IsRequestLoading(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.requests[key] > 0
}

// HasAnyLoading reports whether the global flag or any request is active.
func (s *Store) HasAnyLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.global > 0 || len(s.requests) > 0
}

func (s *Store) UploadProgress(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.uploads[key]
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Global:   s.global > 0,
		Requests: make([]string, 0, len(s.requests)),
		Uploads:  make(map[string]int, len(s.uploads)),
	}
	for k := range s.requests {
		snap.Requests = append(snap.Requests, k)
	}
	slices.Sort(snap.Requests)
	for k, v := range s.uploads {
		snap.Uploads[k] = v
	}
	return snap
}

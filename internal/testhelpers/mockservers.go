package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockAPIServer is a configurable POS backend for testing. It serves the
// login and refresh endpoints and any routes registered with Handle, and
// counts requests per path.
type MockAPIServer struct {
	Server *httptest.Server

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	expiresIn      int64
	refreshStatus  int
	requestCounts  map[string]int
	lastAuthHeader string
	lastCSRFHeader string
	mux            *http.ServeMux
}

// SetupMockAPIServer starts a mock backend with its routes under /api.
// The server is closed when the test ends.
func SetupMockAPIServer(t *testing.T) *MockAPIServer {
	t.Helper()

	mock := &MockAPIServer{
		accessToken:   "access-1",
		refreshToken:  "refresh-1",
		expiresIn:     3600,
		refreshStatus: http.StatusOK,
		requestCounts: map[string]int{},
		mux:           http.NewServeMux(),
	}

	mock.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" {
			WriteJSONStatus(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials", "code": "INVALID_CREDENTIALS"})
			return
		}

		mock.mu.Lock()
		grant := mock.grant()
		mock.mu.Unlock()

		WriteJSON(w, grant)
	})

	mock.mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		status := mock.refreshStatus
		mock.accessToken = nextToken(mock.accessToken)
		grant := mock.grant()
		mock.mu.Unlock()

		if status != http.StatusOK {
			WriteJSONStatus(w, status, map[string]string{"message": "Refresh token expired", "code": "REFRESH_EXPIRED"})
			return
		}

		WriteJSON(w, grant)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCounts[r.Method+" "+r.URL.Path]++
		mock.lastAuthHeader = r.Header.Get("Authorization")
		mock.lastCSRFHeader = r.Header.Get("X-CSRFToken")
		mock.mu.Unlock()

		mock.mux.ServeHTTP(w, r)
	})

	mock.Server = httptest.NewServer(handler)
	t.Cleanup(mock.Server.Close)

	return mock
}

func (m *MockAPIServer) grant() map[string]any {
	return map[string]any{
		"accessToken":  m.accessToken,
		"refreshToken": m.refreshToken,
		"expiresIn":    m.expiresIn,
	}
}

// nextToken derives the token issued by the next refresh: access-1 becomes
// access-2.
func nextToken(current string) string {
	prefix, n, found := strings.Cut(current, "-")
	if !found {
		return current + "-2"
	}
	var i int
	_, _ = fmt.Sscanf(n, "%d", &i)
	return fmt.Sprintf("%s-%d", prefix, i+1)
}

// URL returns the API base URL of the mock.
func (m *MockAPIServer) URL() string {
	return m.Server.URL + "/api"
}

// Handle registers a handler for pattern, which is rooted at /api.
func (m *MockAPIServer) Handle(pattern string, h http.HandlerFunc) {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		m.mux.HandleFunc("/api"+pattern, h)
		return
	}
	m.mux.HandleFunc(method+" /api"+path, h)
}

// AccessToken returns the access token the server currently accepts.
func (m *MockAPIServer) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// SetRefreshStatus makes the refresh endpoint answer with status.
func (m *MockAPIServer) SetRefreshStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshStatus = status
}

// RequestCount returns the number of requests made for method and path,
// where path is rooted at /api.
func (m *MockAPIServer) RequestCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCounts[method+" /api"+path]
}

func (m *MockAPIServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuthHeader
}

func (m *MockAPIServer) LastCSRFHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCSRFHeader
}

// Authorized reports whether r carries the currently accepted access token.
func (m *MockAPIServer) Authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+m.AccessToken()
}

// WriteJSON writes v as a JSON response body.
func WriteJSON(w http.ResponseWriter, v any) {
	WriteJSONStatus(w, http.StatusOK, v)
}

// WriteJSONStatus writes v as a JSON response body with the given status.
func WriteJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

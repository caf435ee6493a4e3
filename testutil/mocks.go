package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockGoogleServer mocks the Google token endpoint and the YouTube Data API.
// Handlers are keyed by "METHOD /path" or just "/path".
type MockGoogleServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Requests []*http.Request
}

// NewMockGoogleServer creates a new mock Google API server.
func NewMockGoogleServer(t *testing.T) *MockGoogleServer {
	t.Helper()
	m := &MockGoogleServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.Requests = append(m.Requests, r.Clone(r.Context()))
		h, ok := m.Handlers[r.Method+" "+r.URL.Path]
		if !ok {
			h, ok = m.Handlers[r.URL.Path]
		}
		m.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler under key.
func (m *MockGoogleServer) Handle(key string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[key] = h
}

// Count returns how many requests hit path.
func (m *MockGoogleServer) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockTokenResponse serves the OAuth token endpoint at /token.
func (m *MockGoogleServer) MockTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handle("/token", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// MockTokenError makes the token endpoint fail with an OAuth error.
func (m *MockGoogleServer) MockTokenError(code string) {
	m.Handle("/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
	})
}

// MockMyChannel serves channels.list?mine=true with one channel, or none when id is empty.
func (m *MockGoogleServer) MockMyChannel(id, title, avatar string, subscribers int) {
	m.Handle("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if id != "" {
			items = append(items, map[string]any{
				"id": id,
				"snippet": map[string]any{
					"title": title,
					"thumbnails": map[string]any{
						"default": map[string]string{"url": avatar + "?s=default"},
						"high":    map[string]string{"url": avatar},
					},
				},
				"statistics": map[string]string{
					"subscriberCount": itoa(subscribers),
					"videoCount":      "12",
				},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

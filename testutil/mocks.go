// Package testutil provides a mock translation-provider HTTP server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/AliJawad91/falavox-server/providerapi"
)

// MockProviderServer mocks the provider's OAuth token and task endpoints.
// Failure behavior is scriptable per endpoint via the Fail* fields.
type MockProviderServer struct {
	*httptest.Server

	mu         sync.Mutex
	startCalls int
	stopCalls  []string
	nextTaskID int

	// FailStart / FailStop / FailToken, when non-zero, make the endpoint
	// respond with that HTTP status.
	FailStart int
	FailStop  int
	FailToken int
}

// NewMockProviderServer creates a provider mock for app id "app-1".
func NewMockProviderServer(t *testing.T) *MockProviderServer {
	t.Helper()
	m := &MockProviderServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		fail := m.FailToken
		m.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mock-app-token", "expires_in": 3600})
	})

	mux.HandleFunc("POST /v1/projects/app-1/rtsc/speech-to-text/tasks", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.startCalls++
		fail := m.FailStart
		var taskID string
		if fail == 0 {
			m.nextTaskID++
			taskID = fmt.Sprintf("task-%d", m.nextTaskID)
		}
		m.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "mock start failure"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"taskId": taskID, "status": "RUNNING"})
	})

	mux.HandleFunc("DELETE /v1/projects/app-1/rtsc/speech-to-text/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("id")
		m.mu.Lock()
		m.stopCalls = append(m.stopCalls, taskID)
		fail := m.FailStop
		m.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// TokenSource returns a token source pointed at the mock's token endpoint.
func (m *MockProviderServer) TokenSource() *providerapi.TokenSource {
	return &providerapi.TokenSource{
		TokenURL:     m.URL + "/oauth2/token",
		ClientID:     "mock-client",
		ClientSecret: "mock-secret",
	}
}

// Client returns a provider client pointed at the mock.
func (m *MockProviderServer) Client() *providerapi.Client {
	return &providerapi.Client{
		BaseURL:     m.URL,
		AppID:       "app-1",
		TokenSource: m.TokenSource(),
	}
}

// StartCalls returns the number of start-task requests received.
func (m *MockProviderServer) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

// StopCalls returns the task ids of stop-task requests received.
func (m *MockProviderServer) StopCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopCalls...)
}

// SetFailStart scripts the start endpoint's HTTP status (0 restores success).
func (m *MockProviderServer) SetFailStart(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailStart = status
}

// SetFailStop scripts the stop endpoint's HTTP status (0 restores success).
func (m *MockProviderServer) SetFailStop(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailStop = status
}

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// IngressEvent is one CloudEvent received by an IngressServer.
type IngressEvent struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// IngressServer is an in-process event ingress that records every
// structured-mode CloudEvent posted to it.
type IngressServer struct {
	*httptest.Server

	mu     sync.Mutex
	events []IngressEvent
	status int
}

// NewIngressServer starts an ingress closed when the test ends.
func NewIngressServer(t testing.TB) *IngressServer {
	t.Helper()
	s := &IngressServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every post answer status. Zero restores service.
func (s *IngressServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Events returns the accepted events in arrival order.
func (s *IngressServer) Events() []IngressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]IngressEvent(nil), s.events...)
}

func (s *IngressServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, "ingress unavailable")
		return
	}
	var ev IngressEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.events = append(s.events, ev)
	w.WriteHeader(http.StatusOK)
}

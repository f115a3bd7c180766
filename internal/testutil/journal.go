package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// JournalServer is an in-process event journal speaking the journal HTTP
// protocol: GET ?since=<position>&limit=<n> answers 200 with a page of
// events, 204 when nothing is newer than since, and 410 when since has
// fallen out of retention.
//
// Positions are "pos-1", "pos-2", ... in publish order.
type JournalServer struct {
	*httptest.Server

	mu        sync.Mutex
	pageSize  int
	events    []journalEntry
	retention int // index of the oldest retained event
	endless   bool
	failWith  int
	requests  []JournalRequest
}

// JournalRequest records one request the server received.
type JournalRequest struct {
	Since  string
	Limit  string
	APIKey string
	Auth   string
	OrgID  string
}

type journalEntry struct {
	Position string          `json:"position"`
	Event    json.RawMessage `json:"event"`
}

// NewJournalServer starts a journal serving pageSize events per page. The
// server is closed when the test ends.
func NewJournalServer(t testing.TB, pageSize int) *JournalServer {
	t.Helper()
	if pageSize <= 0 {
		pageSize = 2
	}
	s := &JournalServer{pageSize: pageSize}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Publish appends an event and returns its position.
func (s *JournalServer) Publish(event any) string {
	raw, err := json.Marshal(event)
	if err != nil {
		panic(fmt.Sprintf("JournalServer.Publish: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := fmt.Sprintf("pos-%d", len(s.events)+1)
	s.events = append(s.events, journalEntry{Position: pos, Event: raw})
	return pos
}

// PublishSubmission publishes a form.submitted style event carrying formId
// and data.
func (s *JournalServer) PublishSubmission(formID string, data map[string]any) string {
	return s.Publish(map[string]any{
		"type": "form.submitted",
		"data": map[string]any{"formId": formID, "data": data},
	})
}

// ExpireThrough drops events up to and including position n (1-based) from
// retention. Requests with a since older than the new retention start get
// 410, as do requests without since once anything has expired.
func (s *JournalServer) ExpireThrough(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = n
}

// SetEndless makes every request answer a fresh non-empty page, simulating
// a backlog that never drains.
func (s *JournalServer) SetEndless(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endless = on
}

// FailWith makes every request answer status. Zero restores normal service.
func (s *JournalServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// Requests returns the requests received so far.
func (s *JournalServer) Requests() []JournalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JournalRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *JournalServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	s.requests = append(s.requests, JournalRequest{
		Since:  q.Get("since"),
		Limit:  q.Get("limit"),
		APIKey: r.Header.Get("x-api-key"),
		Auth:   r.Header.Get("Authorization"),
		OrgID:  r.Header.Get("x-ims-org-id"),
	})

	if s.failWith != 0 {
		http.Error(w, "journal unavailable", s.failWith)
		return
	}

	if s.endless {
		n := len(s.requests)
		pos := fmt.Sprintf("endless-%d", n)
		s.writePage(w, r, []journalEntry{{Position: pos, Event: json.RawMessage(`{"data":{"formId":"endless","data":{}}}`)}})
		return
	}

	start := 0
	if since := q.Get("since"); since != "" {
		idx := s.indexOf(since)
		if idx < 0 {
			http.Error(w, "unknown position", http.StatusBadRequest)
			return
		}
		start = idx + 1
	}
	if s.retention > 0 && start < s.retention {
		w.WriteHeader(http.StatusGone)
		return
	}

	limit := s.pageSize
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}
	end := start + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	if start >= end {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writePage(w, r, s.events[start:end])
}

func (s *JournalServer) writePage(w http.ResponseWriter, r *http.Request, page []journalEntry) {
	last := page[len(page)-1].Position
	next := fmt.Sprintf("%s?since=%s", s.URL+r.URL.Path, last)
	w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s%s>; rel="self"`, next, s.URL, r.URL.RequestURI()))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"events": page,
		"_page":  map[string]any{"last": last, "count": len(page)},
	})
}

func (s *JournalServer) indexOf(pos string) int {
	for i, e := range s.events {
		if e.Position == pos {
			return i
		}
	}
	return -1
}

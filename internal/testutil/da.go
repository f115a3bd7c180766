package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
)

// DAServer is an in-process document store speaking the admin API:
// GET/PUT /source/<org>/<site>/<path> and GET /list/<org>/<site>/<folder>.
// PUT expects a multipart body with the document in the "data" part.
type DAServer struct {
	*httptest.Server

	org, site string

	mu        sync.Mutex
	files     map[string][]byte
	writes    []string
	failWrite int
	failRead  int
}

// NewDAServer starts a store for org/site, closed when the test ends.
func NewDAServer(t testing.TB, org, site string) *DAServer {
	t.Helper()
	s := &DAServer{org: org, site: site, files: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Put stores body at the site-relative path p.
func (s *DAServer) Put(p string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = append([]byte(nil), body...)
}

// Get returns the document at p.
func (s *DAServer) Get(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[p]
	return b, ok
}

// Writes returns the paths written through PUT, in order.
func (s *DAServer) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// FailWrites makes every PUT answer status. Zero restores service.
func (s *DAServer) FailWrites(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = status
}

// FailReads makes every GET answer status. Zero restores service.
func (s *DAServer) FailReads(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead = status
}

func (s *DAServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, rel, ok := s.split(r.URL.Path)
	if !ok {
		w.Header().Set("x-error", "unknown org or site")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case kind == "list" && r.Method == http.MethodGet:
		if s.failRead != 0 {
			w.Header().Set("x-error", "list unavailable")
			w.WriteHeader(s.failRead)
			return
		}
		s.list(w, rel)
	case kind == "source" && r.Method == http.MethodGet:
		if s.failRead != 0 {
			w.Header().Set("x-error", "read unavailable")
			w.WriteHeader(s.failRead)
			return
		}
		body, ok := s.files[rel]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	case kind == "source" && r.Method == http.MethodPut:
		if s.failWrite != 0 {
			w.Header().Set("x-error", "write refused")
			w.WriteHeader(s.failWrite)
			return
		}
		file, _, err := r.FormFile("data")
		if err != nil {
			w.Header().Set("x-error", "missing data part")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, err := io.ReadAll(file)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.files[rel] = body
		s.writes = append(s.writes, rel)
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *DAServer) split(p string) (kind, rel string, ok bool) {
	for _, k := range []string{"source", "list"} {
		prefix := "/" + k + "/" + s.org + "/" + s.site
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			rel = strings.TrimPrefix(p, prefix)
			if rel == "" {
				rel = "/"
			}
			return k, rel, true
		}
	}
	return "", "", false
}

func (s *DAServer) list(w http.ResponseWriter, folder string) {
	folder = strings.TrimSuffix(folder, "/")
	type entry struct {
		Path         string `json:"path"`
		Name         string `json:"name"`
		Ext          string `json:"ext"`
		LastModified int64  `json:"lastModified"`
	}
	entries := []entry{}
	for p := range s.files {
		if path.Dir(p) != folder {
			continue
		}
		name := path.Base(p)
		entries = append(entries, entry{
			Path: "/" + s.org + "/" + s.site + p,
			Name: name,
			Ext:  strings.TrimPrefix(path.Ext(name), "."),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

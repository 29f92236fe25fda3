// Package lyapitest provides a scripted stand-in for the open-data API, for
// tests of code built on [lyapi.Client].
//
// Routes are matched on the decoded request path, so tests register paths
// with their Chinese segments as written:
//
//	srv := lyapitest.NewServer(t)
//	srv.JSON("/legislators/11/韓國瑜", `{"data":{"委員姓名":"韓國瑜"}}`)
//	c := srv.Client()
//
// Unregistered paths answer 404. Every request is recorded.
package lyapitest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/MrWong99/lybot/internal/lyapi"
)

// HandlerFunc answers a request for a registered path with a status code and
// a JSON body.
type HandlerFunc func(q url.Values) (status int, body string)

// Request is one recorded upstream request.
type Request struct {
	Path  string
	Query url.Values
}

// Server is a scripted upstream. It is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]HandlerFunc
	requests []Request
}

// NewServer starts a server that is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{routes: make(map[string]HandlerFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Handle registers fn for path.
func (s *Server) Handle(path string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = fn
}

// JSON registers a fixed 200 response for path.
func (s *Server) JSON(path, body string) {
	s.Handle(path, func(url.Values) (int, string) { return http.StatusOK, body })
}

// Client returns a [lyapi.Client] pointed at the server.
func (s *Server) Client(opts ...lyapi.Option) *lyapi.Client {
	opts = append([]lyapi.Option{lyapi.WithHTTPClient(s.Server.Client())}, opts...)
	return lyapi.New(s.URL, opts...)
}

// Requests returns a copy of all recorded requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the recorded requests for path.
func (s *Server) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Path: r.URL.Path, Query: r.URL.Query()})
	fn, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
		return
	}
	status, body := fn(r.URL.Query())
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

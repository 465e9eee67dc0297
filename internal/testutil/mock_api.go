// Package testutil provides testing utilities for the ActiveCampaign client.
package testutil

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves collections under.
const APIPrefix = "/api/3"

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Collection is a paged resource served by the mock.
type Collection struct {
	// Key is the JSON field holding the page elements, e.g. "contacts".
	Key string

	// Items are served in order; page N holds Items[offset:offset+limit].
	Items []any

	// MaxLatency adds a random delay in [0, MaxLatency) to every page.
	MaxLatency time.Duration

	// TotalAsNumber renders meta.total as a JSON number instead of a string.
	TotalAsNumber bool
}

// PageCall records one page request served by the mock.
type PageCall struct {
	Path     string
	Offset   int
	Limit    int
	Query    string
	Returned int
}

type pageKey struct {
	path   string
	offset int
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	handlers    map[string]func(w http.ResponseWriter, r *http.Request)
	collections map[string]*Collection
	failures    map[string]int
	pageFails   map[pageKey]int
	failStatus  int

	// Tracking
	RequestCount    int
	FailedCount     int
	PageCalls       []PageCall
	LastRequest     *http.Request
	LastRequestBody []byte
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		collections: make(map[string]*Collection),
		failures:    make(map[string]int),
		pageFails:   make(map[pageKey]int),
		failStatus:  http.StatusInternalServerError,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	path := strings.TrimPrefix(r.URL.Path, APIPrefix)

	m.mu.Lock()
	m.RequestCount++
	m.LastRequest = r.Clone(r.Context())
	m.LastRequestBody = body
	injectFailure := m.failures[path] > 0
	if injectFailure {
		m.failures[path]--
		m.FailedCount++
	}
	failStatus := m.failStatus
	handler, hasHandler := m.handlers[path]
	coll, hasCollection := m.collections[path]
	m.mu.Unlock()

	if injectFailure {
		w.WriteHeader(failStatus)
		w.Write([]byte(`{"message":"injected failure"}`))
		return
	}

	if hasHandler {
		handler(w, r)
		return
	}

	if hasCollection && r.Method == http.MethodGet {
		m.servePage(w, r, path, coll)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"message":"No Result found"}`))
}

// servePage answers with Items[offset:offset+limit]. Offsets at or past
// the end yield an empty page, never an error.
func (m *MockAPI) servePage(w http.ResponseWriter, r *http.Request, path string, coll *Collection) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	if coll.MaxLatency > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(coll.MaxLatency))))
	}

	m.mu.Lock()
	key := pageKey{path: path, offset: offset}
	injectFailure := m.pageFails[key] > 0
	if injectFailure {
		m.pageFails[key]--
		m.FailedCount++
	}
	failStatus := m.failStatus
	m.mu.Unlock()

	if injectFailure {
		w.WriteHeader(failStatus)
		w.Write([]byte(`{"message":"injected page failure"}`))
		return
	}

	start := offset
	if start > len(coll.Items) {
		start = len(coll.Items)
	}
	end := start + limit
	if end > len(coll.Items) {
		end = len(coll.Items)
	}
	page := coll.Items[start:end]

	m.mu.Lock()
	m.PageCalls = append(m.PageCalls, PageCall{
		Path:     path,
		Offset:   offset,
		Limit:    limit,
		Query:    r.URL.RawQuery,
		Returned: len(page),
	})
	m.mu.Unlock()

	var total any = strconv.Itoa(len(coll.Items))
	if coll.TotalAsNumber {
		total = len(coll.Items)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		coll.Key: page,
		"meta":   map[string]any{"total": total},
	})
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.FailedCount = 0
	m.PageCalls = nil
	m.LastRequest = nil
	m.LastRequestBody = nil
}

// SetHandler sets a custom handler for a path below /api/3.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path below /api/3.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves coll as a paged collection under path.
func (m *MockAPI) SetCollection(path string, coll Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[path] = &coll
}

// FailNext makes the next n requests to path answer with the failure status.
func (m *MockAPI) FailNext(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
}

// FailPage makes the next n requests for the page of path starting at
// offset answer with the failure status.
func (m *MockAPI) FailPage(path string, offset, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageFails[pageKey{path: path, offset: offset}] = n
}

// GetFailedCount returns the number of injected failures served.
func (m *MockAPI) GetFailedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailedCount
}

// SetFailureStatus sets the status used by injected failures (default 500).
func (m *MockAPI) SetFailureStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageCalls returns a copy of the served page requests.
func (m *MockAPI) GetPageCalls() []PageCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PageCall, len(m.PageCalls))
	copy(out, m.PageCalls)
	return out
}

// GetLastRequest returns the last request and its body.
func (m *MockAPI) GetLastRequest() (*http.Request, []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequest, m.LastRequestBody
}

// NumberedItems builds n records {"id": "1".."n", "seq": 0..n-1}, with
// ids rendered as strings the way the API does.
func NumberedItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{
			"id":  strconv.Itoa(i + 1),
			"seq": i,
		}
	}
	return items
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Too many requests"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewJSONResponse creates a 200 OK response with the given JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

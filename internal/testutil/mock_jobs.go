// Package testutil provides testing utilities for the jobs exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobsPath is the collection path served by the mock.
const JobsPath = "/v2/jobs/"

// MockResponse defines a canned response for one page offset.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// PageRequest is one logged request.
type PageRequest struct {
	Limit     int
	Offset    int
	UserAgent string
	At        time.Time
}

// MockJobsAPI is a configurable mock of the paginated jobs API.
// By default it serves Total generated postings; responses for single offsets
// can be overridden to inject failures.
type MockJobsAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	total     int
	overrides map[int]MockResponse
	requests  []PageRequest
}

// NewMockJobsAPI creates a mock serving total postings.
func NewMockJobsAPI(total int) *MockJobsAPI {
	mock := &MockJobsAPI{
		total:     total,
		overrides: make(map[int]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the collection URL.
func (m *MockJobsAPI) URL() string {
	return m.server.URL + JobsPath
}

// Close shuts down the mock server.
func (m *MockJobsAPI) Close() {
	m.server.Close()
}

// SetOffsetResponse configures the response for one page offset.
func (m *MockJobsAPI) SetOffsetResponse(offset int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[offset] = resp
}

// Requests returns a copy of the request log.
func (m *MockJobsAPI) Requests() []PageRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PageRequest(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockJobsAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Offsets returns the requested offsets in request order.
func (m *MockJobsAPI) Offsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offsets := make([]int, len(m.requests))
	for i, r := range m.requests {
		offsets[i] = r.Offset
	}
	return offsets
}

func (m *MockJobsAPI) serve(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	m.mu.Lock()
	m.requests = append(m.requests, PageRequest{
		Limit:     limit,
		Offset:    offset,
		UserAgent: r.UserAgent(),
		At:        time.Now(),
	})
	override, hasOverride := m.overrides[offset]
	m.mu.Unlock()

	switch {
	case hasOverride:
		writeResponse(w, override)
	case r.URL.Path != JobsPath:
		http.NotFound(w, r)
	default:
		m.writePage(w, limit, offset)
	}
}

func (m *MockJobsAPI) writePage(w http.ResponseWriter, limit, offset int) {
	end := min(offset+limit, m.total)
	results := make([]map[string]any, 0, max(end-offset, 0))
	for i := offset; i < end; i++ {
		results = append(results, Job(i))
	}

	body, err := json.Marshal(map[string]any{
		"results": results,
		"total":   m.total,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
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
}

// JobUUID is the deterministic uuid of the i-th generated posting.
func JobUUID(i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("mcf-job-%d", i))).String()
}

// Job returns the i-th generated posting. json.Marshal sorts map keys, so the
// document key order is metadata, salary, title, uuid.
func Job(i int) map[string]any {
	return map[string]any{
		"uuid":  JobUUID(i),
		"title": fmt.Sprintf("Software Engineer %d", i),
		"salary": map[string]any{
			"minimum": 4000 + i,
			"maximum": 6000 + i,
		},
		"metadata": map[string]any{
			"jobPostId": fmt.Sprintf("MCF-2024-%07d", i),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Too many requests"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  strconv.Itoa(retryAfter),
		},
	}
}

// NewBadRequestResponse creates a 400 response, e.g. for an offset past the API maximum.
func NewBadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"message": "offset out of range"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

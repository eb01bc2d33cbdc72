// Package testutil provides testing utilities for the feed core.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockFeedResponse defines the behavior for a mock feed endpoint response.
type MockFeedResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFeed is a configurable mock feed server for testing.
type MockFeed struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastQuery         url.Values
}

// NewMockFeed creates a new mock feed server.
func NewMockFeed() *MockFeed {
	mock := &MockFeed{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFeed) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFeed) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFeed) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockFeed) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockFeed) SetResponse(path string, resp MockFeedResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		// Add delay if specified
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		// Set headers
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		// Write status and body
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPostsResponse configures the /posts endpoint response.
func (m *MockFeed) SetPostsResponse(resp MockFeedResponse) {
	m.SetResponse("/posts", resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFeed) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockFeed) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// defaultHandler serves an empty feed page.
func (m *MockFeed) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"posts": [], "has_more": false, "total": 0}`))
}

// mockPost mirrors the wire shape of a feed post.
type mockPost struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPostsPageResponse creates a 200 OK page with n generated posts.
func NewPostsPageResponse(prefix string, n int, hasMore bool) MockFeedResponse {
	posts := make([]mockPost, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		posts[i] = mockPost{
			ID:        fmt.Sprintf("%s-%d", prefix, i+1),
			AuthorID:  "mock-author",
			Type:      "text",
			Content:   fmt.Sprintf("mock post %s-%d", prefix, i+1),
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"posts":    posts,
		"has_more": hasMore,
		"total":    n,
	})

	return MockFeedResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

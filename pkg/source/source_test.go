package source

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lumina-social/feedcore/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultConfig("http://localhost:8080"),
			wantErr: false,
		},
		{
			name:    "missing base URL",
			config:  Config{UserAgent: "test/1.0"},
			wantErr: true,
		},
		{
			name:    "defaults applied",
			config:  Config{BaseURL: "http://localhost:8080"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("expected client, got nil")
			}
		})
	}
}

func TestFetchPage_Success(t *testing.T) {
	mock := testutil.NewMockFeed()
	defer mock.Close()

	mock.SetPostsResponse(testutil.NewPostsPageResponse("p", 15, true))

	client, err := New(DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.FetchPage(context.Background(), 2, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Posts) != 15 {
		t.Errorf("expected 15 posts, got %d", len(result.Posts))
	}
	if !result.HasMore {
		t.Error("expected has_more to be true")
	}

	query := mock.GetLastQuery()
	if got := query.Get("page"); got != "2" {
		t.Errorf("expected page=2, got %q", got)
	}
	if got := query.Get("limit"); got != "15" {
		t.Errorf("expected limit=15, got %q", got)
	}
}

func TestFetchPage_SetsHeaders(t *testing.T) {
	mock := testutil.NewMockFeed()
	defer mock.Close()

	cfg := DefaultConfig(mock.URL())
	cfg.UserAgent = "feedcore-test/1.0"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.FetchPage(context.Background(), 1, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mock.LastRequestHeader.Get("User-Agent"); got != "feedcore-test/1.0" {
		t.Errorf("expected custom user agent, got %q", got)
	}
	if got := mock.LastRequestHeader.Get("Accept"); got != "application/json" {
		t.Errorf("expected accept header, got %q", got)
	}
}

func TestFetchPage_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		response  testutil.MockFeedResponse
		wantClass ErrorClass
	}{
		{
			name:      "server error",
			response:  testutil.NewServerErrorResponse(),
			wantClass: ErrorClassServer,
		},
		{
			name:      "rate limit",
			response:  testutil.NewRateLimitResponse(),
			wantClass: ErrorClassRateLimit,
		},
		{
			name:      "client error",
			response:  testutil.NewNotFoundResponse(),
			wantClass: ErrorClassClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockFeed()
			defer mock.Close()
			mock.SetPostsResponse(tt.response)

			client, err := New(DefaultConfig(mock.URL()))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = client.FetchPage(context.Background(), 1, 15)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %T", err)
			}
			if reqErr.Class != tt.wantClass {
				t.Errorf("expected class %s, got %s", tt.wantClass, reqErr.Class)
			}
			if reqErr.StatusCode != tt.response.StatusCode {
				t.Errorf("expected status %d, got %d", tt.response.StatusCode, reqErr.StatusCode)
			}
		})
	}
}

func TestFetchPage_MalformedResponse(t *testing.T) {
	mock := testutil.NewMockFeed()
	defer mock.Close()

	mock.SetPostsResponse(testutil.MockFeedResponse{
		StatusCode: http.StatusOK,
		Body:       `{"posts": not-json`,
	})

	client, err := New(DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.FetchPage(context.Background(), 1, 15)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Class != ErrorClassServer {
		t.Errorf("expected server class, got %s", reqErr.Class)
	}
}

func TestFetchPage_NetworkError(t *testing.T) {
	client, err := New(DefaultConfig("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.SetHTTPClient(&http.Client{Timeout: 100 * time.Millisecond})

	_, err = client.FetchPage(context.Background(), 1, 15)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Class != ErrorClassNetwork {
		t.Errorf("expected network class, got %s", reqErr.Class)
	}
}

func TestFetchPage_ContextCancellation(t *testing.T) {
	mock := testutil.NewMockFeed()
	defer mock.Close()

	mock.SetPostsResponse(testutil.MockFeedResponse{
		StatusCode: http.StatusOK,
		Body:       `{"posts": [], "has_more": false}`,
		Delay:      time.Second,
	})

	client, err := New(DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.FetchPage(ctx, 1, 15); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

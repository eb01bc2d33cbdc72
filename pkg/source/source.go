// Package source provides the HTTP post source backing the feed:
// page-indexed fetches against the upstream content API with error
// classification and observability.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/cache"
	"github.com/lumina-social/feedcore/pkg/feed"
)

// Prometheus metrics for upstream feed requests.
var (
	feedSourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_requests_total",
		Help: "Total upstream feed requests by status",
	}, []string{"status"})

	feedSourceRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_source_request_duration_seconds",
		Help:    "Upstream feed request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	feedSourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_source_errors_total",
		Help: "Total upstream feed errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// RequestError represents an upstream feed error with classification.
type RequestError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Config holds the source configuration.
type Config struct {
	// BaseURL of the upstream content API. Required.
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration

	// Cache is the optional Redis page cache. When set, pages are served
	// from it before hitting the upstream API.
	Cache *cache.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "feedcore/1.0",
		RequestTimeout: 30 * time.Second,
	}
}

// Client fetches feed pages from the upstream content API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new feed source client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "feedcore/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		config: cfg,
		logger: log.With().Str("component", "feed-source").Logger(),
	}, nil
}

// pageResponse is the wire shape of one feed page.
type pageResponse struct {
	Posts   []feed.Post `json:"posts"`
	HasMore bool        `json:"has_more"`
	Total   int         `json:"total"`
}

// FetchPage loads one page of posts from the upstream API.
func (c *Client) FetchPage(ctx context.Context, page, limit int) (*feed.FetchResult, error) {
	startTime := time.Now()
	defer func() {
		feedSourceRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	cacheKey := cache.PageKey{Page: page, Limit: limit}
	if c.config.Cache != nil {
		entry, err := c.config.Cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().
				Int("page", page).
				Dur("age", entry.Age()).
				Msg("Feed page served from cache")
			result := entry.Result
			return &result, nil
		case err != cache.ErrCacheMiss:
			c.logger.Warn().Err(err).Int("page", page).Msg("Page cache get error")
		}
	}

	url := fmt.Sprintf("%s/posts?page=%d&limit=%d", c.config.BaseURL, page, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Int("page", page).
		Int("limit", limit).
		Msg("Fetching feed page")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		feedSourceErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		feedSourceRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Int("page", page).Msg("Feed request failed")
		return nil, &RequestError{
			Class:   ErrorClassNetwork,
			Message: "Server request failed: network error",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	feedSourceRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		feedSourceErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Int("page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Feed request error")
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    fmt.Sprintf("Server request failed: %s", resp.Status),
		}
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		feedSourceErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "Server request failed: malformed response",
			Err:        err,
		}
	}

	c.logger.Debug().
		Int("page", page).
		Int("posts", len(body.Posts)).
		Bool("has_more", body.HasMore).
		Msg("Feed page loaded")

	result := &feed.FetchResult{
		Posts:   body.Posts,
		HasMore: body.HasMore,
	}

	if c.config.Cache != nil {
		if err := c.config.Cache.Set(ctx, cacheKey, &cache.Entry{Result: *result}); err != nil {
			c.logger.Warn().Err(err).Int("page", page).Msg("Failed to cache feed page")
		}
	}

	return result, nil
}

// FetchFunc adapts the client to the orchestrator's fetch callback.
func (c *Client) FetchFunc() feed.FetchFunc {
	return c.FetchPage
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// classifyStatus categorizes an HTTP status for observability and handling.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

package autofetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Prometheus metrics for auto-fetch execution.
var (
	feedAutoFetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_autofetch_attempts_total",
		Help: "Total auto-fetch attempts by result status",
	}, []string{"status"})

	feedAutoFetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_autofetch_retries_total",
		Help: "Total auto-fetch retry attempts",
	})

	feedAutoFetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_autofetch_duration_seconds",
		Help:    "Auto-fetch attempt duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 8, 10},
	})

	feedAutoFetchPostsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_autofetch_posts_total",
		Help: "Total posts fetched by background expansion",
	})
)

// Errors returned by FetchAdditionalPosts.
var (
	// ErrFetchTimeout is returned when the hard fetch timeout fires.
	// Timeouts are never retried.
	ErrFetchTimeout = errors.New("autofetch: fetch timed out")

	// ErrFetchCancelled is returned when the caller's cancellation token
	// fires. Cancellations are never retried.
	ErrFetchCancelled = errors.New("autofetch: fetch cancelled")
)

// FetchOutcome is the successful result of FetchAdditionalPosts.
type FetchOutcome struct {
	Posts    []feed.Post   `json:"posts"`
	HasMore  bool          `json:"has_more"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// FetchAdditionalPosts executes fetchFn for one expansion batch, wrapping
// it with the hard per-attempt timeout and fixed-delay retry. Transport
// failures are retried up to the configured attempt count; timeout and
// cancellation errors are surfaced immediately. On success the session's
// cumulative auto-fetched counter grows by the number of posts returned.
func (e *Engine) FetchAdditionalPosts(ctx context.Context, targetCount int, state *feed.PaginationState, fetchFn feed.FetchFunc) (*FetchOutcome, error) {
	if fetchFn == nil {
		return nil, errors.New("autofetch: fetch callback is required")
	}
	if targetCount < 1 {
		targetCount = 1
	}

	e.mu.Lock()
	timeout := e.config.FetchTimeout
	retries := e.config.RetryAttempts
	delay := e.config.RetryDelay
	e.mu.Unlock()

	// Next upstream page after the batches already loaded.
	page := state.Metadata.CurrentBatch + 1

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= retries+1; attempt++ {
		result, err := e.attemptFetch(ctx, timeout, page, targetCount, fetchFn)
		if err == nil {
			e.mu.Lock()
			e.sessionFetched += len(result.Posts)
			e.mu.Unlock()

			feedAutoFetchPostsTotal.Add(float64(len(result.Posts)))

			if attempt > 1 {
				e.logger.Info().
					Int("attempt", attempt).
					Int("posts", len(result.Posts)).
					Msg("Auto-fetch succeeded after retry")
			}

			return &FetchOutcome{
				Posts:    result.Posts,
				HasMore:  result.HasMore,
				Attempts: attempt,
				Duration: time.Since(start),
			}, nil
		}

		lastErr = err

		// Timeouts and cancellations are terminal: retrying a cancelled
		// operation would outlive its owner.
		if errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrFetchCancelled) {
			e.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Auto-fetch aborted without retry")
			return nil, err
		}

		if attempt > retries {
			break
		}

		feedAutoFetchRetriesTotal.Inc()
		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Auto-fetch failed, retrying after delay")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrFetchCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("autofetch: all %d attempts failed: %w", retries+1, lastErr)
}

// attemptFetch runs one instrumented fetch attempt under the hard timeout.
func (e *Engine) attemptFetch(ctx context.Context, timeout time.Duration, page, limit int, fetchFn feed.FetchFunc) (*feed.FetchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := fetchFn(attemptCtx, page, limit)
	duration := time.Since(start)

	feedAutoFetchDurationSeconds.Observe(duration.Seconds())

	record := operationRecord{
		StartedAt: start,
		Duration:  duration,
		Success:   err == nil,
	}
	if result != nil {
		record.Posts = len(result.Posts)
	}
	e.recordOperation(record)

	if err != nil {
		feedAutoFetchAttemptsTotal.WithLabelValues("error").Inc()
		return nil, e.classifyFetchError(ctx, attemptCtx, err)
	}

	feedAutoFetchAttemptsTotal.WithLabelValues("success").Inc()
	return result, nil
}

// classifyFetchError maps context-flavored failures onto the package's
// timeout/cancellation sentinels so retry logic can exclude them.
func (e *Engine) classifyFetchError(parent, attempt context.Context, err error) error {
	switch {
	case parent.Err() != nil || errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrFetchCancelled, err)
	case attempt.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	default:
		return err
	}
}

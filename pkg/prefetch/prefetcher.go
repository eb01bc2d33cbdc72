package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Config holds prefetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int
	// Timeout per page fetch.
	Timeout time.Duration
	// PostsPerPage is the page size requested from the source.
	PostsPerPage int
}

// DefaultConfig returns safe defaults for warming a feed source.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        10 * time.Second,
		PostsPerPage:   feed.DefaultPostsPerPage,
	}
}

// PageResult represents the outcome of fetching a single page.
type PageResult struct {
	Page   int
	Result *feed.FetchResult
	Err    error
}

// Prefetcher warms the feed page cache by fetching pages in parallel.
// The fetch function carries the caching side effect: when it is the
// source client's FetchPage, every successful fetch lands in the cache.
type Prefetcher struct {
	fetch  feed.FetchFunc
	config Config
	logger zerolog.Logger
}

// New creates a prefetcher around the given fetch function.
func New(fetch feed.FetchFunc, config Config) *Prefetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.PostsPerPage <= 0 {
		config.PostsPerPage = feed.DefaultPostsPerPage
	}

	return &Prefetcher{
		fetch:  fetch,
		config: config,
		logger: log.With().Str("component", "prefetch").Logger(),
	}
}

// WarmPages fetches pages 1..pages in parallel using a worker pool.
// Returns a map of page number -> result for successful pages. A worker
// error aborts remaining work but already-fetched pages are still
// returned alongside the error.
func (p *Prefetcher) WarmPages(ctx context.Context, pages int) (map[int]*feed.FetchResult, error) {
	start := time.Now()

	if pages < 1 {
		pages = 1
	}

	// Fetch the first page up front: a short feed may not have the
	// requested number of pages at all.
	firstCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	first, err := p.fetch(firstCtx, 1, p.config.PostsPerPage)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int]*feed.FetchResult{1: first}

	if pages == 1 || !first.HasMore {
		p.logger.Info().
			Int("pages", 1).
			Int("posts", len(first.Posts)).
			Dur("duration", time.Since(start)).
			Msg("Warm-up complete (single page)")
		return results, nil
	}

	p.logger.Info().
		Int("pages", pages).
		Int("workers", p.config.MaxConcurrency).
		Msg("Starting parallel page warm-up")

	pageQueue := make(chan int, pages)
	pageResults := make(chan PageResult, pages)
	workerErrs := make(chan error, p.config.MaxConcurrency)

	// Page 1 is already fetched.
	go func() {
		for page := 2; page <= pages; page++ {
			pageQueue <- page
		}
		close(pageQueue)
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go p.worker(ctx, pageQueue, pageResults, workerErrs, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
		close(workerErrs)
	}()

	fetched := 1
	for result := range pageResults {
		if result.Err != nil {
			p.logger.Warn().
				Err(result.Err).
				Int("page", result.Page).
				Msg("Page warm-up failed")
			continue
		}

		results[result.Page] = result.Result
		fetched++
	}

	select {
	case err := <-workerErrs:
		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("fetched_pages", fetched).
				Int("requested_pages", pages).
				Msg("Worker error - returning partial results")
			return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetched, pages, err)
		}
	default:
	}

	p.logger.Info().
		Int("pages", fetched).
		Int("requested", pages).
		Dur("duration", time.Since(start)).
		Msg("Warm-up complete")

	return results, nil
}

// worker processes pages from the queue.
func (p *Prefetcher) worker(ctx context.Context, pageQueue <-chan int, results chan<- PageResult, errs chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for page := range pageQueue {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		result, err := p.fetch(pageCtx, page, p.config.PostsPerPage)
		cancel()

		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", page).
				Msg("Page fetch failed")

			// Non-blocking error send.
			select {
			case errs <- err:
			default:
			}
			return
		}

		select {
		case results <- PageResult{Page: page, Result: result}:
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

// Package prefetch provides parallel page warming for the feed source.
//
// On cold start the page cache is empty and every load-more request pays
// the upstream round trip. The prefetcher fetches the first N pages of the
// feed through a worker pool so the cache is populated before users start
// scrolling.
//
// Example usage:
//
//	pf := prefetch.New(sourceClient.FetchPage, prefetch.DefaultConfig())
//	results, err := pf.WarmPages(ctx, 10)
//
// The prefetcher:
//   - Fetches page 1 first to detect short feeds
//   - Spawns a worker pool (default 4 workers)
//   - Distributes remaining pages across workers
//   - Collects results with progress logging
//   - Handles errors gracefully (returns partial data)
package prefetch

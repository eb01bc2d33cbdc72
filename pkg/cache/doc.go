// Package cache provides Redis-backed caching of upstream feed pages.
//
// Feed pages are keyed by page number and page size and stored with a
// short TTL: the feed is append-mostly, so a brief staleness window is
// acceptable in exchange for sparing the upstream source repeated
// identical fetches during auto-fetch bursts and session restarts.
//
// Example usage:
//
//	pageCache := cache.NewManager(redisClient, 30*time.Second)
//	entry, err := pageCache.Get(ctx, cache.PageKey{Page: 2, Limit: 15})
//	if err == cache.ErrCacheMiss {
//		// fetch from the upstream source, then:
//		pageCache.Set(ctx, key, &cache.Entry{Result: *fetched})
//	}
package cache

package cache

import (
	"time"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Entry is one cached feed page.
type Entry struct {
	Result   feed.FetchResult `json:"result"`
	CachedAt time.Time        `json:"cached_at"`
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

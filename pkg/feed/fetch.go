package feed

import (
	"context"
)

// FetchResult is one batch returned by the upstream content source.
type FetchResult struct {
	Posts   []Post `json:"posts"`
	HasMore bool   `json:"has_more"`
}

// FetchFunc is the page-indexed fetch boundary to the upstream content
// source. Implementations must honor ctx cancellation and return a
// context-flavored error when cancelled, so callers can distinguish
// cancellation from transport failure.
type FetchFunc func(ctx context.Context, page, limit int) (*FetchResult, error)

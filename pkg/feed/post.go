// Package feed defines the shared domain types for the pagination core:
// posts, the mutable pagination state aggregate, filter inputs, and the
// deep-copy support used by diagnostic snapshots.
package feed

import (
	"time"
)

// PostType classifies a feed item.
type PostType string

const (
	// PostTypeText is a plain text post.
	PostTypeText PostType = "text"

	// PostTypeImage is an image post.
	PostTypeImage PostType = "image"

	// PostTypeAudio is an audio post.
	PostTypeAudio PostType = "audio"

	// PostTypeAll is the sentinel "no type filter" marker.
	PostTypeAll PostType = "all"

	// PostTypeCreators restricts to followed creators; it does not narrow
	// by content type and is treated as a no-op by the type filter.
	PostTypeCreators PostType = "creators"
)

// Post is a single feed item as delivered by the upstream content source.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Type      PostType  `json:"type"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// SortOrder selects the stable sort applied by the filter pipeline.
type SortOrder string

const (
	SortNewest    SortOrder = "newest"
	SortOldest    SortOrder = "oldest"
	SortMostLiked SortOrder = "most-liked"
)

// TimeRange restricts posts to a recency window.
type TimeRange string

const (
	TimeRangeAll   TimeRange = "all"
	TimeRangeToday TimeRange = "today"
	TimeRangeWeek  TimeRange = "week"
	TimeRangeMonth TimeRange = "month"
)

// Filters are the generic feed filters.
type Filters struct {
	PostType  PostType  `json:"post_type"`
	TimeRange TimeRange `json:"time_range"`
	SortBy    SortOrder `json:"sort_by"`
}

// DefaultFilters returns the neutral filter set that matches every post.
func DefaultFilters() Filters {
	return Filters{
		PostType:  PostTypeAll,
		TimeRange: TimeRangeAll,
		SortBy:    SortNewest,
	}
}

// IsDefault reports whether every field carries its neutral value.
func (f Filters) IsDefault() bool {
	return (f.PostType == PostTypeAll || f.PostType == "") &&
		(f.TimeRange == TimeRangeAll || f.TimeRange == "") &&
		(f.SortBy == SortNewest || f.SortBy == "")
}

// SearchResults carries the posts matched by an active search.
type SearchResults struct {
	Query string `json:"query"`
	Posts []Post `json:"posts"`
}

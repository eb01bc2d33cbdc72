package filter

import (
	"sort"
	"time"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// applyPipeline runs the deterministic filter/sort pipeline: search
// intersection, effective filter resolution, type filter, time-range
// cutoff, stable sort. It never mutates its input slice.
func applyPipeline(posts []feed.Post, filters, searchFilters feed.Filters, searchResults *feed.SearchResults, isSearchActive bool, now time.Time) []feed.Post {
	working := posts

	if isSearchActive && searchResults != nil {
		working = intersectByID(working, searchResults.Posts)
	}

	effective := effectiveFilters(filters, searchFilters)

	working = filterByType(working, effective.PostType)
	working = filterByTimeRange(working, effective.TimeRange, now)

	return sortPosts(working, effective.SortBy)
}

// effectiveFilters resolves which filter set applies: explicit search
// filters win whenever any non-default value is present.
func effectiveFilters(filters, searchFilters feed.Filters) feed.Filters {
	if !searchFilters.IsDefault() {
		return searchFilters
	}
	return filters
}

// intersectByID keeps the posts of base that also appear in allowed,
// preserving base order.
func intersectByID(base, allowed []feed.Post) []feed.Post {
	allowedIDs := make(map[string]struct{}, len(allowed))
	for _, post := range allowed {
		allowedIDs[post.ID] = struct{}{}
	}

	out := make([]feed.Post, 0, len(base))
	for _, post := range base {
		if _, ok := allowedIDs[post.ID]; ok {
			out = append(out, post)
		}
	}
	return out
}

// filterByType narrows to one post type. The "all" and "creators"
// sentinels pass everything through.
func filterByType(posts []feed.Post, postType feed.PostType) []feed.Post {
	if postType == "" || postType == feed.PostTypeAll || postType == feed.PostTypeCreators {
		return posts
	}

	out := make([]feed.Post, 0, len(posts))
	for _, post := range posts {
		if post.Type == postType {
			out = append(out, post)
		}
	}
	return out
}

// filterByTimeRange applies the recency cutoff. Unknown ranges are a
// no-op.
func filterByTimeRange(posts []feed.Post, timeRange feed.TimeRange, now time.Time) []feed.Post {
	var cutoff time.Time
	switch timeRange {
	case feed.TimeRangeToday:
		cutoff = now.AddDate(0, 0, -1)
	case feed.TimeRangeWeek:
		cutoff = now.AddDate(0, 0, -7)
	case feed.TimeRangeMonth:
		cutoff = now.AddDate(0, -1, 0)
	default:
		return posts
	}

	out := make([]feed.Post, 0, len(posts))
	for _, post := range posts {
		if !post.CreatedAt.Before(cutoff) {
			out = append(out, post)
		}
	}
	return out
}

// sortPosts returns a stably sorted copy. Most-liked falls back to
// newest on like-count ties.
func sortPosts(posts []feed.Post, order feed.SortOrder) []feed.Post {
	out := make([]feed.Post, len(posts))
	copy(out, posts)

	switch order {
	case feed.SortOldest:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	case feed.SortMostLiked:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Likes != out[j].Likes {
				return out[i].Likes > out[j].Likes
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	default: // newest
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}

	return out
}

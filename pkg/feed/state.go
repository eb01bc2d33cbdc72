package feed

import (
	"time"
)

// PaginationMode distinguishes server-driven from client-side pagination.
type PaginationMode string

const (
	// ModeServer pages by fetching from the upstream source.
	ModeServer PaginationMode = "server"

	// ModeClient pages by revealing already-filtered posts held in memory.
	// Only valid while a search or filter is active.
	ModeClient PaginationMode = "client"
)

// Metadata tracks bookkeeping counters for the current feed session.
type Metadata struct {
	// TotalServerPosts is the upstream total, when known (0 if unknown).
	TotalServerPosts int `json:"total_server_posts"`

	// LoadedServerPosts counts posts fetched from upstream so far.
	// Must never exceed len(AllPosts).
	LoadedServerPosts int `json:"loaded_server_posts"`

	// CurrentBatch counts completed upstream fetch batches.
	CurrentBatch int `json:"current_batch"`

	// LastFetchTimestamp is when the most recent upstream fetch finished.
	LastFetchTimestamp time.Time `json:"last_fetch_timestamp"`

	// TotalFilteredPosts is the size of DisplayPosts after the last
	// filter pass.
	TotalFilteredPosts int `json:"total_filtered_posts"`

	// VisibleFilteredPosts is the size of PaginatedPosts after the last
	// filter pass.
	VisibleFilteredPosts int `json:"visible_filtered_posts"`

	// FilterAppliedAt is when the last filter pass ran.
	FilterAppliedAt time.Time `json:"filter_applied_at"`
}

// PaginationState is the single mutable aggregate describing the current
// feed snapshot. It is owned by the orchestrator and referenced (not
// copied) by collaborators during an operation; collaborators read it and
// only the orchestrator mutates it.
//
// Ownership invariants, checked continuously by the validator:
//
//	len(DisplayPosts)   <= len(AllPosts)
//	len(PaginatedPosts) <= len(DisplayPosts)
//	!(IsLoadingMore && FetchInProgress)
//	IsLoadingMore => HasMorePosts
//	Metadata.LoadedServerPosts <= len(AllPosts)
type PaginationState struct {
	// AllPosts is every item fetched so far, in fetch order.
	AllPosts []Post `json:"all_posts"`

	// DisplayPosts is the subset of AllPosts surviving filter/search.
	DisplayPosts []Post `json:"display_posts"`

	// PaginatedPosts is the subset of DisplayPosts revealed to the consumer.
	PaginatedPosts []Post `json:"paginated_posts"`

	CurrentPage  int `json:"current_page"`
	PostsPerPage int `json:"posts_per_page"`

	// HasMorePosts reports whether the upstream source may still have
	// unseen items.
	HasMorePosts bool `json:"has_more_posts"`

	IsLoadingMore   bool `json:"is_loading_more"`
	FetchInProgress bool `json:"fetch_in_progress"`

	IsSearchActive    bool `json:"is_search_active"`
	HasFiltersApplied bool `json:"has_filters_applied"`

	PaginationMode PaginationMode `json:"pagination_mode"`

	Filters              Filters        `json:"filters"`
	SearchResults        *SearchResults `json:"search_results,omitempty"`
	CurrentSearchFilters Filters        `json:"current_search_filters"`

	Metadata Metadata `json:"metadata"`

	LastFetchTime time.Time `json:"last_fetch_time"`
}

// DefaultPostsPerPage is the page size used when none is configured.
const DefaultPostsPerPage = 15

// NewPaginationState creates the clean baseline state for a feed session.
func NewPaginationState() *PaginationState {
	return &PaginationState{
		AllPosts:             []Post{},
		DisplayPosts:         []Post{},
		PaginatedPosts:       []Post{},
		CurrentPage:          1,
		PostsPerPage:         DefaultPostsPerPage,
		HasMorePosts:         true,
		PaginationMode:       ModeServer,
		Filters:              DefaultFilters(),
		CurrentSearchFilters: DefaultFilters(),
		LastFetchTime:        time.Now(),
	}
}

// FiltersActive reports whether any filtering input currently narrows the
// feed: an active search, generic filters, or non-default search filters.
func (s *PaginationState) FiltersActive() bool {
	return s.IsSearchActive || s.HasFiltersApplied || !s.CurrentSearchFilters.IsDefault()
}

// Clone returns a full deep copy sharing no slices or pointers with the
// receiver. Snapshots and recovery rely on this to keep diagnostic copies
// isolated from the live state.
func (s *PaginationState) Clone() *PaginationState {
	if s == nil {
		return nil
	}

	clone := *s
	clone.AllPosts = clonePosts(s.AllPosts)
	clone.DisplayPosts = clonePosts(s.DisplayPosts)
	clone.PaginatedPosts = clonePosts(s.PaginatedPosts)

	if s.SearchResults != nil {
		sr := *s.SearchResults
		sr.Posts = clonePosts(s.SearchResults.Posts)
		clone.SearchResults = &sr
	}

	return &clone
}

func clonePosts(posts []Post) []Post {
	if posts == nil {
		return nil
	}
	out := make([]Post, len(posts))
	copy(out, posts)
	return out
}

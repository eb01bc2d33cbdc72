package orchestrator

import (
	"time"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// StateUpdate expresses an external mutation intent against the live
// pagination state. Zero-valued fields are ignored; every applied update
// refreshes LastFetchTime.
type StateUpdate struct {
	// AppendPosts appends to the loaded set without revealing them.
	AppendPosts []feed.Post

	// ResetPagination rewinds to page one with an empty visible prefix,
	// keeping loaded posts.
	ResetPagination bool

	// Metadata merges non-zero counter fields into the session metadata.
	Metadata *feed.Metadata

	// ForceMode overrides the pagination mode.
	ForceMode *feed.PaginationMode

	// SetHasMore overrides the upstream has-more flag.
	SetHasMore *bool
}

// UpdatePaginationState applies an update intent. Mutations are rejected
// while a load-more operation is in flight to keep the state single-writer.
func (o *Orchestrator) UpdatePaginationState(update StateUpdate) error {
	o.mu.Lock()
	busy := o.busy
	o.mu.Unlock()
	if busy {
		return ErrRequestInProgress
	}

	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	s := o.state

	if len(update.AppendPosts) > 0 {
		s.AllPosts = append(s.AllPosts, update.AppendPosts...)
		if !s.FiltersActive() {
			s.DisplayPosts = append([]feed.Post(nil), s.AllPosts...)
			s.Metadata.TotalFilteredPosts = len(s.DisplayPosts)
		}
	}

	if update.ResetPagination {
		s.CurrentPage = 1
		s.PaginatedPosts = []feed.Post{}
		s.Metadata.VisibleFilteredPosts = 0
	}

	if update.Metadata != nil {
		mergeMetadata(&s.Metadata, update.Metadata)
	}

	if update.ForceMode != nil {
		s.PaginationMode = *update.ForceMode
	}

	if update.SetHasMore != nil {
		s.HasMorePosts = *update.SetHasMore
	}

	s.LastFetchTime = time.Now()
	return nil
}

// mergeMetadata copies non-zero counters and timestamps from src into dst.
func mergeMetadata(dst, src *feed.Metadata) {
	if src.TotalServerPosts != 0 {
		dst.TotalServerPosts = src.TotalServerPosts
	}
	if src.LoadedServerPosts != 0 {
		dst.LoadedServerPosts = src.LoadedServerPosts
	}
	if src.CurrentBatch != 0 {
		dst.CurrentBatch = src.CurrentBatch
	}
	if !src.LastFetchTimestamp.IsZero() {
		dst.LastFetchTimestamp = src.LastFetchTimestamp
	}
	if src.TotalFilteredPosts != 0 {
		dst.TotalFilteredPosts = src.TotalFilteredPosts
	}
	if src.VisibleFilteredPosts != 0 {
		dst.VisibleFilteredPosts = src.VisibleFilteredPosts
	}
	if !src.FilterAppliedAt.IsZero() {
		dst.FilterAppliedAt = src.FilterAppliedAt
	}
}

package orchestrator

import (
	"context"
	"time"

	"github.com/lumina-social/feedcore/pkg/autofetch"
	"github.com/lumina-social/feedcore/pkg/feed"
)

// executeServerFetch loads the next page from the upstream source and
// appends it to the loaded set. Without active filters the full loaded
// set stays visible.
func (o *Orchestrator) executeServerFetch(ctx context.Context, requestID string) *Result {
	s := o.state

	o.stateMu.Lock()
	// An exhausted upstream can slip past strategy selection through an
	// external SetHasMore update; fetching would both waste the round trip
	// and raise the loading flag with nothing more to load.
	if !s.HasMorePosts {
		o.stateMu.Unlock()
		return &Result{
			Success:   true,
			NewPosts:  []feed.Post{},
			HasMore:   false,
			Strategy:  StrategyServerFetch,
			RequestID: requestID,
		}
	}
	s.IsLoadingMore = true
	page := s.CurrentPage + 1
	limit := s.PostsPerPage
	o.stateMu.Unlock()

	fetched, err := o.fetchFn(ctx, page, limit)

	o.stateMu.Lock()
	s.IsLoadingMore = false
	if err != nil {
		o.stateMu.Unlock()
		return failedResult(StrategyServerFetch, requestID, classifyCancellation(err))
	}

	now := time.Now()
	s.AllPosts = append(s.AllPosts, fetched.Posts...)
	s.CurrentPage = page
	s.HasMorePosts = fetched.HasMore
	s.PaginationMode = feed.ModeServer
	s.LastFetchTime = now
	s.Metadata.LoadedServerPosts += len(fetched.Posts)
	s.Metadata.CurrentBatch++
	s.Metadata.LastFetchTimestamp = now

	if !s.FiltersActive() {
		s.DisplayPosts = append([]feed.Post(nil), s.AllPosts...)
		s.PaginatedPosts = append([]feed.Post(nil), s.DisplayPosts...)
	}
	s.Metadata.TotalFilteredPosts = len(s.DisplayPosts)
	s.Metadata.VisibleFilteredPosts = len(s.PaginatedPosts)
	o.stateMu.Unlock()

	return &Result{
		Success:   true,
		NewPosts:  fetched.Posts,
		HasMore:   fetched.HasMore,
		Strategy:  StrategyServerFetch,
		RequestID: requestID,
	}
}

// executeClientPaginate reveals the next page slice of the already
// filtered display set. The micro-delay keeps the strategy's timing
// profile consistent with the fetching paths and yields to cancellation.
func (o *Orchestrator) executeClientPaginate(ctx context.Context, requestID string) *Result {
	s := o.state

	select {
	case <-ctx.Done():
		return failedResult(StrategyClientPaginate, requestID, classifyCancellation(ctx.Err()))
	case <-time.After(o.config.ClientPageDelay):
	}

	o.stateMu.Lock()
	newPosts, hasMore := o.revealNextPage()
	s.CurrentPage++
	s.PaginationMode = feed.ModeClient
	s.LastFetchTime = time.Now()
	o.stateMu.Unlock()

	return &Result{
		Success:   true,
		NewPosts:  newPosts,
		HasMore:   hasMore,
		Strategy:  StrategyClientPaginate,
		RequestID: requestID,
	}
}

// executeAutoFetch expands the loaded set until the active filters can
// fill the next pages, re-filters, and reveals the next page. The
// decision engine may veto the fetch, in which case only the reveal
// happens.
func (o *Orchestrator) executeAutoFetch(ctx context.Context, requestID string) *Result {
	s := o.state

	target := len(s.PaginatedPosts) + 2*s.PostsPerPage
	decision := o.autoFetch.ShouldAutoFetch(s, autofetch.DecisionContext{TargetResultsCount: target})

	o.logger.Debug().
		Str("request_id", requestID).
		Bool("should_fetch", decision.ShouldFetch).
		Str("reason", decision.Reason).
		Int("target_fetch_count", decision.TargetFetchCount).
		Msg("Auto-fetch decision")

	if decision.ShouldFetch {
		o.stateMu.Lock()
		s.FetchInProgress = true
		o.stateMu.Unlock()

		outcome, err := o.autoFetch.FetchAdditionalPosts(ctx, decision.TargetFetchCount, s, o.fetchFn)

		o.stateMu.Lock()
		s.FetchInProgress = false
		if err != nil {
			o.stateMu.Unlock()
			return failedResult(StrategyAutoFetch, requestID, classifyCancellation(err))
		}

		now := time.Now()
		s.AllPosts = append(s.AllPosts, outcome.Posts...)
		s.HasMorePosts = outcome.HasMore
		s.LastFetchTime = now
		s.Metadata.LoadedServerPosts += len(outcome.Posts)
		s.Metadata.CurrentBatch++
		s.Metadata.LastFetchTimestamp = now
		o.stateMu.Unlock()
	}

	filtered := o.filter.ApplyFiltersAndSearch(
		ctx,
		s.AllPosts,
		s.Filters,
		s.CurrentSearchFilters,
		s.SearchResults,
		s.IsSearchActive,
		s,
		nil,
	)
	o.stateMu.Lock()
	s.DisplayPosts = filtered.Posts
	s.Metadata.TotalFilteredPosts = len(s.DisplayPosts)

	// The visible prefix may have shifted after re-filtering; clamp it
	// before revealing the next page.
	if len(s.PaginatedPosts) > len(s.DisplayPosts) {
		s.PaginatedPosts = append([]feed.Post(nil), s.DisplayPosts...)
	}

	newPosts, hasMore := o.revealNextPage()
	s.CurrentPage++
	s.PaginationMode = feed.ModeClient
	s.LastFetchTime = time.Now()
	o.stateMu.Unlock()

	return &Result{
		Success:   true,
		NewPosts:  newPosts,
		HasMore:   hasMore,
		Strategy:  StrategyAutoFetch,
		RequestID: requestID,
	}
}

// revealNextPage advances the paginated prefix by one page within the
// display set and reports whether more content remains beyond it.
// Caller holds stateMu.
func (o *Orchestrator) revealNextPage() (newPosts []feed.Post, hasMore bool) {
	s := o.state

	already := len(s.PaginatedPosts)
	end := already + s.PostsPerPage
	if end > len(s.DisplayPosts) {
		end = len(s.DisplayPosts)
	}

	newPosts = append([]feed.Post(nil), s.DisplayPosts[already:end]...)
	s.PaginatedPosts = append([]feed.Post(nil), s.DisplayPosts[:end]...)
	s.Metadata.VisibleFilteredPosts = len(s.PaginatedPosts)

	hasMore = end < len(s.DisplayPosts) || s.HasMorePosts
	return newPosts, hasMore
}

package validator

import (
	"fmt"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Severity ranks a rule finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rule is one consistency check over a PaginationState. Check returns
// false plus a human-readable detail when the rule is violated.
type Rule struct {
	Name     string
	Severity Severity
	Check    func(state *feed.PaginationState) (ok bool, detail string)
}

// defaultRules is the rule set evaluated by ValidateStateConsistency.
func defaultRules() []Rule {
	return []Rule{
		{
			Name:     "arrays-initialized",
			Severity: SeverityWarning,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.AllPosts == nil || s.DisplayPosts == nil || s.PaginatedPosts == nil {
					return false, "one or more post arrays are uninitialized"
				}
				return true, ""
			},
		},
		{
			Name:     "page-positive",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.CurrentPage < 1 {
					return false, fmt.Sprintf("current page is %d, must be >= 1", s.CurrentPage)
				}
				return true, ""
			},
		},
		{
			Name:     "page-size-positive",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.PostsPerPage < 1 {
					return false, fmt.Sprintf("posts per page is %d, must be >= 1", s.PostsPerPage)
				}
				return true, ""
			},
		},
		{
			Name:     "display-subset-of-all",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if len(s.DisplayPosts) > len(s.AllPosts) {
					return false, fmt.Sprintf("display posts (%d) exceed all posts (%d)",
						len(s.DisplayPosts), len(s.AllPosts))
				}
				return true, ""
			},
		},
		{
			Name:     "paginated-subset-of-display",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if len(s.PaginatedPosts) > len(s.DisplayPosts) {
					return false, fmt.Sprintf("paginated posts (%d) exceed display posts (%d)",
						len(s.PaginatedPosts), len(s.DisplayPosts))
				}
				return true, ""
			},
		},
		{
			Name:     "filter-flag-coherence",
			Severity: SeverityWarning,
			Check: func(s *feed.PaginationState) (bool, string) {
				if !s.FiltersActive() && len(s.DisplayPosts) < len(s.AllPosts) {
					return false, fmt.Sprintf(
						"no filters active but only %d of %d posts are displayed",
						len(s.DisplayPosts), len(s.AllPosts))
				}
				return true, ""
			},
		},
		{
			Name:     "mode-filter-coherence",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.PaginationMode == feed.ModeClient && !s.FiltersActive() {
					return false, "client pagination mode requires an active search or filter"
				}
				return true, ""
			},
		},
		{
			Name:     "known-pagination-mode",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.PaginationMode != feed.ModeServer && s.PaginationMode != feed.ModeClient {
					return false, fmt.Sprintf("unknown pagination mode %q", s.PaginationMode)
				}
				return true, ""
			},
		},
		{
			Name:     "exclusive-loading-flags",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.IsLoadingMore && s.FetchInProgress {
					return false, "isLoadingMore and fetchInProgress are both set"
				}
				return true, ""
			},
		},
		{
			Name:     "loading-implies-more",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.IsLoadingMore && !s.HasMorePosts {
					return false, "loading more while upstream is exhausted"
				}
				return true, ""
			},
		},
		{
			Name:     "metadata-loaded-bound",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.Metadata.LoadedServerPosts > len(s.AllPosts) {
					return false, fmt.Sprintf("metadata claims %d loaded posts but only %d exist",
						s.Metadata.LoadedServerPosts, len(s.AllPosts))
				}
				return true, ""
			},
		},
		{
			Name:     "metadata-filtered-coherence",
			Severity: SeverityInfo,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.Metadata.TotalFilteredPosts != len(s.DisplayPosts) {
					return false, fmt.Sprintf("metadata filtered count %d differs from display posts %d",
						s.Metadata.TotalFilteredPosts, len(s.DisplayPosts))
				}
				return true, ""
			},
		},
		{
			Name:     "metadata-visible-bound",
			Severity: SeverityWarning,
			Check: func(s *feed.PaginationState) (bool, string) {
				if s.Metadata.VisibleFilteredPosts > s.Metadata.TotalFilteredPosts {
					return false, fmt.Sprintf("metadata visible count %d exceeds filtered count %d",
						s.Metadata.VisibleFilteredPosts, s.Metadata.TotalFilteredPosts)
				}
				return true, ""
			},
		},
	}
}

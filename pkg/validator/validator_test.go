package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-social/feedcore/pkg/feed"
)

func validState() *feed.PaginationState {
	state := feed.NewPaginationState()
	state.AllPosts = []feed.Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	state.DisplayPosts = []feed.Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	state.PaginatedPosts = []feed.Post{{ID: "p1"}}
	state.Metadata.LoadedServerPosts = 3
	state.Metadata.TotalFilteredPosts = 3
	state.Metadata.VisibleFilteredPosts = 1
	return state
}

func TestValidate_CleanState(t *testing.T) {
	v := New(Config{})
	report := v.ValidateStateConsistency(validState())

	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.NotEmpty(t, report.SnapshotID)
}

func TestValidate_NilState(t *testing.T) {
	v := New(Config{})
	report := v.ValidateStateConsistency(nil)

	assert.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "state-present", report.Errors[0].Rule)
}

func TestValidate_InvariantViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*feed.PaginationState)
		wantRule string
	}{
		{
			name:     "page below one",
			mutate:   func(s *feed.PaginationState) { s.CurrentPage = 0 },
			wantRule: "page-positive",
		},
		{
			name:     "posts per page below one",
			mutate:   func(s *feed.PaginationState) { s.PostsPerPage = -1 },
			wantRule: "page-size-positive",
		},
		{
			name: "display exceeds all",
			mutate: func(s *feed.PaginationState) {
				s.DisplayPosts = append(s.DisplayPosts, feed.Post{ID: "x"}, feed.Post{ID: "y"})
				s.Metadata.TotalFilteredPosts = len(s.DisplayPosts)
			},
			wantRule: "display-subset-of-all",
		},
		{
			name: "paginated exceeds display",
			mutate: func(s *feed.PaginationState) {
				s.PaginatedPosts = append([]feed.Post{}, s.DisplayPosts...)
				s.PaginatedPosts = append(s.PaginatedPosts, feed.Post{ID: "x"})
				s.Metadata.VisibleFilteredPosts = s.Metadata.TotalFilteredPosts
			},
			wantRule: "paginated-subset-of-display",
		},
		{
			name: "both loading flags set",
			mutate: func(s *feed.PaginationState) {
				s.IsLoadingMore = true
				s.FetchInProgress = true
			},
			wantRule: "exclusive-loading-flags",
		},
		{
			name: "loading without more posts",
			mutate: func(s *feed.PaginationState) {
				s.IsLoadingMore = true
				s.HasMorePosts = false
			},
			wantRule: "loading-implies-more",
		},
		{
			name: "client mode without filters",
			mutate: func(s *feed.PaginationState) {
				s.PaginationMode = feed.ModeClient
			},
			wantRule: "mode-filter-coherence",
		},
		{
			name: "unknown pagination mode",
			mutate: func(s *feed.PaginationState) {
				s.PaginationMode = "hybrid"
			},
			wantRule: "known-pagination-mode",
		},
		{
			name: "metadata loaded count exceeds posts",
			mutate: func(s *feed.PaginationState) {
				s.Metadata.LoadedServerPosts = 99
			},
			wantRule: "metadata-loaded-bound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(Config{})
			state := validState()
			tt.mutate(state)

			report := v.ValidateStateConsistency(state)

			assert.False(t, report.IsValid)
			rules := make([]string, 0, len(report.Errors))
			for _, finding := range report.Errors {
				rules = append(rules, finding.Rule)
			}
			assert.Contains(t, rules, tt.wantRule)
		})
	}
}

func TestValidate_InfoFindingsDoNotInvalidate(t *testing.T) {
	v := New(Config{})
	state := validState()
	state.Metadata.TotalFilteredPosts = 2 // drifted counter, info severity

	report := v.ValidateStateConsistency(state)

	assert.True(t, report.IsValid)
	assert.NotEmpty(t, report.Infos)
}

func TestValidate_PanickingRuleDowngraded(t *testing.T) {
	v := New(Config{
		ExtraRules: []Rule{{
			Name:     "broken-rule",
			Severity: SeverityWarning,
			Check: func(s *feed.PaginationState) (bool, string) {
				panic("rule bug")
			},
		}},
	})

	report := v.ValidateStateConsistency(validState())

	assert.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "broken-rule", report.Errors[0].Rule)
	assert.Contains(t, report.Errors[0].Detail, "rule bug")
}

func TestSnapshots_CappedAndDeepCopied(t *testing.T) {
	v := New(Config{SnapshotLimit: 3})
	state := validState()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, v.CaptureSnapshot(state, "test", "cap check", nil))
	}

	snapshots := v.Snapshots()
	require.Len(t, snapshots, 3)
	assert.Equal(t, ids[2], snapshots[0].ID, "oldest snapshots evicted first")

	// Mutating the live state must not reach into retained snapshots.
	state.AllPosts[0].ID = "mutated"
	assert.Equal(t, "p1", snapshots[0].State.AllPosts[0].ID)
}

func TestValidate_TagsSnapshotWithResult(t *testing.T) {
	v := New(Config{})
	state := validState()
	state.CurrentPage = 0

	report := v.ValidateStateConsistency(state)

	snapshot, ok := v.GetSnapshot(report.SnapshotID)
	require.True(t, ok)
	assert.Equal(t, "false", snapshot.Tags["valid"])
	require.NotNil(t, snapshot.Validation)
	assert.False(t, snapshot.Validation.IsValid)
}

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-social/feedcore/pkg/feed"
)

func TestRecovery_Idempotence(t *testing.T) {
	v := New(Config{})
	state := validState()

	result := v.RecoverFromInconsistentState(state, RecoveryOptions{})

	assert.Equal(t, RecoveryModeIncremental, result.Mode)
	assert.True(t, result.Valid)

	// Running recovery on an already-valid state must leave it clean.
	report := v.ValidateStateConsistency(state)
	assert.True(t, report.IsValid)
	assert.Len(t, state.AllPosts, 3, "valid state must not lose posts")
}

func TestRecovery_IncrementalRepair(t *testing.T) {
	v := New(Config{})
	state := validState()
	state.CurrentPage = -2
	state.PostsPerPage = 0
	state.IsLoadingMore = true
	state.FetchInProgress = true
	state.PaginatedPosts = append(state.PaginatedPosts, feed.Post{ID: "x"}, feed.Post{ID: "y"}, feed.Post{ID: "z"})
	state.Metadata.LoadedServerPosts = 50

	result := v.RecoverFromInconsistentState(state, RecoveryOptions{})

	assert.Equal(t, RecoveryModeIncremental, result.Mode)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Actions)
	assert.NotEmpty(t, result.PreRecoverySnapshotID)

	assert.Equal(t, 1, state.CurrentPage)
	assert.Equal(t, feed.DefaultPostsPerPage, state.PostsPerPage)
	assert.False(t, state.IsLoadingMore)
	assert.False(t, state.FetchInProgress)
	assert.LessOrEqual(t, len(state.PaginatedPosts), len(state.DisplayPosts))
	assert.LessOrEqual(t, state.Metadata.LoadedServerPosts, len(state.AllPosts))

	report := v.ValidateStateConsistency(state)
	assert.True(t, report.IsValid, "repaired state must validate clean: %v", report.Messages())
}

func TestRecovery_CleanReset(t *testing.T) {
	v := New(Config{})
	state := validState()
	state.CurrentPage = -1

	result := v.RecoverFromInconsistentState(state, RecoveryOptions{ResetToCleanState: true})

	assert.Equal(t, RecoveryModeClean, result.Mode)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, state.CurrentPage)
	assert.Empty(t, state.AllPosts, "clean reset without preserve drops posts")
}

func TestRecovery_CleanResetPreservesUserData(t *testing.T) {
	v := New(Config{})
	state := validState()
	state.CurrentPage = -1

	result := v.RecoverFromInconsistentState(state, RecoveryOptions{
		ResetToCleanState: true,
		PreserveUserData:  true,
	})

	assert.Equal(t, RecoveryModeClean, result.Mode)
	assert.Len(t, state.AllPosts, 3)
	assert.Equal(t, 3, state.Metadata.LoadedServerPosts)

	report := v.ValidateStateConsistency(state)
	assert.True(t, report.IsValid, "preserved reset must validate clean: %v", report.Messages())
}

func TestRecovery_SnapshotRestore(t *testing.T) {
	v := New(Config{})

	good := validState()
	snapshotID := v.CaptureSnapshot(good, "checkpoint", "before risky operation", nil)

	// Corrupt the live state afterwards.
	live := validState()
	live.CurrentPage = -5
	live.AllPosts = nil

	result := v.RecoverFromInconsistentState(live, RecoveryOptions{
		RestoreFromSnapshotID: snapshotID,
	})

	assert.Equal(t, RecoveryModeSnapshot, result.Mode)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, live.CurrentPage)
	assert.Len(t, live.AllPosts, 3)

	// Restored state must not share memory with the retained snapshot.
	live.AllPosts[0].ID = "mutated"
	snapshot, ok := v.GetSnapshot(snapshotID)
	require.True(t, ok)
	assert.Equal(t, "p1", snapshot.State.AllPosts[0].ID)
}

func TestRecovery_InvalidSnapshotFallsThrough(t *testing.T) {
	v := New(Config{})

	bad := validState()
	bad.CurrentPage = -1
	snapshotID := v.CaptureSnapshot(bad, "checkpoint", "broken snapshot", nil)

	live := validState()
	live.PostsPerPage = 0

	result := v.RecoverFromInconsistentState(live, RecoveryOptions{
		RestoreFromSnapshotID: snapshotID,
	})

	// The invalid snapshot is refused; incremental repair runs instead.
	assert.Equal(t, RecoveryModeIncremental, result.Mode)
	assert.Equal(t, feed.DefaultPostsPerPage, live.PostsPerPage)
}

func TestRecovery_FallbackToDefaults(t *testing.T) {
	v := New(Config{
		// A rule incremental repair can never satisfy forces fallback.
		ExtraRules: []Rule{{
			Name:     "always-invalid",
			Severity: SeverityError,
			Check: func(s *feed.PaginationState) (bool, string) {
				if len(s.AllPosts) > 0 {
					return false, "posts present"
				}
				return true, ""
			},
		}},
	})

	state := validState()
	result := v.RecoverFromInconsistentState(state, RecoveryOptions{FallbackToDefaults: true})

	assert.Equal(t, RecoveryModeClean, result.Mode)
	assert.True(t, result.Valid)
	assert.Empty(t, state.AllPosts)
}

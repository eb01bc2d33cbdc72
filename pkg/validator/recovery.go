package validator

import (
	"fmt"
	"time"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Recovery modes reported in RecoveryResult.Mode.
const (
	RecoveryModeSnapshot    = "snapshot"
	RecoveryModeClean       = "clean"
	RecoveryModeIncremental = "incremental"
)

// RecoveryOptions selects how an inconsistent state is repaired.
type RecoveryOptions struct {
	// RestoreFromSnapshotID adopts the referenced snapshot wholesale if
	// it re-validates as clean.
	RestoreFromSnapshotID string

	// ResetToCleanState rebuilds a default state instead of repairing.
	ResetToCleanState bool

	// PreserveUserData keeps AllPosts and the loaded count when
	// resetting to a clean state.
	PreserveUserData bool

	// FallbackToDefaults falls back to the clean-state path when
	// incremental repair leaves the state invalid.
	FallbackToDefaults bool
}

// RecoveryResult documents a recovery pass.
type RecoveryResult struct {
	Mode    string   `json:"mode"`
	Actions []string `json:"actions"`

	// Valid reports whether the state validated clean after recovery.
	Valid bool `json:"valid"`

	// PreRecoverySnapshotID references the snapshot captured before any
	// mutation, for later inspection.
	PreRecoverySnapshotID string `json:"pre_recovery_snapshot_id"`
}

// RecoverFromInconsistentState repairs state in place. It always captures
// a pre-recovery snapshot first. Preference order: snapshot restore,
// clean reset, incremental repair (optionally falling back to a clean
// reset when still invalid).
func (v *Validator) RecoverFromInconsistentState(state *feed.PaginationState, opts RecoveryOptions) RecoveryResult {
	result := RecoveryResult{
		PreRecoverySnapshotID: v.CaptureSnapshot(state, "recovery", "pre-recovery capture", nil),
	}

	if opts.RestoreFromSnapshotID != "" {
		if v.restoreFromSnapshot(state, opts.RestoreFromSnapshotID) {
			result.Mode = RecoveryModeSnapshot
			result.Actions = append(result.Actions,
				fmt.Sprintf("restored snapshot %s", opts.RestoreFromSnapshotID))
			result.Valid = true
			feedRecoveriesTotal.WithLabelValues(result.Mode).Inc()
			return result
		}
		result.Actions = append(result.Actions,
			fmt.Sprintf("snapshot %s unusable, falling through", opts.RestoreFromSnapshotID))
	}

	if opts.ResetToCleanState {
		v.resetToClean(state, opts.PreserveUserData)
		result.Mode = RecoveryModeClean
		result.Actions = append(result.Actions, "rebuilt default state")
		result.Valid = true
		feedRecoveriesTotal.WithLabelValues(result.Mode).Inc()
		return result
	}

	result.Mode = RecoveryModeIncremental
	result.Actions = append(result.Actions, v.repairIncrementally(state)...)

	report := v.revalidate(state)
	result.Valid = report.IsValid

	if !result.Valid && opts.FallbackToDefaults {
		v.resetToClean(state, opts.PreserveUserData)
		result.Mode = RecoveryModeClean
		result.Actions = append(result.Actions, "incremental repair insufficient, rebuilt default state")
		result.Valid = true
	}

	feedRecoveriesTotal.WithLabelValues(result.Mode).Inc()

	v.logger.Info().
		Str("mode", result.Mode).
		Strs("actions", result.Actions).
		Bool("valid", result.Valid).
		Msg("State recovery completed")

	return result
}

// restoreFromSnapshot adopts the snapshot state if it re-validates clean.
func (v *Validator) restoreFromSnapshot(state *feed.PaginationState, id string) bool {
	snapshot, ok := v.GetSnapshot(id)
	if !ok || snapshot.State == nil {
		return false
	}

	if report := v.revalidate(snapshot.State); !report.IsValid {
		v.logger.Warn().
			Str("snapshot_id", id).
			Msg("Snapshot fails validation, refusing to restore it")
		return false
	}

	// Adopt a fresh deep copy so the retained snapshot stays isolated
	// from the live state.
	*state = *snapshot.State.Clone()
	return true
}

// resetToClean rebuilds state as a default session baseline.
func (v *Validator) resetToClean(state *feed.PaginationState, preserveUserData bool) {
	var preserved []feed.Post
	var loadedCount int
	if preserveUserData {
		preserved = state.AllPosts
		loadedCount = state.Metadata.LoadedServerPosts
		if loadedCount > len(preserved) {
			loadedCount = len(preserved)
		}
	}

	*state = *feed.NewPaginationState()

	if preserveUserData && preserved != nil {
		state.AllPosts = preserved
		state.DisplayPosts = append([]feed.Post{}, preserved...)
		state.Metadata.LoadedServerPosts = loadedCount
		state.Metadata.TotalFilteredPosts = len(state.DisplayPosts)
	}
}

// repairIncrementally clamps invalid scalars, truncates arrays to respect
// the ownership invariants, clears conflicting flags, and rebuilds the
// metadata from the current arrays. Returns the actions taken.
func (v *Validator) repairIncrementally(state *feed.PaginationState) []string {
	var actions []string

	if state.AllPosts == nil {
		state.AllPosts = []feed.Post{}
		actions = append(actions, "initialized all posts array")
	}
	if state.DisplayPosts == nil {
		state.DisplayPosts = []feed.Post{}
		actions = append(actions, "initialized display posts array")
	}
	if state.PaginatedPosts == nil {
		state.PaginatedPosts = []feed.Post{}
		actions = append(actions, "initialized paginated posts array")
	}

	if state.CurrentPage < 1 {
		state.CurrentPage = 1
		actions = append(actions, "reset current page to 1")
	}
	if state.PostsPerPage < 1 {
		state.PostsPerPage = feed.DefaultPostsPerPage
		actions = append(actions, fmt.Sprintf("reset posts per page to %d", feed.DefaultPostsPerPage))
	}

	if len(state.DisplayPosts) > len(state.AllPosts) {
		state.DisplayPosts = state.DisplayPosts[:len(state.AllPosts)]
		actions = append(actions, "truncated display posts to loaded posts")
	}
	if len(state.PaginatedPosts) > len(state.DisplayPosts) {
		state.PaginatedPosts = state.PaginatedPosts[:len(state.DisplayPosts)]
		actions = append(actions, "truncated paginated posts to display posts")
	}

	if state.IsLoadingMore && state.FetchInProgress {
		state.IsLoadingMore = false
		state.FetchInProgress = false
		actions = append(actions, "cleared simultaneous loading flags")
	}
	if state.IsLoadingMore && !state.HasMorePosts {
		state.IsLoadingMore = false
		actions = append(actions, "cleared loading flag with exhausted upstream")
	}

	if state.PaginationMode != feed.ModeServer && state.PaginationMode != feed.ModeClient {
		state.PaginationMode = feed.ModeServer
		actions = append(actions, "reset unknown pagination mode to server")
	}
	if state.PaginationMode == feed.ModeClient && !state.FiltersActive() {
		state.PaginationMode = feed.ModeServer
		actions = append(actions, "reset client pagination mode without active filters")
	}

	if state.Metadata.LoadedServerPosts > len(state.AllPosts) {
		state.Metadata.LoadedServerPosts = len(state.AllPosts)
		actions = append(actions, "clamped metadata loaded count")
	}
	if state.Metadata.TotalFilteredPosts != len(state.DisplayPosts) {
		state.Metadata.TotalFilteredPosts = len(state.DisplayPosts)
		actions = append(actions, "rebuilt metadata filtered count")
	}
	if state.Metadata.VisibleFilteredPosts != len(state.PaginatedPosts) {
		state.Metadata.VisibleFilteredPosts = len(state.PaginatedPosts)
		actions = append(actions, "rebuilt metadata visible count")
	}

	state.LastFetchTime = time.Now()

	return actions
}

// revalidate runs the rules without capturing another snapshot, for use
// inside recovery paths.
func (v *Validator) revalidate(state *feed.PaginationState) Report {
	report := Report{IsValid: true}
	for _, rule := range v.rules {
		finding, violated := v.runRule(rule, state)
		if !violated {
			continue
		}
		switch finding.Severity {
		case SeverityError:
			report.IsValid = false
			report.Errors = append(report.Errors, finding)
		case SeverityWarning:
			report.Warnings = append(report.Warnings, finding)
		default:
			report.Infos = append(report.Infos, finding)
		}
	}
	return report
}

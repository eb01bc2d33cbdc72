package validator

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// DefaultSnapshotLimit bounds the retained snapshot collection.
const DefaultSnapshotLimit = 10

// Snapshot is a deep, point-in-time copy of a PaginationState retained
// for diagnosis and recovery. It shares no memory with the live state.
type Snapshot struct {
	ID        string                `json:"id"`
	Timestamp time.Time             `json:"timestamp"`
	State     *feed.PaginationState `json:"state"`
	Operation string                `json:"operation"`
	Reason    string                `json:"reason"`
	Tags      map[string]string     `json:"tags,omitempty"`

	// Validation is the report attached when the snapshot was captured
	// as a validation side effect.
	Validation *Report `json:"validation,omitempty"`
}

// CaptureSnapshot records a deep copy of state and returns the snapshot
// id. The oldest snapshot is evicted once the cap is reached.
func (v *Validator) CaptureSnapshot(state *feed.PaginationState, operation, reason string, tags map[string]string) string {
	snapshot := Snapshot{
		ID:        ulid.Make().String(),
		Timestamp: time.Now(),
		State:     state.Clone(),
		Operation: operation,
		Reason:    reason,
		Tags:      tags,
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.snapshots = append(v.snapshots, snapshot)
	if len(v.snapshots) > v.snapshotLimit {
		v.snapshots = v.snapshots[len(v.snapshots)-v.snapshotLimit:]
	}

	return snapshot.ID
}

// Snapshots returns the retained snapshots, oldest first. The returned
// slice is a copy; the states within remain the validator's deep copies.
func (v *Validator) Snapshots() []Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Snapshot, len(v.snapshots))
	copy(out, v.snapshots)
	return out
}

// GetSnapshot looks up a snapshot by id.
func (v *Validator) GetSnapshot(id string) (Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, snapshot := range v.snapshots {
		if snapshot.ID == id {
			return snapshot, true
		}
	}
	return Snapshot{}, false
}

// attachValidation stores a validation report on the most recent
// snapshot with the given id.
func (v *Validator) attachValidation(id string, report Report) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := len(v.snapshots) - 1; i >= 0; i-- {
		if v.snapshots[i].ID == id {
			v.snapshots[i].Validation = &report
			return
		}
	}
}

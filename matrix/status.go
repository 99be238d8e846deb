package matrix

import (
	"time"

	"prism-plan/realtime"
)

// SyncState is what the UI shows about the realtime connection.
type SyncState struct {
	Status       realtime.State `json:"status"`
	LastSyncedAt *time.Time     `json:"lastSyncedAt,omitempty"`
}

// StatusReporter projects channel state changes and applied remote events
// into a SyncState.
type StatusReporter struct {
	state SyncState
}

// NewStatusReporter starts out disconnected and never synced.
func NewStatusReporter() *StatusReporter {
	return &StatusReporter{state: SyncState{Status: realtime.Disconnected}}
}

// ObserveState records a channel transition. Entering connected stamps
// LastSyncedAt.
func (r *StatusReporter) ObserveState(s realtime.State, at time.Time) {
	r.state.Status = s
	if s == realtime.Connected {
		r.stamp(at)
	}
}

// ObserveApplied records a remote event that changed the store. It only
// counts while connected.
func (r *StatusReporter) ObserveApplied(at time.Time) {
	if r.state.Status == realtime.Connected {
		r.stamp(at)
	}
}

func (r *StatusReporter) stamp(at time.Time) {
	ts := at
	r.state.LastSyncedAt = &ts
}

// Snapshot returns a copy safe to hand to other goroutines.
func (r *StatusReporter) Snapshot() SyncState {
	out := SyncState{Status: r.state.Status}
	if r.state.LastSyncedAt != nil {
		ts := *r.state.LastSyncedAt
		out.LastSyncedAt = &ts
	}
	return out
}

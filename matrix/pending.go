package matrix

import (
	"time"

	"prism-plan/domain"
)

// PendingWrite records an optimistic quadrant change that the remote store has
// not acknowledged yet.
type PendingWrite struct {
	TaskID string
	Target domain.Quadrant
	// Previous is the stored value immediately before the optimistic write.
	Previous domain.Task
	// LocalTS is the UpdatedAt given to the optimistic value.
	LocalTS time.Time
	// Seq identifies the reassignment; a response carrying an older Seq has
	// been superseded.
	Seq uint64
}

// pendingWrites is the overlay on top of the store, at most one entry per task.
type pendingWrites map[string]PendingWrite

func (p pendingWrites) lookup(id string) (PendingWrite, bool) {
	pw, ok := p[id]
	return pw, ok
}

// current reports whether pw is still the live pending write for its task.
func (p pendingWrites) current(pw PendingWrite) bool {
	live, ok := p[pw.TaskID]
	return ok && live.Seq == pw.Seq && live.Target == pw.Target
}

type verdict int

const (
	verdictApply verdict = iota
	verdictSuppress
	verdictDelete
)

func (v verdict) String() string {
	switch v {
	case verdictApply:
		return "apply"
	case verdictSuppress:
		return "suppress"
	case verdictDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// arbitrate decides what an inbound change does given the pending write for
// the same task, if any.
func arbitrate(ev domain.ChangeEvent, pending *PendingWrite) verdict {
	if ev.Kind == domain.ChangeDelete {
		return verdictDelete
	}
	if pending == nil || ev.Task.Quadrant == pending.Target {
		return verdictApply
	}
	if ev.Task.UpdatedAt.After(pending.LocalTS) {
		return verdictApply
	}
	return verdictSuppress
}

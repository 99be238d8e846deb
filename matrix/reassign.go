package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prism-plan/domain"
)

// Outcome describes how a reassignment was resolved.
type Outcome int

const (
	OutcomePending Outcome = iota
	// OutcomeConfirmed means the remote store accepted the change.
	OutcomeConfirmed
	// OutcomeReverted means the remote store rejected the change and the
	// pre-optimistic value was restored.
	OutcomeReverted
	// OutcomeRemoved means the task vanished remotely and was dropped locally.
	OutcomeRemoved
	// OutcomeSuperseded means a newer reassignment for the same task took over
	// before this response arrived; the response was ignored.
	OutcomeSuperseded
	// OutcomeAbandoned means the session was torn down before the response
	// could be applied.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReverted:
		return "reverted"
	case OutcomeRemoved:
		return "removed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Reassigner runs the optimistic quadrant reassignment protocol against a
// store and its pending overlay. Begin and Resolve must be called from the
// same goroutine as every other store access.
type Reassigner struct {
	store   *Store
	pending pendingWrites
	now     func() time.Time
	lastTS  time.Time
	seq     uint64
}

func newReassigner(store *Store, pending pendingWrites, now func() time.Time) *Reassigner {
	return &Reassigner{store: store, pending: pending, now: now}
}

// Begin validates the move, records a pending write and applies the change to
// the store. A reassignment already pending for the task is superseded.
func (r *Reassigner) Begin(taskID string, target domain.Quadrant) (PendingWrite, error) {
	if !target.Valid() {
		return PendingWrite{}, fmt.Errorf("%w: %q", domain.ErrInvalidQuadrant, string(target))
	}
	cur, err := r.store.Get(taskID)
	if err != nil {
		return PendingWrite{}, err
	}

	r.seq++
	pw := PendingWrite{
		TaskID:   taskID,
		Target:   target,
		Previous: cur,
		LocalTS:  r.nextTimestamp(cur.UpdatedAt),
		Seq:      r.seq,
	}
	// While the store still holds the superseded optimistic value, a revert
	// must go back past it to the last confirmed one.
	if old, ok := r.pending.lookup(taskID); ok && r.holdsOptimistic(old) {
		pw.Previous = old.Previous
	}
	r.pending[taskID] = pw

	optimistic := cur
	optimistic.Quadrant = target
	optimistic.UpdatedAt = pw.LocalTS
	r.store.Upsert(optimistic)
	return pw, nil
}

// Resolve folds the remote outcome for pw into the store. The returned error
// is the one to surface to the user; superseded responses are dropped silently.
func (r *Reassigner) Resolve(pw PendingWrite, confirmed domain.Task, remoteErr error) (Outcome, error) {
	if !r.pending.current(pw) {
		return OutcomeSuperseded, nil
	}
	delete(r.pending, pw.TaskID)

	if remoteErr == nil {
		if confirmed.ID != pw.TaskID {
			return OutcomeConfirmed, nil
		}
		if r.holdsOptimistic(pw) {
			r.store.replace(confirmed)
		} else {
			r.store.Upsert(confirmed)
		}
		return OutcomeConfirmed, nil
	}

	remoteErr = classifyRemoteError(remoteErr)
	if errors.Is(remoteErr, domain.ErrNotFound) {
		r.store.Remove(pw.TaskID)
		return OutcomeRemoved, remoteErr
	}
	// A newer remote value applied while the request was in flight wins over
	// the pre-optimistic one.
	if r.holdsOptimistic(pw) {
		r.store.replace(pw.Previous)
	}
	return OutcomeReverted, remoteErr
}

func (r *Reassigner) holdsOptimistic(pw PendingWrite) bool {
	cur, err := r.store.Get(pw.TaskID)
	return err == nil && cur.UpdatedAt.Equal(pw.LocalTS) && cur.Quadrant == pw.Target
}

// nextTimestamp returns a local timestamp strictly after floor and after every
// timestamp handed out before.
func (r *Reassigner) nextTimestamp(floor time.Time) time.Time {
	ts := r.now()
	if !ts.After(floor) {
		ts = floor.Add(time.Nanosecond)
	}
	if !ts.After(r.lastTS) {
		ts = r.lastTS.Add(time.Nanosecond)
	}
	r.lastTS = ts
	return ts
}

// classifyRemoteError maps remote failures onto the error taxonomy. Anything
// that is not a known rejection is treated as a transient outage.
func classifyRemoteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrRemoteUnavailable),
		errors.Is(err, domain.ErrInvalidQuadrant):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: request timed out", domain.ErrRemoteUnavailable)
	default:
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
}

// Reassignment is the caller's handle on an in-flight reassignment. The store
// already reflects the optimistic move when the handle is returned.
type Reassignment struct {
	TaskID string
	Target domain.Quadrant

	done    chan struct{}
	outcome Outcome
	err     error
}

func newReassignment(pw PendingWrite) *Reassignment {
	return &Reassignment{TaskID: pw.TaskID, Target: pw.Target, done: make(chan struct{})}
}

func (r *Reassignment) finish(outcome Outcome, err error) {
	r.outcome = outcome
	r.err = err
	close(r.done)
}

// Done is closed once the reassignment is resolved.
func (r *Reassignment) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the reassignment resolves or ctx ends.
func (r *Reassignment) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, r.err
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

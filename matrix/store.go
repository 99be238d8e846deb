package matrix

import (
	"fmt"
	"time"

	"prism-plan/domain"
)

// Store is the classification store: the single authoritative copy of each
// task held by a session. It performs no I/O and is not safe for concurrent
// use; Session serializes access through its event loop.
//
// Deleted ids leave a tombstone holding the newest UpdatedAt known for them,
// so a late insert or update that is not strictly newer cannot bring the task
// back.
type Store struct {
	tasks      map[string]domain.Task
	tombstones map[string]time.Time

	// rev counts mutations; touched records the rev of each id's last one.
	rev     uint64
	touched map[string]uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:      make(map[string]domain.Task),
		tombstones: make(map[string]time.Time),
		touched:    make(map[string]uint64),
	}
}

// Upsert inserts t or replaces the stored task with the same id. An incoming
// value whose UpdatedAt is not strictly newer than the stored one, or than the
// tombstone of a deleted task, is ignored. It returns whether the store
// changed.
func (s *Store) Upsert(t domain.Task) bool {
	if cur, ok := s.tasks[t.ID]; ok && !t.NewerThan(cur) {
		return false
	}
	if ts, ok := s.tombstones[t.ID]; ok {
		if !t.UpdatedAt.After(ts) {
			return false
		}
		delete(s.tombstones, t.ID)
	}
	s.tasks[t.ID] = t
	s.touch(t.ID)
	return true
}

// replace stores t unconditionally. Only the reassignment protocol uses it, to
// restore a pre-optimistic value or fold in a confirmation of its own write.
func (s *Store) replace(t domain.Task) {
	s.tasks[t.ID] = t
	s.touch(t.ID)
}

// Remove deletes the task and reports whether it was present. The removed
// value's UpdatedAt becomes the tombstone.
func (s *Store) Remove(id string) bool {
	return s.Delete(id, time.Time{})
}

// Delete removes the task as of at and reports whether it was present. The
// tombstone keeps the later of at and the removed value's UpdatedAt.
func (s *Store) Delete(id string, at time.Time) bool {
	cur, ok := s.tasks[id]
	if ok && cur.UpdatedAt.After(at) {
		at = cur.UpdatedAt
	}
	if prev, seen := s.tombstones[id]; seen && prev.After(at) {
		at = prev
	}
	if ok || !at.IsZero() {
		s.tombstones[id] = at
		s.touch(id)
	}
	if !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Get returns the stored task or an error wrapping domain.ErrNotFound.
func (s *Store) Get(id string) (domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return t, nil
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	return len(s.tasks)
}

// Revision returns a counter that grows with every mutation.
func (s *Store) Revision() uint64 {
	return s.rev
}

// ChangedSince reports whether id was written or deleted after rev.
func (s *Store) ChangedSince(id string, rev uint64) bool {
	return s.touched[id] > rev
}

// IDs returns the ids of all stored tasks in no particular order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Group partitions the in-scope tasks into the five quadrant buckets.
func (s *Store) Group(scope domain.Scope) Grouping {
	return group(s.tasks, scope)
}

func (s *Store) touch(id string) {
	s.rev++
	s.touched[id] = s.rev
}

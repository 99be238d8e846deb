package matrix

import (
	log "github.com/sirupsen/logrus"

	"prism-plan/domain"
)

// Coordinator merges inbound change events into the store, arbitrating
// against pending optimistic writes.
type Coordinator struct {
	store   *Store
	pending pendingWrites
	logger  *log.Logger

	dropped    int
	suppressed int
}

func newCoordinator(store *Store, pending pendingWrites, logger *log.Logger) *Coordinator {
	return &Coordinator{store: store, pending: pending, logger: logger}
}

// Ingest decodes a raw frame and applies it. Malformed frames are logged and
// dropped. It reports whether the store changed.
func (c *Coordinator) Ingest(frame []byte) bool {
	ev, err := domain.DecodeChange(frame)
	if err != nil {
		c.dropped++
		c.logger.WithError(err).WithField("frame_bytes", len(frame)).Warn("dropping malformed change event")
		return false
	}
	return c.Apply(ev)
}

// Apply merges a decoded change event. It reports whether the store changed.
func (c *Coordinator) Apply(ev domain.ChangeEvent) bool {
	if ev.Task.ID == "" {
		c.dropped++
		c.logger.WithField("type", ev.Kind).Warn("dropping change event without task id")
		return false
	}
	if ev.Kind != domain.ChangeDelete && ev.Task.UpdatedAt.IsZero() {
		c.dropped++
		c.logger.WithField("task", ev.Task.ID).Warn("dropping change event without timestamp")
		return false
	}

	var pending *PendingWrite
	if pw, ok := c.pending.lookup(ev.Task.ID); ok {
		pending = &pw
	}

	switch v := arbitrate(ev, pending); v {
	case verdictDelete:
		delete(c.pending, ev.Task.ID)
		return c.store.Delete(ev.Task.ID, ev.Task.UpdatedAt)
	case verdictSuppress:
		c.suppressed++
		c.logger.WithFields(log.Fields{
			"task":    ev.Task.ID,
			"ts":      ev.Task.UpdatedAt,
			"pending": pending.LocalTS,
			"target":  pending.Target,
		}).Debug("suppressing change superseded by pending write")
		return false
	default:
		return c.store.Upsert(ev.Task)
	}
}

// Reconcile merges a full reload taken after store revision since. Listed
// tasks are applied as updates. A stored task missing from the list is removed
// unless it has a pending write or was changed after since, in which case the
// reload is older than what the store already knows.
func (c *Coordinator) Reconcile(tasks []domain.Task, since uint64) bool {
	changed := false
	listed := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		listed[t.ID] = struct{}{}
		if c.Apply(domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: t}) {
			changed = true
		}
	}
	for _, id := range c.store.IDs() {
		if _, ok := listed[id]; ok {
			continue
		}
		if _, ok := c.pending.lookup(id); ok || c.store.ChangedSince(id, since) {
			continue
		}
		if c.store.Remove(id) {
			changed = true
		}
	}
	return changed
}

// Dropped returns the number of malformed events discarded so far.
func (c *Coordinator) Dropped() int {
	return c.dropped
}

// Suppressed returns the number of events held back by pending writes.
func (c *Coordinator) Suppressed() int {
	return c.suppressed
}

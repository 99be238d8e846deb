package matrix

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-plan/domain"
)

func frame(t *testing.T, kind domain.ChangeKind, tk domain.Task) []byte {
	t.Helper()
	data, err := domain.EncodeChange(domain.ChangeEvent{UserID: "u1", Kind: kind, Task: tk})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestArbitrate(t *testing.T) {
	pending := &PendingWrite{TaskID: "a", Target: domain.Heart, LocalTS: t0.Add(time.Second)}
	cases := []struct {
		name    string
		ev      domain.ChangeEvent
		pending *PendingWrite
		want    verdict
	}{
		{"no pending", domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: task("a", domain.Club, 0)}, nil, verdictApply},
		{"same target", domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: task("a", domain.Heart, 0)}, pending, verdictApply},
		{"older conflicting", domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: task("a", domain.Club, 0)}, pending, verdictSuppress},
		{"equal conflicting", domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: task("a", domain.Club, time.Second)}, pending, verdictSuppress},
		{"newer conflicting", domain.ChangeEvent{Kind: domain.ChangeUpdate, Task: task("a", domain.Club, 2*time.Second)}, pending, verdictApply},
		{"delete", domain.ChangeEvent{Kind: domain.ChangeDelete, Task: domain.Task{ID: "a"}}, pending, verdictDelete},
	}
	for _, tc := range cases {
		if got := arbitrate(tc.ev, tc.pending); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCoordinatorDuplicateUpdateIsIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	once := NewStore()
	twice := NewStore()
	c1 := newCoordinator(once, make(pendingWrites), logger)
	c2 := newCoordinator(twice, make(pendingWrites), logger)

	base := task("a", domain.Spade, 0)
	once.Upsert(base)
	twice.Upsert(base)

	f := frame(t, domain.ChangeUpdate, task("a", domain.Diamond, time.Second))
	if !c1.Ingest(f) {
		t.Fatalf("expected first update to apply")
	}
	c2.Ingest(f)
	if c2.Ingest(f) {
		t.Fatalf("duplicate update reported a change")
	}
	a, _ := once.Get("a")
	b, _ := twice.Get("a")
	if a != b {
		t.Fatalf("states differ: %+v vs %+v", a, b)
	}
}

func TestCoordinatorSuppressesStaleEventAgainstPendingWrite(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewStore()
	pending := make(pendingWrites)
	store.Upsert(task("t", domain.Spade, 0))

	// Local optimistic write to heart at T1.
	r := newReassigner(store, pending, func() time.Time { return t0.Add(10 * time.Second) })
	pw, err := r.Begin("t", domain.Heart)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Remote club at T0 < T1, but newer than the stored pre-optimistic value.
	c := newCoordinator(store, pending, logger)
	if c.Ingest(frame(t, domain.ChangeUpdate, task("t", domain.Club, 5*time.Second))) {
		t.Fatalf("stale conflicting event was applied")
	}
	got, _ := store.Get("t")
	if got.Quadrant != domain.Heart {
		t.Fatalf("expected heart, got %s", got.Quadrant)
	}
	if c.Suppressed() != 1 {
		t.Fatalf("expected one suppressed event, got %d", c.Suppressed())
	}

	// A later server change wins even while the write is pending.
	if !c.Ingest(frame(t, domain.ChangeUpdate, task("t", domain.Club, 20*time.Second))) {
		t.Fatalf("newer conflicting event was not applied")
	}
	got, _ = store.Get("t")
	if got.Quadrant != domain.Club {
		t.Fatalf("expected club, got %s", got.Quadrant)
	}
	if _, ok := pending.lookup("t"); !ok || pending["t"].Seq != pw.Seq {
		t.Fatalf("pending write should survive an applied event")
	}
}

func TestCoordinatorDeleteClearsPending(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewStore()
	pending := make(pendingWrites)
	store.Upsert(task("t", domain.Spade, 0))
	r := newReassigner(store, pending, time.Now)
	if _, err := r.Begin("t", domain.Club); err != nil {
		t.Fatalf("begin: %v", err)
	}

	c := newCoordinator(store, pending, logger)
	if !c.Ingest([]byte(`{"userId":"u1","type":"delete","task":{"id":"t"}}`)) {
		t.Fatalf("expected delete to change the store")
	}
	if _, err := store.Get("t"); err == nil {
		t.Fatalf("task still present after delete")
	}
	if _, ok := pending.lookup("t"); ok {
		t.Fatalf("pending write not cleared by delete")
	}
}

func TestCoordinatorDeleteBlocksOlderWrites(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewStore()
	c := newCoordinator(store, make(pendingWrites), logger)
	store.Upsert(task("t", domain.Spade, 0))

	if !c.Ingest(frame(t, domain.ChangeDelete, task("t", domain.Spade, 5*time.Second))) {
		t.Fatalf("expected delete to change the store")
	}
	if c.Ingest(frame(t, domain.ChangeUpdate, task("t", domain.Heart, 3*time.Second))) {
		t.Fatalf("update older than the delete brought the task back")
	}
	if c.Ingest(frame(t, domain.ChangeInsert, task("t", domain.Heart, 5*time.Second))) {
		t.Fatalf("insert at the delete timestamp brought the task back")
	}
	if _, err := store.Get("t"); err == nil {
		t.Fatalf("task present after delete")
	}

	if !c.Ingest(frame(t, domain.ChangeInsert, task("t", domain.Club, 6*time.Second))) {
		t.Fatalf("expected a newer insert to recreate the task")
	}
	if got, _ := store.Get("t"); got.Quadrant != domain.Club {
		t.Fatalf("expected club, got %s", got.Quadrant)
	}
}

func TestCoordinatorReconcile(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := NewStore()
	pending := make(pendingWrites)
	c := newCoordinator(store, pending, logger)
	for _, id := range []string{"kept", "gone", "fresh", "mine", "deleted"} {
		store.Upsert(task(id, domain.Spade, 0))
	}
	if _, err := newReassigner(store, pending, time.Now).Begin("mine", domain.Heart); err != nil {
		t.Fatalf("begin: %v", err)
	}
	since := store.Revision()

	// Both land while the reload is in flight.
	c.Ingest(frame(t, domain.ChangeUpdate, task("fresh", domain.Club, time.Second)))
	c.Ingest(frame(t, domain.ChangeDelete, task("deleted", domain.Spade, time.Second)))

	reload := []domain.Task{
		task("kept", domain.Diamond, time.Second),
		task("deleted", domain.Spade, 0),
		task("new", domain.Club, 0),
	}
	if !c.Reconcile(reload, since) {
		t.Fatalf("expected reconcile to change the store")
	}

	for _, id := range []string{"kept", "fresh", "mine", "new"} {
		if _, err := store.Get(id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}
	for _, id := range []string{"gone", "deleted"} {
		if _, err := store.Get(id); err == nil {
			t.Fatalf("%s should be absent after reconcile", id)
		}
	}
	if got, _ := store.Get("kept"); got.Quadrant != domain.Diamond {
		t.Fatalf("expected reloaded value, got %s", got.Quadrant)
	}
}

func TestCoordinatorDropsMalformedFrames(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := NewStore()
	c := newCoordinator(store, make(pendingWrites), logger)

	frames := []string{
		`not json`,
		`{"type":"upsert","task":{"id":"a","updatedAt":"2024-05-01T12:00:00Z"}}`,
		`{"type":"update","task":{"updatedAt":"2024-05-01T12:00:00Z"}}`,
		`{"type":"update","task":{"id":"a","updatedAt":"yesterday"}}`,
	}
	for _, f := range frames {
		if c.Ingest([]byte(f)) {
			t.Fatalf("malformed frame %q changed the store", f)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d tasks", store.Len())
	}
	if c.Dropped() != len(frames) {
		t.Fatalf("expected %d dropped, got %d", len(frames), c.Dropped())
	}
	if len(hook.Entries) != len(frames) {
		t.Fatalf("expected one log entry per frame, got %d", len(hook.Entries))
	}
	if lvl := hook.LastEntry().Level; lvl != log.WarnLevel {
		t.Fatalf("expected warn level, got %s", lvl)
	}
}

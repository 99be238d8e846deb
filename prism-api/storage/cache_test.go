package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-plan/domain"
)

type stubBackend struct {
	listTasksFn  func(ctx context.Context, userID string) ([]domain.Task, error)
	putTaskFn    func(ctx context.Context, userID string, t domain.Task) error
	deleteTaskFn func(ctx context.Context, userID, id string) error
}

func (s *stubBackend) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, userID)
}

func (s *stubBackend) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return domain.Task{}, errors.New("unexpected GetTask call")
}

func (s *stubBackend) PutTask(ctx context.Context, userID string, t domain.Task) error {
	if s.putTaskFn == nil {
		return errors.New("unexpected PutTask call")
	}
	return s.putTaskFn(ctx, userID, t)
}

func (s *stubBackend) DeleteTask(ctx context.Context, userID, id string) error {
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, userID, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	userID := "user-1"
	expected := []domain.Task{{ID: "t1", Title: "Write code", Quadrant: domain.Spade, Status: domain.StatusOpen, UpdatedAt: time.Unix(0, 42).UTC()}}

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if ttl := mr.TTL(tasksCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "t1" || !cached[0].UpdatedAt.Equal(expected[0].UpdatedAt) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheWritesEvict(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		putTaskFn:    func(context.Context, string, domain.Task) error { return nil },
		deleteTaskFn: func(context.Context, string, string) error { return nil },
	}, client, time.Minute)

	mr.Set(tasksCacheKey("u1"), "[]")
	if err := cache.PutTask(ctx, "u1", domain.Task{ID: "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected put to evict cached list")
	}

	mr.Set(tasksCacheKey("u1"), "[]")
	if err := cache.DeleteTask(ctx, "u1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected delete to evict cached list")
	}
}

func TestCacheWriteErrorPreservesCache(t *testing.T) {
	mr, client := newTestRedis(t)
	boom := errors.New("table down")
	cache := NewCache(&stubBackend{
		putTaskFn: func(context.Context, string, domain.Task) error { return boom },
	}, client, time.Minute)

	mr.Set(tasksCacheKey("u1"), "[]")
	if err := cache.PutTask(context.Background(), "u1", domain.Task{ID: "a"}); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("failed write must not evict")
	}
}

func TestCacheDropsCorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
	}, client, 0)

	mr.Set(tasksCacheKey("u1"), "{not json")
	if _, err := cache.ListTasks(context.Background(), "u1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fallback to backend, calls=%d", calls)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected corrupt entry removed and zero ttl to skip caching")
	}
}

func TestRedisPublisher(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	sub := client.Subscribe(ctx, "changes")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.ChangeEvent{UserID: "u1", Kind: domain.ChangeUpdate, Task: domain.Task{ID: "t1", Quadrant: domain.Club, Status: domain.StatusOpen, UpdatedAt: time.Unix(0, 7).UTC()}}
	if err := NewRedisPublisher(client, "changes").Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		got, err := domain.DecodeChange([]byte(msg.Payload))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.UserID != "u1" || got.Task.Quadrant != domain.Club || !got.Task.UpdatedAt.Equal(ev.Task.UpdatedAt) {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls.Add(1)
			<-release
			return []domain.Task{{ID: "t1"}}, nil
		},
	}, nil, time.Minute)

	const readers = 8
	var wg sync.WaitGroup
	results := make(chan []domain.Task, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := cache.ListTasks(context.Background(), "u1")
			if err != nil {
				t.Errorf("list: %v", err)
				return
			}
			results <- tasks
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one backend read, got %d", n)
	}
	for tasks := range results {
		if len(tasks) != 1 || tasks[0].ID != "t1" {
			t.Fatalf("unexpected tasks %+v", tasks)
		}
	}
}

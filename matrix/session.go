package matrix

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-plan/domain"
	"prism-plan/realtime"
)

// ErrSessionClosed is returned by calls made after the session shut down.
var ErrSessionClosed = errors.New("session closed")

// Remote is the persistent row store as seen by a session.
type Remote interface {
	UpdateQuadrant(ctx context.Context, id string, q domain.Quadrant) (domain.Task, error)
}

// LoadFunc fetches the full task list, used to resync after a reconnect.
type LoadFunc func(ctx context.Context) ([]domain.Task, error)

const defaultRequestTimeout = 10 * time.Second

// Option configures a Session.
type Option func(*Session)

// WithRequestTimeout bounds each remote request. Expiry surfaces as
// domain.ErrRemoteUnavailable.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces the wall clock used for local timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by the session and its coordinator.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResync reloads the task list every time the channel (re)connects.
// Reloaded tasks go through the same arbitration as change events, and stored
// tasks the reload no longer lists are dropped.
func WithResync(fn LoadFunc) Option {
	return func(s *Session) {
		s.resync = fn
	}
}

// Session owns the classification store of one user and serializes every
// access to it through a single event loop. Run must be running for the
// other methods to make progress.
type Session struct {
	remote  Remote
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
	resync  LoadFunc

	store       *Store
	pending     pendingWrites
	reassigner  *Reassigner
	coordinator *Coordinator
	reporter    *StatusReporter

	inbox   chan func()
	changes chan struct{}

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	runCtx   context.Context
	done     chan struct{}
	doneOnce sync.Once
	exited   chan struct{}
	wg       sync.WaitGroup
}

func NewSession(remote Remote, opts ...Option) *Session {
	s := &Session{
		remote:  remote,
		timeout: defaultRequestTimeout,
		now:     time.Now,
		logger:  log.StandardLogger(),
		store:   NewStore(),
		pending: make(pendingWrites),
		inbox:   make(chan func()),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reassigner = newReassigner(s.store, s.pending, s.now)
	s.coordinator = newCoordinator(s.store, s.pending, s.logger)
	s.reporter = NewStatusReporter()
	return s
}

// Run drives the event loop until ctx ends or Close is called. feed carries
// the realtime channel output and may be nil.
func (s *Session) Run(ctx context.Context, feed <-chan realtime.Event) error {
	s.mu.Lock()
	if s.closed || s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx = ctx
	s.mu.Unlock()

	defer func() {
		cancel()
		s.doneOnce.Do(func() { close(s.done) })
		s.wg.Wait()
		close(s.exited)
	}()

	for {
		select {
		case <-ctx.Done():
			if s.isClosed() {
				return nil
			}
			return ctx.Err()
		case fn := <-s.inbox:
			fn()
		case ev, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			s.handle(ctx, ev)
		}
	}
}

// Close stops the loop, cancels in-flight requests and waits for them.
// Reassignments still outstanding resolve as OutcomeAbandoned.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		s.doneOnce.Do(func() { close(s.done) })
		return nil
	}
	cancel()
	<-s.exited
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Changes is signalled, coalesced, whenever the grouping or sync state may
// have changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// call runs fn on the loop and returns its error.
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.inbox <- func() { errc <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// post hands fn to the loop without waiting for it. It reports false once the
// loop is gone.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Load seeds the store. Tasks go through last-writer-wins like any other
// upsert.
func (s *Session) Load(ctx context.Context, tasks []domain.Task) error {
	return s.call(ctx, func() error {
		changed := false
		for _, t := range tasks {
			if s.store.Upsert(t) {
				changed = true
			}
		}
		if changed {
			s.signal()
		}
		return nil
	})
}

// Group returns the current partition for scope, pending writes included.
func (s *Session) Group(ctx context.Context, scope domain.Scope) (Grouping, error) {
	var g Grouping
	err := s.call(ctx, func() error {
		g = s.store.Group(scope)
		return nil
	})
	return g, err
}

// Get returns the stored task or an error wrapping domain.ErrNotFound.
func (s *Session) Get(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := s.call(ctx, func() (err error) {
		t, err = s.store.Get(id)
		return err
	})
	return t, err
}

// Status returns the current sync state.
func (s *Session) Status(ctx context.Context) (SyncState, error) {
	var st SyncState
	err := s.call(ctx, func() error {
		st = s.reporter.Snapshot()
		return nil
	})
	return st, err
}

// Reassign moves a task to target. The store shows the move as soon as
// Reassign returns; the handle resolves once the remote store answers.
func (s *Session) Reassign(ctx context.Context, taskID string, target domain.Quadrant) (*Reassignment, error) {
	var h *Reassignment
	err := s.call(ctx, func() error {
		pw, err := s.reassigner.Begin(taskID, target)
		if err != nil {
			return err
		}
		h = newReassignment(pw)
		s.signal()
		s.wg.Add(1)
		go s.dispatch(pw, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Session) dispatch(pw PendingWrite, h *Reassignment) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.runCtx, s.timeout)
	task, err := s.remote.UpdateQuadrant(ctx, pw.TaskID, pw.Target)
	cancel()

	ok := s.post(func() {
		if s.runCtx.Err() != nil {
			h.finish(OutcomeAbandoned, ErrSessionClosed)
			return
		}
		outcome, rerr := s.reassigner.Resolve(pw, task, err)
		entry := s.logger.WithFields(log.Fields{
			"task":    pw.TaskID,
			"target":  pw.Target,
			"seq":     pw.Seq,
			"outcome": outcome,
		})
		switch outcome {
		case OutcomeSuperseded:
			entry.Debug("ignoring superseded reassignment response")
		case OutcomeConfirmed:
			entry.Debug("reassignment confirmed")
			s.signal()
		default:
			entry.WithError(rerr).Warn("reassignment failed")
			s.signal()
		}
		h.finish(outcome, rerr)
	})
	if !ok {
		h.finish(OutcomeAbandoned, ErrSessionClosed)
	}
}

func (s *Session) handle(ctx context.Context, ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventState:
		s.reporter.ObserveState(ev.State, s.now())
		entry := s.logger.WithField("state", ev.State)
		if ev.Err != nil {
			entry = entry.WithError(ev.Err)
		}
		entry.Debug("realtime state changed")
		s.signal()
		if ev.State == realtime.Connected && s.resync != nil {
			s.startResync(ctx)
		}
	case realtime.EventFrame:
		if s.coordinator.Ingest(ev.Frame) {
			s.reporter.ObserveApplied(s.now())
			s.signal()
		}
	}
}

// startResync runs on the loop. Changes applied while the fetch is in flight
// carry a later store revision than since and outrank the reload.
func (s *Session) startResync(ctx context.Context) {
	since := s.store.Revision()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		tasks, err := s.resync(rctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).Warn("resync after reconnect failed")
			}
			return
		}
		s.post(func() {
			if ctx.Err() != nil {
				return
			}
			if s.coordinator.Reconcile(tasks, since) {
				s.reporter.ObserveApplied(s.now())
				s.signal()
			}
			s.logger.WithField("tasks", len(tasks)).Debug("resynced after reconnect")
		})
	}()
}

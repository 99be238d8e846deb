package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrStreamClosed is reported when a transport ends a stream without a cause.
var ErrStreamClosed = errors.New("stream closed by server")

// EventKind separates state transitions from payload frames.
type EventKind int

const (
	EventState EventKind = iota
	EventFrame
)

// Event is one item of the channel's ordered output.
type Event struct {
	Kind  EventKind
	State State
	Frame []byte
	// Err is the cause of an Error transition.
	Err error
}

// Subscription is a live stream of change frames for one user.
type Subscription interface {
	// Frames is closed when the stream ends.
	Frames() <-chan []byte
	// Err returns why Frames was closed; nil before that.
	Err() error
	Close() error
}

// Transport opens subscriptions. Subscribe returns once the server has
// acknowledged the subscription.
type Transport interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

type ChannelOption func(*Channel)

func WithBackoff(b Backoff) ChannelOption {
	return func(c *Channel) { c.backoff = b }
}

func WithChannelLogger(l *log.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBuffer sets the capacity of the event stream.
func WithBuffer(n int) ChannelOption {
	return func(c *Channel) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

// Channel keeps one user's subscription alive, reconnecting with backoff, and
// reports everything it sees on a single ordered event stream.
type Channel struct {
	transport Transport
	userID    string
	backoff   Backoff
	logger    *log.Logger
	buffer    int
	sleep     func(ctx context.Context, d time.Duration) error

	events chan Event

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewChannel(t Transport, userID string, opts ...ChannelOption) *Channel {
	c := &Channel{
		transport: t,
		userID:    userID,
		backoff:   DefaultBackoff,
		logger:    log.StandardLogger(),
		buffer:    64,
		sleep:     sleepCtx,
		state:     Disconnected,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.buffer)
	return c
}

// Start begins connecting and returns the event stream, which is closed after
// the channel reaches its terminal state. Calling Start twice returns the same
// stream.
func (c *Channel) Start(ctx context.Context) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return c.events
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return c.events
}

// Close tears the channel down and waits for the final disconnected event.
func (c *Channel) Close() error {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	if !started {
		c.started = true
		close(c.events)
		close(c.done)
	}
	c.mu.Unlock()
	if started {
		cancel()
		<-c.done
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	failures := 0
	for {
		c.setState(ctx, Connecting, nil)
		sub, err := c.transport.Subscribe(ctx, c.userID)
		if err == nil {
			failures = 0
			c.setState(ctx, Connected, nil)
			err = c.pump(ctx, sub)
			if cerr := sub.Close(); cerr != nil {
				c.logger.WithError(cerr).Debug("closing subscription")
			}
		}
		if ctx.Err() != nil {
			c.teardown()
			return
		}

		failures++
		c.setState(ctx, Error, err)
		c.logger.WithFields(log.Fields{
			"user":     c.userID,
			"failures": failures,
		}).WithError(err).Warn("realtime channel error")

		if IsFatal(err) || c.backoff.Exhausted(failures) {
			c.logger.WithField("user", c.userID).WithError(err).Error("giving up on realtime channel")
			<-ctx.Done()
			c.teardown()
			return
		}
		if err := c.sleep(ctx, c.backoff.Delay(failures)); err != nil {
			c.teardown()
			return
		}
	}
}

func (c *Channel) pump(ctx context.Context, sub Subscription) error {
	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return ErrStreamClosed
			}
			c.emit(ctx, Event{Kind: EventFrame, Frame: f})
		}
	}
}

func (c *Channel) setState(ctx context.Context, to State, cause error) {
	c.mu.Lock()
	next, err := transition(c.state, to)
	c.state = next
	c.mu.Unlock()
	if err != nil {
		c.logger.WithError(err).Error("realtime channel")
		return
	}
	c.emit(ctx, Event{Kind: EventState, State: to, Err: cause})
}

// teardown moves to Disconnected and makes a bounded attempt to report it,
// since the consumer may already be gone.
func (c *Channel) teardown() {
	c.mu.Lock()
	from := c.state
	c.state = Disconnected
	c.mu.Unlock()
	if from == Disconnected {
		return
	}
	t := time.NewTimer(time.Second)
	defer t.Stop()
	select {
	case c.events <- Event{Kind: EventState, State: Disconnected}:
	case <-t.C:
		c.logger.WithField("user", c.userID).Debug("dropping final disconnected event")
	}
}

func (c *Channel) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

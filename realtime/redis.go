package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"prism-plan/domain"
)

// DefaultChangesChannel is the pub/sub channel prism-api publishes to.
const DefaultChangesChannel = "task-changes"

// RedisTransport subscribes straight to the change fan-out channel and keeps
// only frames addressed to the subscribing user. An empty user id keeps all.
type RedisTransport struct {
	Client  *redis.Client
	Channel string
}

func (t *RedisTransport) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	channel := t.Channel
	if channel == "" {
		channel = DefaultChangesChannel
	}
	ps := t.Client.Subscribe(ctx, channel)
	// The subscribe confirmation is the handshake.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrRemoteUnavailable, channel, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &redisSubscription{ps: ps, cancel: cancel, frames: make(chan []byte)}
	go s.read(sctx, userID)
	return s, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	frames chan []byte

	mu  sync.Mutex
	err error
}

func (s *redisSubscription) Frames() <-chan []byte { return s.frames }

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.cancel()
	return s.ps.Close()
}

func (s *redisSubscription) read(ctx context.Context, userID string) {
	defer close(s.frames)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.fail(ErrStreamClosed)
			return
		case msg, ok := <-ch:
			if !ok {
				s.fail(fmt.Errorf("%w: pubsub channel closed", domain.ErrRemoteUnavailable))
				return
			}
			payload := []byte(msg.Payload)
			if userID != "" && FrameUser(payload) != userID {
				continue
			}
			select {
			case s.frames <- payload:
			case <-ctx.Done():
				s.fail(ErrStreamClosed)
				return
			}
		}
	}
}

func (s *redisSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// FrameUser extracts the addressed user from a change frame, or "" when the
// frame cannot be read. Full validation is left to the consumer.
func FrameUser(frame []byte) string {
	if !gjson.ValidBytes(frame) {
		return ""
	}
	return gjson.GetBytes(frame, "userId").String()
}

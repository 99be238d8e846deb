package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-plan/domain"
)

const reconnectDelay = time.Second

// SubscribeUpdates relays change frames from the Redis changes channel to
// broadcast, keyed by the frame's user. Malformed frames are dropped. The
// subscription is re-established until ctx ends.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	changesChannel string,
	broadcast func(userID string, data []byte),
) {
	for {
		relay(ctx, logger, rc, changesChannel, broadcast)
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", changesChannel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func relay(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, broadcast func(string, []byte)) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Error("subscribe")
		}
		return
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload := []byte(msg.Payload)
			ev, err := domain.DecodeChange(payload)
			if err != nil {
				logger.WithError(err).Warn("dropping change frame")
				continue
			}
			if ev.UserID == "" {
				logger.WithField("taskId", ev.Task.ID).Warn("dropping change frame without user")
				continue
			}
			broadcast(ev.UserID, payload)
		}
	}
}

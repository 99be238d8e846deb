package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-plan/domain"
)

// errPoison marks messages that can never be processed. They are removed from
// the queue instead of being retried.
var errPoison = errors.New("poison message")

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type processor struct {
	redis   publisher
	channel string
	log     *log.Logger
}

// processEvent validates a queued change event and republishes it in its
// canonical form on the changes channel.
func (p *processor) processEvent(ctx context.Context, payload string) error {
	ev, err := domain.DecodeChange([]byte(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: task %s has no owner", errPoison, ev.Task.ID)
	}
	data, err := domain.EncodeChange(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Task.ID, err)
	}
	p.log.WithFields(log.Fields{
		"userId": ev.UserID,
		"taskId": ev.Task.ID,
		"type":   ev.Kind,
	}).Debug("relayed change event")
	return nil
}

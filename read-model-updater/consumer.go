package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const (
	batchSize         = 16
	visibilityTimeout = 30 * time.Second
	// Messages that keep failing are dropped after this many deliveries.
	maxDequeueCount = 5
)

type messageQueue interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

type consumer struct {
	queue  messageQueue
	handle func(ctx context.Context, payload string) error
	log    *log.Logger
	idle   time.Duration
}

// run drains the queue until ctx is done. A failed message stays on the queue
// and becomes visible again after the visibility timeout.
func (c *consumer) run(ctx context.Context) error {
	for {
		n, err := c.poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.WithError(err).Warn("receive")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.idle):
			}
		}
	}
}

// poll handles one batch and reports how many messages it saw.
func (c *consumer) poll(ctx context.Context) (int, error) {
	resp, err := c.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(batchSize)),
		VisibilityTimeout: to.Ptr(int32(visibilityTimeout / time.Second)),
	})
	if err != nil {
		return 0, err
	}
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		c.handleMessage(ctx, msg)
	}
	return len(resp.Messages), nil
}

func (c *consumer) handleMessage(ctx context.Context, msg *azqueue.DequeuedMessage) {
	entry := c.log.WithField("messageId", *msg.MessageID)
	var payload string
	if msg.MessageText != nil {
		payload = *msg.MessageText
	}
	err := c.handle(ctx, payload)
	switch {
	case err == nil:
	case errors.Is(err, errPoison):
		entry.WithError(err).Error("dropping message")
	case msg.DequeueCount != nil && *msg.DequeueCount >= maxDequeueCount:
		entry.WithError(err).WithField("dequeueCount", *msg.DequeueCount).Error("giving up on message")
	default:
		entry.WithError(err).Warn("message will be retried")
		return
	}
	if _, err := c.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		entry.WithError(err).Warn("delete message")
	}
}

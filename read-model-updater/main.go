package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"prism-plan/internal/redisconn"
	"prism-plan/realtime"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("read-model-updater starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsQueue := os.Getenv("DOMAIN_EVENTS_QUEUE")
	if connStr == "" || eventsQueue == "" {
		log.Fatal("missing storage config")
	}
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
			},
		},
	})
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	rc, err := redisconn.NewClient(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatal(err)
	}
	defer rc.Close()
	channel := os.Getenv("CHANGES_CHANNEL")
	if channel == "" {
		channel = realtime.DefaultChangesChannel
	}

	logger := log.StandardLogger()
	p := &processor{redis: rc, channel: channel, log: logger}
	c := &consumer{queue: queue, handle: p.processEvent, log: logger, idle: time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.run(ctx); err != nil {
		log.Fatal(err)
	}
	log.Info("read-model-updater stopped")
}

package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

type creator func(ctx context.Context) error

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	if connStr == "" || tasksTable == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING or TASKS_TABLE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	creators, err := resources(connStr, tasksTable, os.Getenv("DOMAIN_EVENTS_QUEUE"))
	if err != nil {
		log.Fatalf("storage clients: %v", err)
	}
	if err := ensureAll(ctx, creators); err != nil {
		log.Fatalf("create storage: %v", err)
	}

	log.Info("storage init complete")
}

// resources returns a creator for the tasks table and, when configured, the
// domain events queue.
func resources(connStr, tasksTable, eventsQueue string) (map[string]creator, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	table := svc.NewClient(tasksTable)
	out := map[string]creator{
		"table " + tasksTable: func(ctx context.Context) error {
			_, err := table.CreateTable(ctx, nil)
			return err
		},
	}
	if eventsQueue == "" {
		return out, nil
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, nil)
	if err != nil {
		return nil, err
	}
	out["queue "+eventsQueue] = func(ctx context.Context) error {
		_, err := q.Create(ctx, nil)
		return err
	}
	return out, nil
}

func ensureAll(ctx context.Context, creators map[string]creator) error {
	for name, create := range creators {
		err := create(ctx)
		switch {
		case err == nil:
			log.WithField("resource", name).Info("created")
		case alreadyExists(err):
			log.WithField("resource", name).Debug("already exists")
		default:
			return errors.Join(errors.New(name), err)
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.ErrorCode == string(aztables.TableAlreadyExists) || respErr.ErrorCode == queueAlreadyExists
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-plan/domain"
)

const edmInt64 = "Edm.Int64"

type taskTable interface {
	NewListEntitiesPager(*aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, o *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type eventQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage keeps task rows in Azure Table storage, partitioned by owner, and
// optionally forwards change events to an Azure queue.
type Storage struct {
	taskTable  taskTable
	eventQueue eventQueue
}

// New creates a Storage instance from the given connection string. An empty
// eventsQueue disables event forwarding.
func New(connStr, tasksTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{taskTable: svc.NewClient(tasksTable)}
	if eventsQueue == "" {
		return s, nil
	}

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s.eventQueue = q
	return s, nil
}

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Notes         string `json:"Notes"`
	Quadrant      string `json:"Quadrant"`
	Status        string `json:"Status"`
	Order         int    `json:"Order"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func toEntity(userID string, t domain.Task) taskEntity {
	return taskEntity{
		Entity:        aztables.Entity{PartitionKey: userID, RowKey: t.ID},
		Title:         t.Title,
		Notes:         t.Notes,
		Quadrant:      string(t.Quadrant),
		Status:        string(t.Status),
		Order:         t.Order,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	q, err := domain.ParseQuadrant(ent.Quadrant)
	if err != nil {
		// Rows written by older clients may carry unknown categories.
		q = domain.Unassigned
	}
	status, err := domain.ParseStatus(ent.Status)
	if err != nil {
		status = domain.StatusOpen
	}
	return domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Notes:     ent.Notes,
		Quadrant:  q,
		Status:    status,
		Order:     ent.Order,
		UpdatedAt: time.Unix(0, ent.UpdatedAt).UTC(),
	}, nil
}

// ListTasks retrieves all tasks for the provided user.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// GetTask returns one task or an error wrapping domain.ErrNotFound.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		return domain.Task{}, translate(err, id)
	}
	return decodeTask(resp.Value)
}

// PutTask writes the full row, replacing any existing one.
func (s *Storage) PutTask(ctx context.Context, userID string, t domain.Task) error {
	payload, err := json.Marshal(toEntity(userID, t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// DeleteTask removes a row; a missing row yields domain.ErrNotFound.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, userID, id, nil); err != nil {
		return translate(err, id)
	}
	return nil
}

// Publish forwards a change event to the events queue, if one is configured.
func (s *Storage) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if s.eventQueue == nil {
		return nil
	}
	data, err := domain.EncodeChange(ev)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func translate(err error, id string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
	}
	return err
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// ChangeKind is the mutation carried by a change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ErrMalformedChange marks frames that cannot be turned into a ChangeEvent.
var ErrMalformedChange = errors.New("malformed change event")

// ChangeEvent is a row-level mutation pushed to subscribers.
type ChangeEvent struct {
	UserID string     `json:"userId"`
	Kind   ChangeKind `json:"type"`
	Task   Task       `json:"task"`
}

type changeFrame struct {
	UserID string          `json:"userId"`
	Type   string          `json:"type"`
	Task   json.RawMessage `json:"task"`
}

type taskFrame struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	Quadrant  string `json:"quadrant"`
	Status    string `json:"status"`
	Order     int    `json:"order"`
	UpdatedAt string `json:"updatedAt"`
}

// EncodeChange renders ev in the wire format shared by the publisher and every
// realtime transport.
func EncodeChange(ev ChangeEvent) ([]byte, error) {
	return sonic.ConfigStd.Marshal(ev)
}

// DecodeChange parses and validates a wire frame. Every failure wraps
// ErrMalformedChange.
func DecodeChange(data []byte) (ChangeEvent, error) {
	var frame changeFrame
	if err := sonic.ConfigStd.Unmarshal(data, &frame); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	kind := ChangeKind(frame.Type)
	switch kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("%w: unknown type %q", ErrMalformedChange, frame.Type)
	}
	if len(frame.Task) == 0 {
		return ChangeEvent{}, fmt.Errorf("%w: missing task", ErrMalformedChange)
	}
	var tf taskFrame
	if err := sonic.ConfigStd.Unmarshal(frame.Task, &tf); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	if tf.ID == "" {
		return ChangeEvent{}, fmt.Errorf("%w: missing task id", ErrMalformedChange)
	}

	task := Task{ID: tf.ID, Title: tf.Title, Notes: tf.Notes, Order: tf.Order}
	if tf.UpdatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, tf.UpdatedAt)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: task %s: %v", ErrMalformedChange, tf.ID, err)
		}
		task.UpdatedAt = ts
	} else if kind != ChangeDelete {
		return ChangeEvent{}, fmt.Errorf("%w: task %s: missing updatedAt", ErrMalformedChange, tf.ID)
	}
	if kind == ChangeDelete {
		return ChangeEvent{UserID: frame.UserID, Kind: kind, Task: task}, nil
	}

	q, err := ParseQuadrant(tf.Quadrant)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: task %s: %v", ErrMalformedChange, tf.ID, err)
	}
	task.Quadrant = q
	task.Status = StatusOpen
	if tf.Status != "" {
		st, err := ParseStatus(tf.Status)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("%w: task %s: %v", ErrMalformedChange, tf.ID, err)
		}
		task.Status = st
	}
	return ChangeEvent{UserID: frame.UserID, Kind: kind, Task: task}, nil
}

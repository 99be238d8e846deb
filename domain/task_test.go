package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseQuadrant(t *testing.T) {
	tests := []struct {
		raw  string
		want Quadrant
		err  bool
	}{
		{raw: "spade", want: Spade},
		{raw: " Heart ", want: Heart},
		{raw: "DIAMOND", want: Diamond},
		{raw: "club", want: Club},
		{raw: "", want: Unassigned},
		{raw: "unassigned", want: Unassigned},
		{raw: "joker", err: true},
	}
	for _, tt := range tests {
		got, err := ParseQuadrant(tt.raw)
		if tt.err {
			if !errors.Is(err, ErrInvalidQuadrant) {
				t.Fatalf("ParseQuadrant(%q) expected ErrInvalidQuadrant, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseQuadrant(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestScopeIncludes(t *testing.T) {
	done := Task{ID: "t1", Status: StatusDone}
	open := Task{ID: "t2", Status: StatusInProgress}
	if !ScopeAll.Includes(done) || !ScopeAll.Includes(open) {
		t.Fatalf("ScopeAll must include every task")
	}
	if ScopeActive.Includes(done) {
		t.Fatalf("ScopeActive must exclude done tasks")
	}
	if !ScopeActive.Includes(open) {
		t.Fatalf("ScopeActive must include in-progress tasks")
	}
}

func TestDecodeChange(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	payload, err := EncodeChange(ChangeEvent{
		UserID: "u1",
		Kind:   ChangeUpdate,
		Task:   Task{ID: "t1", Title: "Ship", Quadrant: Heart, Status: StatusInProgress, UpdatedAt: ts},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := DecodeChange(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.UserID != "u1" || ev.Kind != ChangeUpdate || ev.Task.Quadrant != Heart || ev.Task.Status != StatusInProgress {
		t.Fatalf("unexpected event %#v", ev)
	}
	if !ev.Task.UpdatedAt.Equal(ts) {
		t.Fatalf("expected updatedAt %v, got %v", ts, ev.Task.UpdatedAt)
	}
}

func TestDecodeChangeUnassignedWhenQuadrantMissing(t *testing.T) {
	ev, err := DecodeChange([]byte(`{"type":"insert","task":{"id":"t1","updatedAt":"2026-03-01T10:00:00Z"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Task.Quadrant != Unassigned || ev.Task.Status != StatusOpen {
		t.Fatalf("unexpected task %#v", ev.Task)
	}
}

func TestDecodeChangeRejectsMalformed(t *testing.T) {
	frames := map[string]string{
		"not json":       `{`,
		"unknown type":   `{"type":"upsert","task":{"id":"t1","updatedAt":"2026-03-01T10:00:00Z"}}`,
		"missing task":   `{"type":"update"}`,
		"missing id":     `{"type":"update","task":{"updatedAt":"2026-03-01T10:00:00Z"}}`,
		"bad timestamp":  `{"type":"update","task":{"id":"t1","updatedAt":"yesterday"}}`,
		"no timestamp":   `{"type":"insert","task":{"id":"t1"}}`,
		"bad quadrant":   `{"type":"update","task":{"id":"t1","quadrant":"joker","updatedAt":"2026-03-01T10:00:00Z"}}`,
		"bad status":     `{"type":"update","task":{"id":"t1","status":"later","updatedAt":"2026-03-01T10:00:00Z"}}`,
		"delete bad ts":  `{"type":"delete","task":{"id":"t1","updatedAt":"nope"}}`,
		"delete no id":   `{"type":"delete","task":{}}`,
		"task scalar":    `{"type":"update","task":"t1"}`,
	}
	for name, frame := range frames {
		if _, err := DecodeChange([]byte(frame)); !errors.Is(err, ErrMalformedChange) {
			t.Fatalf("%s: expected ErrMalformedChange, got %v", name, err)
		}
	}
}

func TestDecodeChangeDeleteWithoutTimestamp(t *testing.T) {
	ev, err := DecodeChange([]byte(`{"userId":"u1","type":"delete","task":{"id":"t1"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != ChangeDelete || ev.Task.ID != "t1" {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestEncodeChangeOmitsUnassignedQuadrant(t *testing.T) {
	payload, err := EncodeChange(ChangeEvent{Kind: ChangeInsert, Task: Task{ID: "t1", Status: StatusOpen}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(payload), "quadrant") {
		t.Fatalf("expected quadrant to be omitted, got %s", payload)
	}
	if !strings.Contains(string(payload), "\"order\":0") {
		t.Fatalf("expected order field to be present, got %s", payload)
	}
}

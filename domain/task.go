package domain

import (
	"fmt"
	"strings"
	"time"
)

// Quadrant is a prioritization bucket on the board. The four suits map to the
// Eisenhower matrix: spade is urgent and important, heart is important but not
// urgent, diamond is urgent but not important and club is neither.
type Quadrant string

const (
	Spade   Quadrant = "spade"
	Heart   Quadrant = "heart"
	Diamond Quadrant = "diamond"
	Club    Quadrant = "club"

	// Unassigned is the zero value; tasks without a quadrant land here.
	Unassigned Quadrant = ""
)

// unassignedName is accepted on input as an explicit spelling of Unassigned.
const unassignedName = "unassigned"

// Quadrants lists the four named suits in display order.
var Quadrants = [...]Quadrant{Spade, Heart, Diamond, Club}

// ParseQuadrant validates raw input. The empty string and "unassigned" both
// yield Unassigned.
func ParseQuadrant(raw string) (Quadrant, error) {
	switch q := Quadrant(strings.ToLower(strings.TrimSpace(raw))); q {
	case Spade, Heart, Diamond, Club, Unassigned:
		return q, nil
	case unassignedName:
		return Unassigned, nil
	default:
		return Unassigned, fmt.Errorf("%w: %q", ErrInvalidQuadrant, raw)
	}
}

// Valid reports whether q is one of the four suits or Unassigned.
func (q Quadrant) Valid() bool {
	switch q {
	case Spade, Heart, Diamond, Club, Unassigned:
		return true
	}
	return false
}

func (q Quadrant) String() string {
	if q == Unassigned {
		return unassignedName
	}
	return string(q)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus validates raw input.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusOpen, StatusInProgress, StatusDone:
		return s, nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

// Scope selects which tasks take part in a grouping.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeActive Scope = "active"
)

// ParseScope accepts "all" and "active"; empty input defaults to ScopeAll.
func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return ScopeAll, nil
	case ScopeAll, ScopeActive:
		return s, nil
	default:
		return "", fmt.Errorf("invalid scope %q", raw)
	}
}

// Includes reports whether t is in scope.
func (s Scope) Includes(t Task) bool {
	if s == ScopeActive {
		return !t.Completed()
	}
	return true
}

// Task represents a single board item.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Quadrant  Quadrant  `json:"quadrant,omitempty"`
	Status    Status    `json:"status"`
	Order     int       `json:"order"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Completed is the boolean view of Status used by quadrant filtering.
func (t Task) Completed() bool {
	return t.Status == StatusDone
}

// NewerThan reports whether t carries a strictly later UpdatedAt than other.
func (t Task) NewerThan(other Task) bool {
	return t.UpdatedAt.After(other.UpdatedAt)
}

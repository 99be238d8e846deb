package matrix

import (
	"sort"

	"prism-plan/domain"
)

// Grouping is a partition of the in-scope task set into five disjoint buckets.
// Each bucket is sorted by Order, then ID.
type Grouping struct {
	Scope      domain.Scope  `json:"scope"`
	Spade      []domain.Task `json:"spade"`
	Heart      []domain.Task `json:"heart"`
	Diamond    []domain.Task `json:"diamond"`
	Club       []domain.Task `json:"club"`
	Unassigned []domain.Task `json:"unassigned"`
}

// Bucket returns the tasks grouped under q.
func (g Grouping) Bucket(q domain.Quadrant) []domain.Task {
	switch q {
	case domain.Spade:
		return g.Spade
	case domain.Heart:
		return g.Heart
	case domain.Diamond:
		return g.Diamond
	case domain.Club:
		return g.Club
	default:
		return g.Unassigned
	}
}

// Len returns the number of grouped tasks.
func (g Grouping) Len() int {
	return len(g.Spade) + len(g.Heart) + len(g.Diamond) + len(g.Club) + len(g.Unassigned)
}

// GroupTasks partitions a plain task slice. Server-side callers use it to build
// the same view a session renders.
func GroupTasks(tasks []domain.Task, scope domain.Scope) Grouping {
	st := NewStore()
	for _, t := range tasks {
		st.Upsert(t)
	}
	return st.Group(scope)
}

func group(tasks map[string]domain.Task, scope domain.Scope) Grouping {
	g := Grouping{
		Scope:      scope,
		Spade:      []domain.Task{},
		Heart:      []domain.Task{},
		Diamond:    []domain.Task{},
		Club:       []domain.Task{},
		Unassigned: []domain.Task{},
	}
	for _, t := range tasks {
		if !scope.Includes(t) {
			continue
		}
		switch t.Quadrant {
		case domain.Spade:
			g.Spade = append(g.Spade, t)
		case domain.Heart:
			g.Heart = append(g.Heart, t)
		case domain.Diamond:
			g.Diamond = append(g.Diamond, t)
		case domain.Club:
			g.Club = append(g.Club, t)
		default:
			g.Unassigned = append(g.Unassigned, t)
		}
	}
	for _, bucket := range [][]domain.Task{g.Spade, g.Heart, g.Diamond, g.Club, g.Unassigned} {
		sortBucket(bucket)
	}
	return g
}

func sortBucket(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
}

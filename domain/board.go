package domain

import (
	"strings"
	"time"
)

// Columns groups tasks by lane, preserving insertion order inside each lane.
type Columns struct {
	Todo       []Task `json:"todo"`
	InProgress []Task `json:"inProgress"`
	Completed  []Task `json:"completed"`
	Failed     []Task `json:"failed"`
}

func GroupByColumn(tasks []Task) Columns {
	cols := Columns{
		Todo:       []Task{},
		InProgress: []Task{},
		Completed:  []Task{},
		Failed:     []Task{},
	}
	for _, t := range tasks {
		switch t.Status {
		case ColumnTodo:
			cols.Todo = append(cols.Todo, t)
		case ColumnInProgress:
			cols.InProgress = append(cols.InProgress, t)
		case ColumnCompleted:
			cols.Completed = append(cols.Completed, t)
		case ColumnFailed:
			cols.Failed = append(cols.Failed, t)
		}
	}
	return cols
}

// Lane returns the tasks of a single column.
func (c Columns) Lane(col Column) []Task {
	switch col {
	case ColumnTodo:
		return c.Todo
	case ColumnInProgress:
		return c.InProgress
	case ColumnCompleted:
		return c.Completed
	case ColumnFailed:
		return c.Failed
	}
	return nil
}

// Filter narrows the board by a title search and a priority.
type Filter struct {
	Query    string
	Priority string // empty or "all" matches every priority
}

func (f Filter) Match(t Task) bool {
	if q := strings.TrimSpace(f.Query); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), strings.ToLower(q)) {
			return false
		}
	}
	if p := strings.ToLower(strings.TrimSpace(f.Priority)); p != "" && p != "all" {
		if string(t.Priority) != p {
			return false
		}
	}
	return true
}

func (f Filter) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Stats summarises a board. Upcoming counts tasks whose deadline lies after now.
type Stats struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	HighPriority int `json:"highPriority"`
	Upcoming     int `json:"upcoming"`
}

func ComputeStats(tasks []Task, now time.Time) Stats {
	var s Stats
	for _, t := range tasks {
		s.Total++
		if t.Completed() {
			s.Completed++
		}
		if t.Status == ColumnFailed {
			s.Failed++
		}
		if t.Priority == PriorityHigh {
			s.HighPriority++
		}
		if t.Deadline.After(now) {
			s.Upcoming++
		}
	}
	return s
}

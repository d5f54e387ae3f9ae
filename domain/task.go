package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Column is a task's status and the board lane it is rendered in.
type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inProgress"
	ColumnCompleted  Column = "completed"
	ColumnFailed     Column = "failed"
)

// AllColumns lists the board lanes in display order.
var AllColumns = [...]Column{ColumnTodo, ColumnInProgress, ColumnCompleted, ColumnFailed}

// Valid reports whether c is one of the four board columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnTodo, ColumnInProgress, ColumnCompleted, ColumnFailed:
		return true
	}
	return false
}

// ParseColumn validates a raw column name.
func ParseColumn(raw string) (Column, error) {
	c := Column(strings.TrimSpace(raw))
	if !c.Valid() {
		return "", &ValidationError{Field: "column", Reason: fmt.Sprintf("unknown column %q", raw)}
	}
	return c, nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a raw priority. An empty value means medium.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", raw)}
}

// SyncState tracks whether the latest version of a task reached the remote store.
type SyncState string

const (
	SyncLocal   SyncState = "local"
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"
)

// Task represents a single board item.
//
// Completed is not stored; it is derived from Status. The JSON form still
// carries a "completed" field so that records keep their historical shape.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Notes         string    `json:"notes,omitempty"`
	Priority      Priority  `json:"priority"`
	Deadline      Date      `json:"deadline,omitempty"`
	Status        Column    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UserID        string    `json:"userId,omitempty"`
	Sync          SyncState `json:"sync,omitempty"`
}

func (t Task) Completed() bool {
	return t.Status == ColumnCompleted
}

// LocalOnly reports whether the task has never been attached to an identity.
func (t Task) LocalOnly() bool {
	return t.UserID == ""
}

type taskJSON struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Notes         string    `json:"notes,omitempty"`
	Priority      Priority  `json:"priority"`
	Deadline      *Date     `json:"deadline,omitempty"`
	Status        Column    `json:"status"`
	Completed     bool      `json:"completed"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UserID        string    `json:"userId,omitempty"`
	Sync          SyncState `json:"sync,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{
		ID:            t.ID,
		Title:         t.Title,
		Notes:         t.Notes,
		Priority:      t.Priority,
		Status:        t.Status,
		Completed:     t.Completed(),
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UserID:        t.UserID,
		Sync:          t.Sync,
	}
	if !t.Deadline.IsZero() {
		d := t.Deadline
		out.Deadline = &d
	}
	return json.Marshal(out)
}

// UnmarshalJSON ignores the stored completed flag; Status is authoritative.
func (t *Task) UnmarshalJSON(data []byte) error {
	var in taskJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Task{
		ID:            in.ID,
		Title:         in.Title,
		Notes:         in.Notes,
		Priority:      in.Priority,
		Status:        in.Status,
		FailureReason: in.FailureReason,
		CreatedAt:     in.CreatedAt,
		UserID:        in.UserID,
		Sync:          in.Sync,
	}
	if in.Deadline != nil {
		t.Deadline = *in.Deadline
	}
	return nil
}

// NewTask carries the user supplied fields of a task being created.
type NewTask struct {
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	Priority string `json:"priority,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// Build validates n and returns a fresh todo task. The caller assigns the ID.
func (n NewTask) Build(now time.Time) (Task, error) {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return Task{}, &ValidationError{Field: "title", Reason: "title is required"}
	}
	priority, err := ParsePriority(n.Priority)
	if err != nil {
		return Task{}, err
	}
	var deadline Date
	if strings.TrimSpace(n.Deadline) != "" {
		deadline, err = ParseDate(n.Deadline)
		if err != nil {
			return Task{}, &ValidationError{Field: "deadline", Reason: err.Error()}
		}
	}
	return Task{
		Title:     title,
		Notes:     strings.TrimSpace(n.Notes),
		Priority:  priority,
		Deadline:  deadline,
		Status:    ColumnTodo,
		CreatedAt: now.UTC(),
	}, nil
}

// Validate checks the status invariants of t.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !t.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown column %q", t.Status)}
	}
	if t.Status == ColumnFailed && strings.TrimSpace(t.FailureReason) == "" {
		return &ValidationError{Field: "failureReason", Reason: "failed tasks require a reason"}
	}
	if t.Status != ColumnFailed && t.FailureReason != "" {
		return &ValidationError{Field: "failureReason", Reason: "only failed tasks carry a reason"}
	}
	return nil
}

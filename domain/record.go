package domain

import (
	"fmt"
	"time"
)

// TasksCollection is the document collection holding board tasks.
const TasksCollection = "tasks"

// Record field names shared by every document store.
const (
	FieldTitle         = "title"
	FieldNotes         = "notes"
	FieldPriority      = "priority"
	FieldDeadline      = "deadline"
	FieldStatus        = "status"
	FieldCompleted     = "completed"
	FieldFailureReason = "failureReason"
	FieldCreatedAt     = "createdAt"
	FieldUserID        = "userId"
)

// UnrecordedFailureReason fills in failed records that were stored without a reason.
const UnrecordedFailureReason = "no reason recorded"

// Record is a schemaless document body.
type Record map[string]any

// Document is a stored record together with its store assigned id.
type Document struct {
	ID     string
	Record Record
}

// TaskRecord returns the full remote snapshot of t. Optional fields are
// written as empty strings so that a merge update clears them.
func TaskRecord(t Task) Record {
	return Record{
		FieldTitle:         t.Title,
		FieldNotes:         t.Notes,
		FieldPriority:      string(t.Priority),
		FieldDeadline:      t.Deadline.String(),
		FieldStatus:        string(t.Status),
		FieldCompleted:     t.Completed(),
		FieldFailureReason: t.FailureReason,
		FieldCreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339Nano),
		FieldUserID:        t.UserID,
	}
}

// TaskFromDocument rebuilds a task from a stored document. Records written
// before status existed only carry the completed flag.
func TaskFromDocument(doc Document) (Task, error) {
	r := doc.Record
	t := Task{
		ID:            doc.ID,
		Title:         r.String(FieldTitle),
		Notes:         r.String(FieldNotes),
		FailureReason: r.String(FieldFailureReason),
		UserID:        r.String(FieldUserID),
	}
	if t.ID == "" {
		return Task{}, fmt.Errorf("document has no id")
	}

	priority, err := ParsePriority(r.String(FieldPriority))
	if err != nil {
		return Task{}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	t.Priority = priority

	status := Column(r.String(FieldStatus))
	if status == "" {
		status = ColumnTodo
		if r.Bool(FieldCompleted) {
			status = ColumnCompleted
		}
	}
	if !status.Valid() {
		return Task{}, fmt.Errorf("document %s: unknown status %q", doc.ID, status)
	}
	t.Status = status
	switch {
	case t.Status != ColumnFailed:
		t.FailureReason = ""
	case t.FailureReason == "":
		t.FailureReason = UnrecordedFailureReason
	}

	if raw := r.String(FieldDeadline); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return Task{}, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		t.Deadline = d
	}
	if raw := r.String(FieldCreatedAt); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Task{}, fmt.Errorf("document %s: invalid createdAt: %w", doc.ID, err)
		}
		t.CreatedAt = ts.UTC()
	} else if ts, ok := r[FieldCreatedAt].(time.Time); ok {
		t.CreatedAt = ts.UTC()
	}
	return t, nil
}

// String returns the string value of key, or "" when absent or not a string.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case *bool:
		return v != nil && *v
	}
	return false
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

package domain

import "strings"

// Move applies a column transition to t and returns the updated copy.
//
// Every column is reachable from every other one. Entering failed requires a
// non-empty reason; leaving failed clears it.
func Move(t Task, target Column, failureReason string) (Task, error) {
	if !target.Valid() {
		return t, &ValidationError{Field: "column", Reason: "unknown column " + string(target)}
	}
	reason := strings.TrimSpace(failureReason)
	if target == ColumnFailed && reason == "" {
		return t, &ValidationError{Field: "failureReason", Reason: "a reason is required to mark a task as failed"}
	}
	t.Status = target
	if target == ColumnFailed {
		t.FailureReason = reason
	} else {
		t.FailureReason = ""
	}
	return t, nil
}

// Toggle flips the completion of t: completed tasks go back to todo, anything
// else becomes completed.
func Toggle(t Task) Task {
	if t.Completed() {
		t.Status = ColumnTodo
	} else {
		t.Status = ColumnCompleted
	}
	t.FailureReason = ""
	return t
}

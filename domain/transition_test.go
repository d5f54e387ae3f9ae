package domain

import (
	"testing"
	"time"
)

func freshTask(t *testing.T) Task {
	t.Helper()
	task, err := NewTask{Title: "A"}.Build(time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	task.ID = "a"
	return task
}

func TestMoveToFailedRequiresReason(t *testing.T) {
	task := freshTask(t)

	moved, err := Move(task, ColumnFailed, "  ")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if moved.Status != ColumnTodo {
		t.Fatalf("expected task to stay in todo, got %s", moved.Status)
	}

	moved, err = Move(task, ColumnFailed, "blocked by vendor")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Status != ColumnFailed || moved.FailureReason != "blocked by vendor" {
		t.Fatalf("unexpected task: %#v", moved)
	}
	if err := moved.Validate(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}

	back, err := Move(moved, ColumnTodo, "")
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if back.FailureReason != "" || back.Completed() {
		t.Fatalf("expected reason cleared and not completed: %#v", back)
	}
}

func TestMoveEveryColumnPair(t *testing.T) {
	for _, from := range AllColumns {
		for _, to := range AllColumns {
			task := freshTask(t)
			var err error
			task, err = Move(task, from, "reason")
			if err != nil {
				t.Fatalf("move to %s: %v", from, err)
			}
			task, err = Move(task, to, "reason")
			if err != nil {
				t.Fatalf("move %s -> %s: %v", from, to, err)
			}
			if task.Status != to {
				t.Fatalf("move %s -> %s ended in %s", from, to, task.Status)
			}
			if task.Completed() != (to == ColumnCompleted) {
				t.Fatalf("completed out of sync after %s -> %s", from, to)
			}
			if err := task.Validate(); err != nil {
				t.Fatalf("invariants broken after %s -> %s: %v", from, to, err)
			}
		}
	}
}

func TestMoveUnknownColumn(t *testing.T) {
	if _, err := Move(freshTask(t), Column("archived"), ""); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestToggleTwiceIsIdentity(t *testing.T) {
	task := freshTask(t)

	once := Toggle(task)
	if once.Status != ColumnCompleted || !once.Completed() {
		t.Fatalf("expected completed after first toggle: %#v", once)
	}
	twice := Toggle(once)
	if twice.Status != ColumnTodo || twice.Completed() {
		t.Fatalf("expected todo after second toggle: %#v", twice)
	}
}

func TestToggleClearsFailureReason(t *testing.T) {
	task, err := Move(freshTask(t), ColumnFailed, "nope")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	toggled := Toggle(task)
	if toggled.Status != ColumnCompleted || toggled.FailureReason != "" {
		t.Fatalf("unexpected toggle result: %#v", toggled)
	}
}

package api

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/storage"
)

func newTestSessions(t *testing.T, store *memoryStore, ttl time.Duration, opts ...SessionsOption) *Sessions {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := NewSessions(func(identity board.IdentityProvider, n board.Notifier) *board.Engine {
		return board.New(store, identity, board.WithNotifier(n), board.WithLogger(logger))
	}, ttl, logger, opts...)
	t.Cleanup(s.Close)
	return s
}

type memoryBoards struct {
	mu      sync.Mutex
	boards  map[string][]domain.Task
	loadErr error
	saves   int
}

func newMemoryBoards() *memoryBoards {
	return &memoryBoards{boards: make(map[string][]domain.Task)}
}

func (m *memoryBoards) SaveBoard(_ context.Context, key string, tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.boards[key] = append([]domain.Task(nil), tasks...)
	return nil
}

func (m *memoryBoards) LoadBoard(_ context.Context, key string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.Task(nil), m.boards[key]...), nil
}

func (m *memoryBoards) setLoadErr(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

func (m *memoryBoards) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func taskIDs(tasks []domain.Task) map[string]bool {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	return ids
}

func TestSessionsReuseByKey(t *testing.T) {
	s := newTestSessions(t, newMemoryStore(), time.Hour)
	ctx := context.Background()

	a, err := s.Get(ctx, "", "anon-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := s.Get(ctx, "", "anon-1")
	u, _ := s.Get(ctx, "anon-1", "")
	if a != b {
		t.Fatalf("expected the same session for the same anonymous id")
	}
	if u == a {
		t.Fatalf("user sessions must not share anonymous sessions with the same id")
	}
	if a.Engine.Identity() != "" || u.Engine.Identity() != "anon-1" {
		t.Fatalf("unexpected identities %q %q", a.Engine.Identity(), u.Engine.Identity())
	}
}

func TestSessionsSweepClosesIdle(t *testing.T) {
	s := newTestSessions(t, newMemoryStore(), time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	old, _ := s.Get(ctx, "", "old")
	changes, _ := old.Engine.Subscribe()

	now = now.Add(45 * time.Second)
	if _, err := s.Get(ctx, "", "fresh"); err != nil {
		t.Fatalf("get: %v", err)
	}

	now = now.Add(30 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected 1 idle session closed, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected fresh session to survive, have %d", s.Len())
	}
	if _, open := <-changes; open {
		t.Fatalf("closing a session should release its subscribers")
	}

	again, _ := s.Get(ctx, "", "old")
	if again == old {
		t.Fatalf("expected a new session after sweep")
	}
}

func TestSessionsLoadSignedInOnce(t *testing.T) {
	store := newMemoryStore()
	rec := domain.TaskRecord(domain.Task{Title: "Saved", Priority: domain.PriorityMedium, Status: domain.ColumnTodo, CreatedAt: time.Now(), UserID: "carol"})
	if _, err := store.Insert(context.Background(), domain.TasksCollection, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := newTestSessions(t, store, 0)

	sess, err := s.Get(context.Background(), "carol", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := sess.Engine.Tasks(); len(got) != 1 || got[0].Title != "Saved" {
		t.Fatalf("expected tasks loaded on first use, got %#v", got)
	}
	if s.Sweep() != 0 {
		t.Fatalf("a zero idle TTL disables sweeping")
	}
}

func TestSessionsRetryFailedSignedInLoad(t *testing.T) {
	store := newMemoryStore()
	rec := domain.TaskRecord(domain.Task{Title: "Saved", Priority: domain.PriorityMedium, Status: domain.ColumnTodo, CreatedAt: time.Now(), UserID: "dave"})
	if _, err := store.Insert(context.Background(), domain.TasksCollection, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.mu.Lock()
	store.queryErr = errors.New("table unavailable")
	store.mu.Unlock()
	s := newTestSessions(t, store, 0)
	ctx := context.Background()

	sess, err := s.Get(ctx, "dave", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sess.Engine.Tasks()) != 0 {
		t.Fatalf("expected an empty board while the store is down")
	}
	if notes := sess.Drain(); len(notes) != 1 || notes[0].Kind != domain.NotifyRemoteRead {
		t.Fatalf("expected a read failure notification, got %#v", notes)
	}

	store.mu.Lock()
	store.queryErr = nil
	store.mu.Unlock()

	again, err := s.Get(ctx, "dave", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again != sess {
		t.Fatalf("expected the same session")
	}
	if got := sess.Engine.Tasks(); len(got) != 1 || got[0].Title != "Saved" {
		t.Fatalf("expected the load to be retried, got %#v", got)
	}
}

func TestAnonymousBoardSurvivesSweep(t *testing.T) {
	boards := newMemoryBoards()
	s := newTestSessions(t, newMemoryStore(), time.Minute, WithBoardStore(boards))
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	sess, err := s.Get(ctx, "", "guest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a, _ := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Draft"})
	b, _ := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Deploy"})
	if _, err := sess.Engine.MoveTask(ctx, b.ID, domain.ColumnFailed, "no access"); err != nil {
		t.Fatalf("move: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected the session to be swept, got %d", n)
	}

	reopened, err := s.Get(ctx, "", "guest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reopened == sess {
		t.Fatalf("expected a new session after sweep")
	}
	got := reopened.Engine.Tasks()
	ids := taskIDs(got)
	if len(got) != 2 || !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("expected the board restored, got %#v", got)
	}
	for _, task := range got {
		if task.Sync != domain.SyncLocal {
			t.Fatalf("restored tasks stay local-only, got %#v", task)
		}
		if task.ID == b.ID && (task.Status != domain.ColumnFailed || task.FailureReason != "no access") {
			t.Fatalf("failed task lost its reason: %#v", task)
		}
	}

	other, _ := s.Get(ctx, "", "someone-else")
	if len(other.Engine.Tasks()) != 0 {
		t.Fatalf("boards must not leak between anonymous sessions")
	}
}

func TestAnonymousBoardSurvivesRestart(t *testing.T) {
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "boards.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	first := newTestSessions(t, newMemoryStore(), time.Hour, WithBoardStore(storage.NewBoardSnapshots(db)))
	sess, _ := first.Get(ctx, "", "guest")
	added, err := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Survive restart", Priority: "high"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	first.Close()

	second := newTestSessions(t, newMemoryStore(), time.Hour, WithBoardStore(storage.NewBoardSnapshots(db)))
	reopened, _ := second.Get(ctx, "", "guest")
	got := reopened.Engine.Tasks()
	if len(got) != 1 || got[0].ID != added.ID || got[0].Priority != domain.PriorityHigh {
		t.Fatalf("expected the board restored after restart, got %#v", got)
	}
}

func TestFailedRestoreDoesNotOverwriteSavedBoard(t *testing.T) {
	boards := newMemoryBoards()
	saved := domain.Task{ID: "s1", Title: "Saved", Priority: domain.PriorityLow, Status: domain.ColumnTodo, CreatedAt: time.Now().UTC()}
	boards.boards["anon:guest"] = []domain.Task{saved}
	boards.setLoadErr(errors.New("table unavailable"))
	s := newTestSessions(t, newMemoryStore(), time.Hour, WithBoardStore(boards))
	ctx := context.Background()

	sess, err := s.Get(ctx, "", "guest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if notes := sess.Drain(); len(notes) != 1 || notes[0].Kind != domain.NotifyRemoteRead {
		t.Fatalf("expected a read failure notification, got %#v", notes)
	}
	added, _ := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Meanwhile"})
	s.Save(ctx, sess)
	if boards.saveCount() != 0 {
		t.Fatalf("an unrestored board must not be saved")
	}

	boards.setLoadErr(nil)
	if _, err := s.Get(ctx, "", "guest"); err != nil {
		t.Fatalf("get: %v", err)
	}
	ids := taskIDs(sess.Engine.Tasks())
	if len(ids) != 2 || !ids["s1"] || !ids[added.ID] {
		t.Fatalf("expected saved and new tasks merged, got %#v", sess.Engine.Tasks())
	}

	s.Save(ctx, sess)
	if boards.saveCount() != 1 {
		t.Fatalf("expected the restored board to be saved")
	}
}

func TestReloadRestoresSavedAnonymousBoard(t *testing.T) {
	boards := newMemoryBoards()
	s := newTestSessions(t, newMemoryStore(), time.Hour, WithBoardStore(boards))
	ctx := context.Background()

	sess, _ := s.Get(ctx, "", "guest")
	kept, _ := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Kept"})
	s.Save(ctx, sess)
	if _, err := sess.Engine.AddTask(ctx, domain.NewTask{Title: "Unsaved"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Reload(ctx, sess); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := sess.Engine.Tasks(); len(got) != 1 || got[0].ID != kept.ID {
		t.Fatalf("expected the saved board, got %#v", got)
	}

	boards.setLoadErr(errors.New("table unavailable"))
	var rErr *domain.RemoteReadError
	if err := s.Reload(ctx, sess); !errors.As(err, &rErr) {
		t.Fatalf("expected remote read error, got %v", err)
	}
	if len(sess.Engine.Tasks()) != 1 {
		t.Fatalf("a failed reload must keep the board")
	}
}

func TestNotificationBufferKeepsNewest(t *testing.T) {
	var b notificationBuffer
	for i := 0; i < maxSessionNotifications+5; i++ {
		b.Notify(domain.Notification{Message: string(rune('a' + i%26))})
	}
	got := b.drain()
	if len(got) != maxSessionNotifications {
		t.Fatalf("expected %d notifications, got %d", maxSessionNotifications, len(got))
	}
	if got[0].Message != string(rune('a'+5)) {
		t.Fatalf("oldest notifications should be dropped first, got %q", got[0].Message)
	}
	if len(b.drain()) != 0 {
		t.Fatalf("drain should clear the buffer")
	}
}

package board

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"taskboard/domain"
)

// Engine holds the tasks of one session and keeps them in step with the
// document store while an identity is present.
//
// Mutations are serialized; the task slice is never modified in place, so a
// slice returned by Tasks stays valid after later mutations.
type Engine struct {
	store        DocumentStore
	identity     IdentityProvider
	policy       WritePolicy
	notifier     Notifier
	logger       *log.Logger
	now          func() time.Time
	newID        func() string
	writeTimeout time.Duration

	mu     sync.Mutex
	tasks  atomic.Pointer[[]domain.Task]
	seq    uint64
	latest map[string]uint64
	writer *writer
	closed bool

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// New creates an engine bound to store and identity.
func New(store DocumentStore, identity IdentityProvider, opts ...Option) *Engine {
	if store == nil {
		panic("board.New: document store is nil")
	}
	if identity == nil {
		identity = Anonymous()
	}
	e := &Engine{
		store:    store,
		identity: identity,
		policy:   FireAndForget,
		logger:   log.StandardLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
		latest:   make(map[string]uint64),
		subs:     make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	empty := []domain.Task{}
	e.tasks.Store(&empty)
	if e.policy == FireAndForget {
		e.writer = newWriter(store, e.logger, e.writeTimeout, e.writeDone)
	}
	return e
}

// Identity returns the current identity, or "" when anonymous.
func (e *Engine) Identity() string {
	id, ok := e.identity.CurrentIdentity()
	if !ok {
		return ""
	}
	return id
}

func (e *Engine) Policy() WritePolicy { return e.policy }

// Tasks returns the current tasks in insertion order.
func (e *Engine) Tasks() []domain.Task {
	return *e.tasks.Load()
}

func (e *Engine) Columns() domain.Columns {
	return domain.GroupByColumn(e.Tasks())
}

func (e *Engine) Stats() domain.Stats {
	return domain.ComputeStats(e.Tasks(), e.now())
}

// Task looks up a single task by id.
func (e *Engine) Task(id string) (domain.Task, bool) {
	tasks := e.Tasks()
	if i := indexOf(tasks, id); i >= 0 {
		return tasks[i], true
	}
	return domain.Task{}, false
}

// AddTask validates in and appends a new todo task.
//
// With an identity the task is inserted remotely first and takes the store's
// document id. A failed insert keeps the task as a local-only task marked
// SyncFailed and reports a RemoteWriteError notification.
func (e *Engine) AddTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	task, err := in.Build(e.now())
	if err != nil {
		return domain.Task{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	uid, signedIn := e.identity.CurrentIdentity()
	if !signedIn {
		task.ID = e.newID()
		task.Sync = domain.SyncLocal
		e.replace(appendTask(e.Tasks(), task))
		return task, nil
	}

	task.UserID = uid
	id, err := e.insert(ctx, task)
	if err != nil {
		task.UserID = ""
		task.ID = e.newID()
		task.Sync = domain.SyncFailed
		e.report(domain.NotifyRemoteWrite, task.ID, &domain.RemoteWriteError{Op: "insert", TaskID: task.ID, Err: err})
	} else {
		task.ID = id
		task.Sync = domain.SyncSynced
	}
	e.replace(appendTask(e.Tasks(), task))
	return task, nil
}

func (e *Engine) insert(ctx context.Context, task domain.Task) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.remote_insert")
	defer span.End()
	id, err := e.store.Insert(ctx, domain.TasksCollection, domain.TaskRecord(task))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("board.task_id", id))
	span.SetStatus(codes.Ok, "")
	return id, nil
}

// DeleteTask removes a task. Unknown ids are ignored. Tasks owned by the
// current identity are also deleted remotely.
func (e *Engine) DeleteTask(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.Tasks()
	i := indexOf(tasks, id)
	if i < 0 {
		return
	}
	removed := tasks[i]
	next := make([]domain.Task, 0, len(tasks)-1)
	next = append(next, tasks[:i]...)
	next = append(next, tasks[i+1:]...)
	e.replace(next)

	if e.ownedByCurrent(removed) {
		e.dispatch(ctx, writeJob{kind: writeDelete, taskID: removed.ID})
	}
}

// ToggleTask flips a task between completed and todo.
func (e *Engine) ToggleTask(ctx context.Context, id string) (domain.Task, error) {
	return e.mutate(ctx, id, "toggle", func(t domain.Task) (domain.Task, error) {
		return domain.Toggle(t), nil
	})
}

// MoveTask moves a task to target. Moving to failed requires a reason; the
// task is left untouched when the move is refused.
func (e *Engine) MoveTask(ctx context.Context, id string, target domain.Column, failureReason string) (domain.Task, error) {
	return e.mutate(ctx, id, "move", func(t domain.Task) (domain.Task, error) {
		return domain.Move(t, target, failureReason)
	})
}

func (e *Engine) mutate(ctx context.Context, id, op string, apply func(domain.Task) (domain.Task, error)) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.Tasks()
	i := indexOf(tasks, id)
	if i < 0 {
		e.logger.WithFields(log.Fields{"op": op, "task_id": id}).Debug("ignoring operation on unknown task")
		return domain.Task{}, &domain.NotFoundError{ID: id}
	}
	updated, err := apply(tasks[i])
	if err != nil {
		return tasks[i], err
	}

	remote := e.ownedByCurrent(updated)
	if remote {
		updated.Sync = domain.SyncPending
	}
	next := make([]domain.Task, len(tasks))
	copy(next, tasks)
	next[i] = updated
	e.replace(next)

	if remote {
		e.dispatch(ctx, writeJob{kind: writeUpdate, taskID: updated.ID, record: domain.TaskRecord(updated)})
		if t, ok := e.Task(updated.ID); ok {
			updated = t
		}
	}
	return updated, nil
}

// LoadUserTasks replaces the board with the identity's remote tasks, or
// clears it for an anonymous session. Local-only tasks are not carried over.
// A failed read leaves the board unchanged.
//
// Tasks with a remote write still outstanding keep their in-memory version,
// and tasks with a pending delete stay removed, so a reload never shows a
// snapshot older than what the board has already applied.
func (e *Engine) LoadUserTasks(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	uid, signedIn := e.identity.CurrentIdentity()
	if !signedIn {
		e.replace([]domain.Task{})
		return nil
	}

	docs, err := e.store.QueryByField(ctx, domain.TasksCollection, domain.FieldUserID, uid)
	if err != nil {
		rerr := &domain.RemoteReadError{Err: err}
		e.report(domain.NotifyRemoteRead, "", rerr)
		return rerr
	}

	loaded := make([]domain.Task, 0, len(docs))
	for _, doc := range docs {
		t, err := domain.TaskFromDocument(doc)
		if err != nil {
			e.logger.WithError(err).WithField("user", uid).Warn("skipping unreadable task document")
			continue
		}
		if t.UserID == "" {
			t.UserID = uid
		}
		t.Sync = domain.SyncSynced
		if _, pending := e.latest[t.ID]; pending {
			current, ok := e.Task(t.ID)
			if !ok {
				continue
			}
			t = current
		}
		loaded = append(loaded, t)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})
	e.replace(loaded)
	return nil
}

// Restore replaces the board of an anonymous engine with previously saved
// local tasks, keeping their order. Tasks that fail validation or repeat an
// id are skipped. Signed-in engines take their board from LoadUserTasks and
// are left untouched.
func (e *Engine) Restore(tasks []domain.Task) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, signedIn := e.identity.CurrentIdentity(); signedIn {
		return 0
	}
	seen := make(map[string]bool, len(tasks))
	restored := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		if err := t.Validate(); err != nil {
			e.logger.WithError(err).WithField("task_id", t.ID).Warn("skipping unreadable saved task")
			continue
		}
		seen[t.ID] = true
		t.UserID = ""
		t.Sync = domain.SyncLocal
		restored = append(restored, t)
	}
	e.replace(restored)
	return len(restored)
}

// Subscribe returns a channel signalled after every change to the task set.
// Signals coalesce; readers call Tasks to get the latest snapshot.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subsMu.Lock()
	if e.subs == nil {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
			e.subsMu.Unlock()
		})
	}
}

// PendingWrites reports how many remote writes are queued but not started.
func (e *Engine) PendingWrites() int {
	if e.writer == nil {
		return 0
	}
	return e.writer.pending()
}

// Close waits for queued remote writes and releases subscribers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if e.writer != nil {
		e.writer.close()
	}

	e.subsMu.Lock()
	for ch := range e.subs {
		close(ch)
	}
	e.subs = nil
	e.subsMu.Unlock()
}

func (e *Engine) ownedByCurrent(t domain.Task) bool {
	uid, ok := e.identity.CurrentIdentity()
	return ok && t.UserID != "" && t.UserID == uid
}

// dispatch hands a write to the configured policy. Callers hold e.mu.
func (e *Engine) dispatch(ctx context.Context, job writeJob) {
	e.seq++
	job.seq = e.seq
	e.latest[job.taskID] = job.seq

	if e.policy == WriteThrough || e.writer == nil {
		err := applyWrite(ctx, e.store, e.writeTimeout, job)
		if err != nil {
			e.logger.WithError(err).Errorf("remote %s failed, task: %s", job.kind, job.taskID)
		}
		e.finishWrite(job, err)
		return
	}
	if err := e.writer.enqueue(job); err != nil {
		e.finishWrite(job, err)
	}
}

// writeDone runs on the writer goroutine when a queued write finishes.
func (e *Engine) writeDone(job writeJob, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishWrite(job, err)
}

// finishWrite records the outcome of a write. Callers hold e.mu.
func (e *Engine) finishWrite(job writeJob, err error) {
	if err != nil {
		e.report(domain.NotifyRemoteWrite, job.taskID, &domain.RemoteWriteError{Op: job.kind.String(), TaskID: job.taskID, Err: err})
	}
	if e.latest[job.taskID] != job.seq {
		return
	}
	delete(e.latest, job.taskID)
	if job.kind == writeDelete {
		return
	}

	state := domain.SyncSynced
	if err != nil {
		state = domain.SyncFailed
	}
	tasks := e.Tasks()
	i := indexOf(tasks, job.taskID)
	if i < 0 || tasks[i].Sync == state {
		return
	}
	next := make([]domain.Task, len(tasks))
	copy(next, tasks)
	next[i].Sync = state
	e.replace(next)
}

func (e *Engine) report(kind domain.NotificationKind, taskID string, err error) {
	e.notifier.Notify(domain.Notification{
		Kind:    kind,
		TaskID:  taskID,
		Message: err.Error(),
		At:      e.now(),
		Err:     err,
	})
}

// replace swaps in a new task slice and signals subscribers. Callers hold e.mu.
func (e *Engine) replace(tasks []domain.Task) {
	e.tasks.Store(&tasks)

	e.subsMu.Lock()
	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	e.subsMu.Unlock()
}

func appendTask(tasks []domain.Task, t domain.Task) []domain.Task {
	next := make([]domain.Task, 0, len(tasks)+1)
	next = append(next, tasks...)
	return append(next, t)
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

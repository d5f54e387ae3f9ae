package board

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"taskboard/domain"
)

const tracerName = "taskboard/board"

type writeKind int

const (
	writeUpdate writeKind = iota
	writeDelete
)

func (k writeKind) String() string {
	if k == writeDelete {
		return "delete"
	}
	return "update"
}

type writeJob struct {
	kind   writeKind
	taskID string
	seq    uint64
	record domain.Record
	queued time.Time
}

var errWriterClosed = errors.New("remote writer closed")

// writer applies remote writes one at a time in the order they were queued.
// The queue is unbounded so that queueing never blocks a board mutation.
type writer struct {
	store   DocumentStore
	logger  *log.Logger
	timeout time.Duration
	onDone  func(job writeJob, err error)

	mu      sync.Mutex
	queue   []writeJob
	closing bool
	wake    chan struct{}
	wg      sync.WaitGroup
}

func newWriter(store DocumentStore, logger *log.Logger, timeout time.Duration, onDone func(writeJob, error)) *writer {
	w := &writer{
		store:   store,
		logger:  logger,
		timeout: timeout,
		onDone:  onDone,
		wake:    make(chan struct{}, 1),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) enqueue(job writeJob) error {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return errWriterClosed
	}
	job.queued = time.Now()
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *writer) next() (writeJob, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return writeJob{}, false, w.closing
	}
	job := w.queue[0]
	w.queue[0] = writeJob{}
	w.queue = w.queue[1:]
	return job, true, false
}

func (w *writer) run() {
	defer w.wg.Done()
	for {
		job, ok, closed := w.next()
		if closed {
			return
		}
		if !ok {
			<-w.wake
			continue
		}
		err := applyWrite(context.Background(), w.store, w.timeout, job)
		if err != nil {
			w.logger.WithError(err).Errorf("remote %s failed, task: %s, queued_for: %v", job.kind, job.taskID, time.Since(job.queued))
		}
		if w.onDone != nil {
			w.onDone(job, err)
		}
	}
}

// applyWrite runs a single write against the store.
func applyWrite(ctx context.Context, store DocumentStore, timeout time.Duration, job writeJob) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.remote_write")
	defer span.End()
	span.SetAttributes(
		attribute.String("board.write.kind", job.kind.String()),
		attribute.String("board.task_id", job.taskID),
	)

	var err error
	switch job.kind {
	case writeDelete:
		err = store.Delete(ctx, domain.TasksCollection, job.taskID)
	default:
		err = store.Update(ctx, domain.TasksCollection, job.taskID, job.record)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// pending returns the number of queued writes not yet started.
func (w *writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// close stops accepting writes, drains the queue and waits for the worker.
func (w *writer) close() {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.closing = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.wg.Wait()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// BoardsCollection holds saved anonymous boards, one document per session key.
const BoardsCollection = "boards"

const (
	fieldSessionKey = "sessionKey"
	fieldTasks      = "tasks"
	fieldSavedAt    = "savedAt"
)

// BoardSnapshots keeps the local-only tasks of anonymous sessions in a
// document store so they outlive the in-memory session. Each board is stored
// as a single JSON encoded property.
type BoardSnapshots struct {
	base backend
	now  func() time.Time

	mu  sync.Mutex
	ids map[string]string
}

func NewBoardSnapshots(base backend) *BoardSnapshots {
	if base == nil {
		panic("storage.NewBoardSnapshots: base store is nil")
	}
	return &BoardSnapshots{base: base, now: time.Now, ids: make(map[string]string)}
}

// SaveBoard stores tasks under key, replacing any earlier board.
func (b *BoardSnapshots) SaveBoard(ctx context.Context, key string, tasks []domain.Task) error {
	if key == "" {
		return errors.New("empty board key")
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	record := domain.Record{
		fieldSessionKey: key,
		fieldTasks:      string(data),
		fieldSavedAt:    b.now().UTC().Format(time.RFC3339Nano),
	}

	id, err := b.documentID(ctx, key)
	if err != nil {
		return err
	}
	if id != "" {
		err = b.base.Update(ctx, BoardsCollection, id, record)
		if !errors.Is(err, ErrDocumentNotFound) {
			return err
		}
		b.forget(key)
	}
	id, err = b.base.Insert(ctx, BoardsCollection, record)
	if err != nil {
		return err
	}
	b.remember(key, id)
	return nil
}

// LoadBoard returns the tasks saved under key. A key with no saved board
// yields no tasks and no error.
func (b *BoardSnapshots) LoadBoard(ctx context.Context, key string) ([]domain.Task, error) {
	docs, err := b.base.QueryByField(ctx, BoardsCollection, fieldSessionKey, key)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		b.forget(key)
		return nil, nil
	}
	doc := docs[len(docs)-1]
	b.remember(key, doc.ID)

	var tasks []domain.Task
	if err := sonic.UnmarshalString(doc.Record.String(fieldTasks), &tasks); err != nil {
		return nil, fmt.Errorf("decode board %s: %w", key, err)
	}
	return tasks, nil
}

// DeleteBoard removes the board saved under key.
func (b *BoardSnapshots) DeleteBoard(ctx context.Context, key string) error {
	docs, err := b.base.QueryByField(ctx, BoardsCollection, fieldSessionKey, key)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := b.base.Delete(ctx, BoardsCollection, doc.ID); err != nil {
			return err
		}
	}
	b.forget(key)
	return nil
}

func (b *BoardSnapshots) documentID(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	id, ok := b.ids[key]
	b.mu.Unlock()
	if ok {
		return id, nil
	}
	docs, err := b.base.QueryByField(ctx, BoardsCollection, fieldSessionKey, key)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	id = docs[len(docs)-1].ID
	b.remember(key, id)
	return id, nil
}

func (b *BoardSnapshots) remember(key, id string) {
	b.mu.Lock()
	b.ids[key] = id
	b.mu.Unlock()
}

func (b *BoardSnapshots) forget(key string) {
	b.mu.Lock()
	delete(b.ids, key)
	b.mu.Unlock()
}

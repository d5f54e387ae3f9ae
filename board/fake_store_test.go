package board

import (
	"context"
	"fmt"
	"sync"

	"taskboard/domain"
)

type storeCall struct {
	op     string
	id     string
	record domain.Record
}

// fakeStore is an in-memory DocumentStore recording every call.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]domain.Record
	order    []string
	calls    []storeCall
	nextID   int
	insertFn func(record domain.Record) error
	updateFn func(id string, record domain.Record) error
	deleteFn func(id string) error
	queryErr error
	block    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]domain.Record{}}
}

func (f *fakeStore) Insert(ctx context.Context, collection string, record domain.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{op: "insert", record: record.Clone()})
	if f.insertFn != nil {
		if err := f.insertFn(record); err != nil {
			return "", err
		}
	}
	f.nextID++
	id := fmt.Sprintf("doc-%d", f.nextID)
	f.docs[id] = record.Clone()
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeStore) Update(ctx context.Context, collection, id string, partial domain.Record) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{op: "update", id: id, record: partial.Clone()})
	if f.updateFn != nil {
		if err := f.updateFn(id, partial); err != nil {
			return err
		}
	}
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	for k, v := range partial {
		doc[k] = v
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, collection, id string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{op: "delete", id: id})
	if f.deleteFn != nil {
		if err := f.deleteFn(id); err != nil {
			return err
		}
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{op: "query"})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []domain.Document
	for _, id := range f.order {
		doc, ok := f.docs[id]
		if !ok || doc[field] != value {
			continue
		}
		out = append(out, domain.Document{ID: id, Record: doc.Clone()})
	}
	return out, nil
}

func (f *fakeStore) callsOf(op string) []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storeCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) allCalls() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storeCall(nil), f.calls...)
}

type notificationLog struct {
	mu   sync.Mutex
	list []domain.Notification
}

func (n *notificationLog) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

func (n *notificationLog) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.list...)
}

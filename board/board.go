package board

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// DocumentStore is the remote persistence used for signed-in identities.
type DocumentStore interface {
	// Insert stores record and returns the id the store assigned to it.
	Insert(ctx context.Context, collection string, record domain.Record) (string, error)
	// Update merges partial into the document with the given id.
	Update(ctx context.Context, collection, id string, partial domain.Record) error
	Delete(ctx context.Context, collection, id string) error
	QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error)
}

// IdentityProvider supplies the identity the board acts for.
type IdentityProvider interface {
	CurrentIdentity() (string, bool)
}

// StaticIdentity is a fixed identity. The empty value is anonymous.
type StaticIdentity string

func (s StaticIdentity) CurrentIdentity() (string, bool) {
	return string(s), s != ""
}

// Anonymous returns an identity provider for a signed-out session.
func Anonymous() IdentityProvider {
	return StaticIdentity("")
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func() (string, bool)

func (f IdentityFunc) CurrentIdentity() (string, bool) { return f() }

// WritePolicy decides how remote updates and deletes relate to the operation
// that caused them. Memory is always updated first and never rolled back.
type WritePolicy int

const (
	// FireAndForget queues remote writes on an ordered background writer.
	FireAndForget WritePolicy = iota
	// WriteThrough waits for the remote write before the operation returns.
	WriteThrough
)

func (p WritePolicy) String() string {
	switch p {
	case FireAndForget:
		return "fire-and-forget"
	case WriteThrough:
		return "write-through"
	}
	return "unknown"
}

// ParseWritePolicy maps a config value to a WritePolicy.
func ParseWritePolicy(raw string) (WritePolicy, bool) {
	switch raw {
	case "", "fire-and-forget", "async":
		return FireAndForget, true
	case "write-through", "sync":
		return WriteThrough, true
	}
	return FireAndForget, false
}

type Option func(*Engine)

func WithPolicy(p WritePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the generator of ids for local-only tasks.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithWriteTimeout bounds each background remote write. Zero means no bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
)

const maxSessionNotifications = 32

// EngineFactory builds the engine of a new session. notifier must receive the
// engine's notifications so they reach the session's client.
type EngineFactory func(identity board.IdentityProvider, notifier board.Notifier) *board.Engine

// Session is one board held in memory for a signed-in user or an anonymous client.
type Session struct {
	Key    string
	UserID string
	Engine *board.Engine

	notes    *notificationBuffer
	lastSeen atomic.Int64
	streams  atomic.Int32
	ready    chan struct{}

	loadMu sync.Mutex
	loaded bool
	saveMu sync.Mutex
}

// Drain returns and clears the notifications gathered since the last call.
func (s *Session) Drain() []domain.Notification {
	return s.notes.drain()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

type notificationBuffer struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (b *notificationBuffer) Notify(n domain.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == maxSessionNotifications {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, n)
}

func (b *notificationBuffer) drain() []domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []domain.Notification{}
	}
	return out
}

// BoardStore keeps the boards of anonymous sessions between sessions.
type BoardStore interface {
	SaveBoard(ctx context.Context, key string, tasks []domain.Task) error
	LoadBoard(ctx context.Context, key string) ([]domain.Task, error)
}

type SessionsOption func(*Sessions)

// WithBoardStore persists anonymous boards in boards so that they survive an
// idle sweep or a restart.
func WithBoardStore(boards BoardStore) SessionsOption {
	return func(s *Sessions) {
		s.boards = boards
	}
}

// Sessions maps request identities to engines and closes idle ones.
type Sessions struct {
	factory EngineFactory
	idleTTL time.Duration
	logger  *log.Logger
	now     func() time.Time
	boards  BoardStore

	mu       sync.Mutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSessions(factory EngineFactory, idleTTL time.Duration, logger *log.Logger, opts ...SessionsOption) *Sessions {
	if factory == nil {
		panic("api.NewSessions: engine factory is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Sessions{
		factory:  factory,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(userID, anonID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "anon:" + anonID
}

// Get returns the session for userID, or for anonID when userID is empty.
// A signed-in session loads its tasks, and an anonymous one restores its
// saved board, before it is handed out. A failed load is retried by the
// next Get.
func (s *Sessions) Get(ctx context.Context, userID, anonID string) (*Session, error) {
	key := sessionKey(userID, anonID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		notes := &notificationBuffer{}
		var identity board.IdentityProvider = board.Anonymous()
		if userID != "" {
			identity = board.StaticIdentity(userID)
		}
		sess = &Session{
			Key:    key,
			UserID: userID,
			Engine: s.factory(identity, notes),
			notes:  notes,
			ready:  make(chan struct{}),
		}
		s.sessions[key] = sess
	}
	sess.touch(s.now())
	s.mu.Unlock()

	if !ok {
		s.load(ctx, sess)
		close(sess.ready)
		s.logger.WithField("session", key).Debug("session opened")
		return sess, nil
	}

	select {
	case <-sess.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.load(ctx, sess)
	return sess, nil
}

// load fills a session's board once. Failures leave the session unloaded so
// a later request tries again.
func (s *Sessions) load(ctx context.Context, sess *Session) {
	sess.loadMu.Lock()
	defer sess.loadMu.Unlock()
	if sess.loaded {
		return
	}

	logger := s.logger.WithField("session", sess.Key)
	if sess.UserID != "" {
		if err := sess.Engine.LoadUserTasks(ctx); err != nil {
			// Already reported through the session's notifications.
			logger.WithError(err).Warn("initial load failed")
			return
		}
		sess.loaded = true
		return
	}

	if s.boards == nil {
		sess.loaded = true
		return
	}
	saved, err := s.boards.LoadBoard(ctx, sess.Key)
	if err != nil {
		logger.WithError(err).Warn("restore board failed")
		sess.notes.Notify(domain.Notification{
			Kind:    domain.NotifyRemoteRead,
			Message: "saved board could not be restored: " + err.Error(),
			At:      s.now(),
			Err:     err,
		})
		return
	}
	// Tasks added while the board could not be read are kept after the saved ones.
	current := sess.Engine.Tasks()
	if len(current) > 0 {
		have := make(map[string]bool, len(saved))
		for _, t := range saved {
			have[t.ID] = true
		}
		for _, t := range current {
			if !have[t.ID] {
				saved = append(saved, t)
			}
		}
	}
	n := sess.Engine.Restore(saved)
	sess.loaded = true
	logger.WithField("tasks", n).Debug("board restored")
}

// Reload replaces a session's board with its stored state and marks it
// loaded. An anonymous session without a board store is cleared.
func (s *Sessions) Reload(ctx context.Context, sess *Session) error {
	sess.loadMu.Lock()
	defer sess.loadMu.Unlock()

	if sess.UserID == "" && s.boards != nil {
		saved, err := s.boards.LoadBoard(ctx, sess.Key)
		if err != nil {
			return &domain.RemoteReadError{Err: err}
		}
		sess.Engine.Restore(saved)
		sess.loaded = true
		return nil
	}
	if err := sess.Engine.LoadUserTasks(ctx); err != nil {
		return err
	}
	sess.loaded = true
	return nil
}

// Save writes an anonymous session's board to the board store. It does
// nothing for signed-in sessions, without a board store, or before the saved
// board was restored, so a failed restore never overwrites it.
func (s *Sessions) Save(ctx context.Context, sess *Session) {
	if sess.UserID != "" || s.boards == nil {
		return
	}
	sess.loadMu.Lock()
	loaded := sess.loaded
	sess.loadMu.Unlock()
	if !loaded {
		return
	}

	sess.saveMu.Lock()
	defer sess.saveMu.Unlock()
	if err := s.boards.SaveBoard(ctx, sess.Key, sess.Engine.Tasks()); err != nil {
		s.logger.WithError(err).WithField("session", sess.Key).Warn("save board failed")
	}
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the idle TTL and returns how
// many were closed. Sessions with an open stream are never idle.
func (s *Sessions) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL).UnixNano()

	s.mu.Lock()
	var idle []*Session
	for key, sess := range s.sessions {
		if sess.streams.Load() > 0 || sess.lastSeen.Load() > cutoff {
			continue
		}
		delete(s.sessions, key)
		idle = append(idle, sess)
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.Save(context.Background(), sess)
		sess.Engine.Close()
		s.logger.WithField("session", sess.Key).Debug("idle session closed")
	}
	return len(idle)
}

// StartJanitor sweeps idle sessions every interval until Close.
func (s *Sessions) StartJanitor(interval time.Duration) {
	if interval <= 0 || s.idleTTL <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Infof("closed %d idle sessions", n)
				}
			}
		}
	}()
}

// Close stops the janitor and closes every session, draining queued writes.
func (s *Sessions) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		s.Save(context.Background(), sess)
		sess.Engine.Close()
	}
}

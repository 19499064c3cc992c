// Package memory holds the three scopes of ticket context: ephemeral state
// for one processing attempt, the session conversation log, and durable
// per-user facts that survive sessions.
//
// The state and session scopes live in process. The long-term scope is
// delegated to a LongTermBackend (Postgres, SQLite, or in-memory) behind a
// short-TTL read cache.
package memory

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// ErrNotFound is returned for missing or expired sessions, state keys, and
// long-term records.
var ErrNotFound = errors.New("memory: not found")

// lockStripes is the number of mutexes long-term writes are hashed across.
const lockStripes = 64

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	SessionTTL    time.Duration // idle time before a session expires (24h)
	SweepInterval time.Duration // how often expired sessions are evicted (1m)
	CacheTTL      time.Duration // long-term read cache TTL (5m, negative disables)
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// session is the in-process record behind a SessionContext. mu serializes
// every mutation of one session; Store.mu only guards the map itself.
type session struct {
	mu    sync.Mutex
	ctx   model.SessionContext
	state map[string]*model.MemoryEntry
}

type cachedRecord struct {
	rec       *model.LongTermRecord
	expiresAt time.Time
}

// Store is safe for concurrent use. Call Start to run the expiry sweep and
// Close to stop it.
type Store struct {
	opts    Options
	backend LongTermBackend
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	stripes [lockStripes]sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]cachedRecord
	loads   singleflight.Group

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a Store. backend may be nil, in which case long-term records
// are kept in an in-process MapBackend.
func New(backend LongTermBackend, opts Options, logger *slog.Logger) *Store {
	if backend == nil {
		backend = NewMapBackend()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		opts:     opts.withDefaults(),
		backend:  backend,
		logger:   logger,
		sessions: make(map[string]*session),
		cache:    make(map[string]cachedRecord),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the background sweep. Safe to call more than once.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.sweepLoop()
	})
}

// Close stops the sweep and waits for it to exit. Safe to call multiple
// times, and without Start.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.started.Load() {
			<-s.stopped
		}
	})
	return nil
}

func (s *Store) sweepLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.CleanupExpired(); n > 0 {
				s.logger.Debug("memory: expired sessions evicted", "count", n)
			}
		}
	}
}

// CleanupExpired removes every session idle longer than the session TTL,
// together with its state, and drops expired cache entries. It returns the
// number of sessions removed.
func (s *Store) CleanupExpired() int {
	now := s.opts.Now()

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := s.expired(sess, now)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	s.cacheMu.Lock()
	for k, c := range s.cache {
		if now.After(c.expiresAt) {
			delete(s.cache, k)
		}
	}
	s.cacheMu.Unlock()
	return removed
}

// Stats reports the current in-process footprint.
func (s *Store) Stats() model.MemoryStats {
	s.mu.RLock()
	var st model.MemoryStats
	st.ActiveSessions = len(s.sessions)
	for _, sess := range s.sessions {
		sess.mu.Lock()
		st.StateEntries += len(sess.state)
		sess.mu.Unlock()
	}
	s.mu.RUnlock()

	s.cacheMu.RLock()
	st.CachedRecords = len(s.cache)
	s.cacheMu.RUnlock()
	return st
}

// expired must be called with sess.mu held.
func (s *Store) expired(sess *session, now time.Time) bool {
	return now.Sub(sess.ctx.LastActivity) > s.opts.SessionTTL
}

func (s *Store) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%lockStripes]
}

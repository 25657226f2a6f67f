package search

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Store defaults.
const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 10000

	maxSweepInterval = time.Minute
	minSweepInterval = 5 * time.Millisecond
)

// StoreConfig configures a Store.
type StoreConfig struct {
	Searcher Searcher

	// TTL is how long an idle session is kept. Any use of the session renews it.
	TTL time.Duration

	// MaxSessions bounds memory; the least recently used session is evicted first.
	MaxSessions int

	Metrics *Metrics
	Logger  zerolog.Logger
}

// Store holds live sessions in memory. Sessions are never persisted.
//
// Idle expiry is tracked on the session itself, so renewing a session never
// re-inserts it: a session removed by Delete, capacity eviction or expiry
// stays removed.
type Store struct {
	searcher Searcher
	ttl      time.Duration
	metrics  *Metrics
	logger   zerolog.Logger

	// mu makes expiry checks and removals atomic with renewals.
	mu       sync.Mutex
	sessions *lru.Cache[string, *Session]

	stop     chan struct{}
	stopOnce sync.Once
	swept    chan struct{}
}

// NewStore creates a session store and starts its expiry sweeper.
// Call Close to stop it.
func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	size := cfg.MaxSessions
	if size <= 0 {
		size = DefaultMaxSessions
	}

	st := &Store{
		searcher: cfg.Searcher,
		ttl:      ttl,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
		swept:    make(chan struct{}),
	}
	// Size is always positive here, so construction cannot fail.
	st.sessions, _ = lru.NewWithEvict[string, *Session](size, st.onEvict)

	go st.sweepLoop(min(max(ttl/2, minSweepInterval), maxSweepInterval))
	return st
}

// Create starts a new empty session.
func (st *Store) Create() *Session {
	sess := newSession(uuid.NewString(), st.searcher, st.metrics, st.logger)

	st.mu.Lock()
	st.sessions.Add(sess.ID(), sess)
	st.mu.Unlock()

	st.metrics.sessionOpened()
	st.logger.Debug().Str("session_id", sess.ID()).Msg("session created")
	return sess
}

// Get returns a live session and renews it.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions.Get(id)
	if !ok {
		return nil, false
	}
	if st.expired(sess, time.Now()) {
		st.sessions.Remove(id)
		return nil, false
	}
	sess.touch()
	return sess, true
}

// Touch renews a live session, reporting whether it still exists.
func (st *Store) Touch(id string) bool {
	_, ok := st.Get(id)
	return ok
}

// Delete closes and removes a session.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions.Remove(id)
}

// Len returns the number of sessions held, including idle ones the sweeper
// has not reached yet.
func (st *Store) Len() int {
	return st.sessions.Len()
}

// Close stops the sweeper and closes every session.
func (st *Store) Close() {
	st.stopOnce.Do(func() {
		close(st.stop)
		<-st.swept
	})

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions.Purge()
}

func (st *Store) sweepLoop(interval time.Duration) {
	defer close(st.swept)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case now := <-ticker.C:
			st.sweep(now)
		}
	}
}

// sweep removes every session idle for longer than the TTL.
func (st *Store) sweep(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range st.sessions.Keys() {
		if sess, ok := st.sessions.Peek(id); ok && st.expired(sess, now) {
			st.sessions.Remove(id)
		}
	}
}

func (st *Store) expired(sess *Session, now time.Time) bool {
	return sess.idle(now) > st.ttl
}

func (st *Store) onEvict(id string, sess *Session) {
	if !sess.Close() {
		return
	}
	st.metrics.sessionClosed()
	st.logger.Debug().Str("session_id", id).Msg("session closed")
}

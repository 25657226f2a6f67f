package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/geocoding"
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/selection"
)

// ErrSessionClosed is returned by operations on an expired or closed session.
var ErrSessionClosed = errors.New("session closed")

// Notice is an informational status attached to a snapshot.
type Notice string

const (
	NoticeNone     Notice = ""
	NoticeNoRoutes Notice = "no_routes"
)

// Searcher runs one search; satisfied by *Service.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// Snapshot is an immutable published view of a session.
type Snapshot struct {
	SessionID   string
	Version     uint64
	Profile     ranking.Profile
	State       selection.State
	Source      *geocoding.Place
	Destination *geocoding.Place
	Notice      Notice
	UpdatedAt   time.Time
}

// Session is the single owner of one user's selection state. Every mutation
// is applied under its lock through the selection reducer; searches run
// outside the lock and only publish if no newer search has started since.
type Session struct {
	id       string
	searcher Searcher
	metrics  *Metrics
	logger   zerolog.Logger

	// lastSeen is the UnixNano time of the last use.
	lastSeen atomic.Int64

	mu           sync.Mutex
	snap         Snapshot
	generation   uint64
	cancelSearch context.CancelFunc
	subs         map[uint64]chan Snapshot
	nextSub      uint64
	closed       bool
}

func newSession(id string, searcher Searcher, metrics *Metrics, logger zerolog.Logger) *Session {
	profile, _ := ranking.LookupProfile(ranking.DefaultProfile)
	sess := &Session{
		id:       id,
		searcher: searcher,
		metrics:  metrics,
		logger:   logger.With().Str("session_id", id).Logger(),
		snap: Snapshot{
			SessionID: id,
			Profile:   profile,
			UpdatedAt: time.Now(),
		},
		subs: make(map[uint64]chan Snapshot),
	}
	sess.touch()
	return sess
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// idle returns how long the session has gone unused as of now.
func (s *Session) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Search runs a new search and publishes its result. Starting a search
// cancels any search still in flight on this session; the superseded call
// returns ErrSuperseded and publishes nothing. On any error other than
// ErrNoRoutesFound the published state is left unchanged.
//
// When q.Profile is empty the session's active profile is used, and a
// profile change made while the search was running is applied to its result.
func (s *Session) Search(ctx context.Context, q Query) (Snapshot, error) {
	explicitProfile := q.Profile != ""
	s.touch()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if !explicitProfile {
		q.Profile = s.snap.Profile.ID
	}
	s.generation++
	gen := s.generation
	if s.cancelSearch != nil {
		s.cancelSearch()
	}
	searchCtx, cancel := context.WithCancel(ctx)
	s.cancelSearch = cancel
	s.mu.Unlock()
	defer cancel()

	result, err := s.searcher.Search(searchCtx, q)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	if gen != s.generation {
		s.metrics.recordSuperseded()
		s.logger.Debug().Uint64("generation", gen).Msg("discarding superseded search result")
		return Snapshot{}, ErrSuperseded
	}
	s.cancelSearch = nil

	if err != nil && !errors.Is(err, ErrNoRoutesFound) {
		return s.snap, err
	}

	next := s.snap
	next.Notice = NoticeNone
	if result == nil {
		next.State = selection.OnNewSearchResult(nil)
		next.Source, next.Destination = nil, nil
	} else {
		next.Profile = result.Profile
		next.State = result.State
		if !explicitProfile && s.snap.Profile.ID != result.Profile.ID {
			next.Profile = s.snap.Profile
			next.State = selection.Reduce(result.State, selection.ProfileChanged{Profile: s.snap.Profile})
		}
		source, destination := result.Source, result.Destination
		next.Source = &source
		next.Destination = &destination
	}
	if errors.Is(err, ErrNoRoutesFound) {
		next.Notice = NoticeNoRoutes
	}

	return s.publishLocked(next), err
}

// Dispatch applies e through the selection reducer and publishes the result.
func (s *Session) Dispatch(e selection.Event) (Snapshot, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}

	next := s.snap
	next.State = selection.Reduce(s.snap.State, e)
	switch e := e.(type) {
	case selection.ProfileChanged:
		next.Profile = e.Profile
	case selection.NewSearchResult:
		// The routes no longer come from the previous search's endpoints.
		next.Source, next.Destination = nil, nil
		next.Notice = NoticeNone
		if len(e.Ranked) == 0 {
			next.Notice = NoticeNoRoutes
		}
	}

	return s.publishLocked(next), nil
}

// SetProfile switches the active profile, re-ranking the current routes and
// selecting the new top route.
func (s *Session) SetProfile(id ranking.ProfileID) (Snapshot, error) {
	profile, ok := ranking.LookupProfile(id)
	if !ok {
		return Snapshot{}, ranking.ErrUnknownProfile
	}
	return s.Dispatch(selection.ProfileChanged{Profile: profile})
}

// Select highlights routeID, reporting selection.ErrInvalidSelection for ids
// not in the current result.
func (s *Session) Select(routeID string) (Snapshot, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}

	state, err := selection.Select(s.snap.State, routeID)
	if err != nil {
		return s.snap, err
	}

	next := s.snap
	next.State = state
	return s.publishLocked(next), nil
}

// Subscribe returns a channel that receives the current snapshot immediately
// and every snapshot published afterwards. Slow subscribers only see the
// latest snapshot. The channel is closed by the returned cancel function or
// when the session closes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snap

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close cancels any in-flight search and releases subscribers. It reports
// whether this call closed the session.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	if s.cancelSearch != nil {
		s.cancelSearch()
		s.cancelSearch = nil
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return true
}

func (s *Session) publishLocked(next Snapshot) Snapshot {
	next.Version = s.snap.Version + 1
	next.UpdatedAt = time.Now()
	s.snap = next

	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
			// Replace the stale pending snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}

	return next
}

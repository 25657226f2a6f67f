package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/routing"
	"github.com/driveprofile/driveprofile/internal/selection"
)

func newTestSession(dir *fakeDirections) *Session {
	return newSession("test-session", newTestService(newFakeGeocoder(), dir), nil, zerolog.Nop())
}

func amsterdamUtrecht() Query {
	return Query{Source: "Amsterdam", Destination: "Utrecht"}
}

func rankedIDs(s selection.State) []string {
	out := make([]string, len(s.Ranked))
	for i, r := range s.Ranked {
		out[i] = r.ID
	}
	return out
}

func TestSession_InitialSnapshot(t *testing.T) {
	sess := newTestSession(&fakeDirections{})

	snap := sess.Snapshot()

	assert.Equal(t, "test-session", snap.SessionID)
	assert.Equal(t, ranking.DefaultProfile, snap.Profile.ID)
	assert.Equal(t, selection.PhaseEmpty, snap.State.Phase())
	assert.Equal(t, uint64(0), snap.Version)
}

func TestSession_SearchPublishes(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})

	snap, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, rankedIDs(snap.State))
	assert.Equal(t, "A", snap.State.SelectedID)
	assert.Equal(t, uint64(1), snap.Version)
	require.NotNil(t, snap.Source)
	assert.Equal(t, "Amsterdam", snap.Source.DisplayName)
	assert.Equal(t, NoticeNone, snap.Notice)
	assert.Equal(t, snap, sess.Snapshot())
}

func TestSession_SearchUsesActiveProfile(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})

	_, err := sess.SetProfile(ranking.ProfileScenic)
	require.NoError(t, err)

	snap, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	assert.Equal(t, ranking.ProfileScenic, snap.Profile.ID)
	assert.Equal(t, []string{"B", "A"}, rankedIDs(snap.State))
}

func TestSession_ProfileChangeResetsSelection(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})
	_, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	snap, err := sess.Select("B")
	require.NoError(t, err)
	assert.Equal(t, "B", snap.State.SelectedID)

	snap, err = sess.SetProfile(ranking.ProfileFast)
	require.NoError(t, err)
	assert.Equal(t, "A", snap.State.SelectedID)
	assert.Equal(t, []string{"A", "B"}, rankedIDs(snap.State))

	_, err = sess.SetProfile("offroad")
	assert.ErrorIs(t, err, ranking.ErrUnknownProfile)
}

func TestSession_SelectUnknownRoute(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})
	before, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	snap, err := sess.Select("Z")

	assert.ErrorIs(t, err, selection.ErrInvalidSelection)
	assert.Equal(t, before, snap)
	assert.Equal(t, before.Version, sess.Snapshot().Version, "nothing is published")
}

func TestSession_NoRoutesPublishesEmpty(t *testing.T) {
	dir := &fakeDirections{routes: scenarioRaw()}
	sess := newTestSession(dir)
	_, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	dir.mu.Lock()
	dir.routes = []routing.RawRoute{}
	dir.mu.Unlock()

	snap, err := sess.Search(context.Background(), amsterdamUtrecht())

	assert.ErrorIs(t, err, ErrNoRoutesFound)
	assert.Equal(t, selection.PhaseEmpty, snap.State.Phase())
	assert.Empty(t, snap.State.SelectedID)
	assert.Equal(t, NoticeNoRoutes, snap.Notice)
}

func TestSession_FailedSearchKeepsState(t *testing.T) {
	dir := &fakeDirections{routes: scenarioRaw()}
	sess := newTestSession(dir)
	before, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	_, err = sess.Search(context.Background(), Query{Source: "Atlantis", Destination: "Utrecht"})
	assert.ErrorIs(t, err, ErrLocationNotFound)
	assert.Equal(t, before, sess.Snapshot())

	dir.mu.Lock()
	dir.err = &routing.Error{Provider: "fake", Err: routing.ErrProviderUnavailable}
	dir.mu.Unlock()

	_, err = sess.Search(context.Background(), amsterdamUtrecht())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, before, sess.Snapshot())
}

func TestSession_NewerSearchSupersedes(t *testing.T) {
	dir := &fakeDirections{routes: scenarioRaw(), block: make(chan struct{})}
	sess := newTestSession(dir)

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = sess.Search(context.Background(), amsterdamUtrecht())
	}()

	require.Eventually(t, func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.calls == 1
	}, time.Second, 5*time.Millisecond)

	dir.mu.Lock()
	dir.block = nil
	dir.mu.Unlock()

	snap, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)

	wg.Wait()
	assert.ErrorIs(t, firstErr, ErrSuperseded)
	assert.Equal(t, snap, sess.Snapshot())
	assert.Equal(t, uint64(1), sess.Snapshot().Version, "only the newest search publishes")
}

func TestSession_ProfileChangeDuringSearch(t *testing.T) {
	release := make(chan struct{})
	dir := &fakeDirections{routes: scenarioRaw(), block: release}
	sess := newTestSession(dir)

	done := make(chan Snapshot)
	go func() {
		snap, _ := sess.Search(context.Background(), amsterdamUtrecht())
		done <- snap
	}()

	require.Eventually(t, func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.calls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := sess.SetProfile(ranking.ProfileScenic)
	require.NoError(t, err)
	close(release)

	snap := <-done
	assert.Equal(t, ranking.ProfileScenic, snap.Profile.ID)
	assert.Equal(t, []string{"B", "A"}, rankedIDs(snap.State))
	assert.Equal(t, "B", snap.State.SelectedID)
}

func TestSession_Subscribe(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})

	updates, cancel := sess.Subscribe()
	defer cancel()

	initial := <-updates
	assert.Equal(t, uint64(0), initial.Version)

	_, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)
	_, err = sess.Select("B")
	require.NoError(t, err)

	latest := <-updates
	assert.Equal(t, uint64(2), latest.Version, "slow subscribers only see the newest snapshot")
	assert.Equal(t, "B", latest.State.SelectedID)

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestSession_Dispatch(t *testing.T) {
	sess := newTestSession(&fakeDirections{})
	scenic, _ := ranking.LookupProfile(ranking.ProfileScenic)

	routes := ranking.Enrich(scenarioRaw(), "Amsterdam", "Utrecht", letterIDs())
	snap, err := sess.Dispatch(selection.NewSearchResult{Ranked: routes})
	require.NoError(t, err)
	assert.Equal(t, "A", snap.State.SelectedID)

	snap, err = sess.Dispatch(selection.ProfileChanged{Profile: scenic})
	require.NoError(t, err)
	assert.Equal(t, ranking.ProfileScenic, snap.Profile.ID)
	assert.Equal(t, "B", snap.State.SelectedID)

	snap, err = sess.Dispatch(selection.ManualSelect{RouteID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, "B", snap.State.SelectedID)

	snap, err = sess.Dispatch(selection.NewSearchResult{})
	require.NoError(t, err)
	assert.Equal(t, NoticeNoRoutes, snap.Notice)
}

func TestSession_DispatchNewResultClearsEndpoints(t *testing.T) {
	sess := newTestSession(&fakeDirections{routes: scenarioRaw()})

	snap, err := sess.Search(context.Background(), amsterdamUtrecht())
	require.NoError(t, err)
	require.NotNil(t, snap.Source)
	require.NotNil(t, snap.Destination)

	routes := ranking.Enrich(scenarioRaw(), "Rotterdam", "Den Haag", letterIDs())
	snap, err = sess.Dispatch(selection.NewSearchResult{Ranked: routes})
	require.NoError(t, err)

	assert.Nil(t, snap.Source, "endpoints of the previous search must not describe new routes")
	assert.Nil(t, snap.Destination)
	assert.Equal(t, []string{"A", "B"}, rankedIDs(snap.State))
}

func TestSession_Close(t *testing.T) {
	dir := &fakeDirections{routes: scenarioRaw(), block: make(chan struct{})}
	sess := newTestSession(dir)

	updates, _ := sess.Subscribe()
	<-updates

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Search(context.Background(), amsterdamUtrecht())
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.calls == 1
	}, time.Second, 5*time.Millisecond)

	sess.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrSessionClosed))
	case <-time.After(time.Second):
		t.Fatal("in-flight search was not canceled")
	}

	_, open := <-updates
	assert.False(t, open)

	_, err := sess.SetProfile(ranking.ProfileSafe)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

// slowProvider answers after delay unless its context ends first.
type slowProvider struct {
	delay time.Duration
	calls atomic.Int32
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) GetDirections(ctx context.Context, _ routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	p.calls.Add(1)
	select {
	case <-time.After(p.delay):
		return &routing.DirectionsResponse{Routes: scenarioRaw(), Provider: "slow"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSession_ClosingOneSessionDoesNotFailAnotherOnSharedRoute(t *testing.T) {
	provider := &slowProvider{delay: 150 * time.Millisecond}
	directions := routing.NewService(routing.ServiceConfig{Provider: provider, Logger: zerolog.Nop()})
	svc := NewService(ServiceConfig{Geocoder: newFakeGeocoder(), Directions: directions, Logger: zerolog.Nop()})

	alice := newSession("alice", svc, nil, zerolog.Nop())
	bob := newSession("bob", svc, nil, zerolog.Nop())

	aliceErr := make(chan error, 1)
	go func() {
		_, err := alice.Search(context.Background(), amsterdamUtrecht())
		aliceErr <- err
	}()
	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, time.Millisecond)

	bobDone := make(chan error, 1)
	var bobSnap Snapshot
	go func() {
		var err error
		bobSnap, err = bob.Search(context.Background(), amsterdamUtrecht())
		bobDone <- err
	}()

	time.Sleep(30 * time.Millisecond)
	alice.Close()

	assert.ErrorIs(t, <-aliceErr, ErrSessionClosed)
	require.NoError(t, <-bobDone)
	assert.Len(t, bobSnap.State.Ranked, 2)
	assert.Equal(t, int32(1), provider.calls.Load())
}

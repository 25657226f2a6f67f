package search

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveprofile/driveprofile/internal/ranking"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(StoreConfig{Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}), Logger: zerolog.Nop()})
	defer store.Close()

	sess := store.Create()
	require.NotEmpty(t, sess.ID())

	got, ok := store.Get(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.Len())

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStore_EvictionClosesSession(t *testing.T) {
	store := NewStore(StoreConfig{
		Searcher:    newTestService(newFakeGeocoder(), &fakeDirections{}),
		MaxSessions: 1,
		Logger:      zerolog.Nop(),
	})
	defer store.Close()

	first := store.Create()
	_ = store.Create()

	_, ok := store.Get(first.ID())
	assert.False(t, ok)

	_, err := first.SetProfile(ranking.ProfileSafe)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStore_Expiry(t *testing.T) {
	store := NewStore(StoreConfig{
		Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}),
		TTL:      30 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})
	defer store.Close()

	sess := store.Create()

	// Len does not renew, so the sweeper is free to expire the session.
	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := store.Get(sess.ID())
	assert.False(t, ok)
	_, err := sess.SetProfile(ranking.ProfileSafe)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStore_UseRenewsTTL(t *testing.T) {
	tests := []struct {
		name  string
		renew func(store *Store, sess *Session)
	}{
		{
			name:  "get",
			renew: func(store *Store, sess *Session) { store.Get(sess.ID()) },
		},
		{
			name:  "touch",
			renew: func(store *Store, sess *Session) { store.Touch(sess.ID()) },
		},
		{
			name: "session event",
			renew: func(_ *Store, sess *Session) {
				_, _ = sess.SetProfile(ranking.ProfileScenic)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(StoreConfig{
				Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}),
				TTL:      80 * time.Millisecond,
				Logger:   zerolog.Nop(),
			})
			defer store.Close()

			sess := store.Create()

			deadline := time.Now().Add(300 * time.Millisecond)
			for time.Now().Before(deadline) {
				tt.renew(store, sess)
				time.Sleep(20 * time.Millisecond)
			}

			assert.Equal(t, 1, store.Len(), "a session in use must not expire")
			assert.True(t, store.Touch(sess.ID()))

			assert.Eventually(t, func() bool {
				return store.Len() == 0
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestStore_TouchMissing(t *testing.T) {
	store := NewStore(StoreConfig{Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}), Logger: zerolog.Nop()})
	defer store.Close()

	assert.False(t, store.Touch("missing"))
}

func TestStore_RenewDoesNotResurrectDeleted(t *testing.T) {
	reader := newMetricsReader(t)
	metrics, err := NewMetrics()
	require.NoError(t, err)

	store := NewStore(StoreConfig{
		Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}),
		Metrics:  metrics,
		Logger:   zerolog.Nop(),
	})
	defer store.Close()

	sess := store.Create()
	require.True(t, store.Delete(sess.ID()))

	assert.False(t, store.Touch(sess.ID()))
	_, ok := store.Get(sess.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())

	// Closing an already closed session must not count it twice.
	assert.False(t, sess.Close())
	got := int64Sums(t, reader, "search.sessions.live", "")
	assert.Equal(t, int64(0), got[""])
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(StoreConfig{Searcher: newTestService(newFakeGeocoder(), &fakeDirections{}), Logger: zerolog.Nop()})
	defer store.Close()

	sess := store.Create()

	assert.True(t, store.Delete(sess.ID()))
	assert.False(t, store.Delete(sess.ID()))
	assert.Equal(t, 0, store.Len())
}

package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	snapshots []session.Session
}

func (r *recorder) record(s session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) all() []session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Session(nil), r.snapshots...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*session.Store, *session.Writer, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, writer := session.NewStore(session.WithNowTime(clock.Now))
	t.Cleanup(store.Close)
	return store, writer, clock
}

func TestStore_StartsAnonymous(t *testing.T) {
	store, _, _ := newTestStore(t)

	current := store.Current()
	require.Equal(t, session.StatusAnonymous, current.Status)
	require.Empty(t, current.UserID)
	require.False(t, current.IsAuthenticated())
}

func TestStore_AuthenticateAndLogout(t *testing.T) {
	store, writer, clock := newTestStore(t)

	err := writer.Authenticate(writer.Generation(), session.Identity{
		UserID:          "u1",
		DisplayIdentity: "a@b.com",
		ExpiresAt:       clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	current := store.Current()
	require.Equal(t, session.StatusAuthenticated, current.Status)
	require.Equal(t, "u1", current.UserID)
	require.Equal(t, clock.Now(), current.IssuedAt)

	store.Logout()
	require.Equal(t, session.StatusAnonymous, store.Current().Status)
	require.Empty(t, store.Current().UserID)
}

func TestStore_StaleGenerationRejected(t *testing.T) {
	store, writer, _ := newTestStore(t)

	generation := writer.Generation()
	store.Logout()

	err := writer.Authenticate(generation, session.Identity{UserID: "u1"})
	require.ErrorIs(t, err, session.ErrStaleGeneration)
	require.Equal(t, session.StatusAnonymous, store.Current().Status)
}

func TestStore_ExpiryDetectedOnRead(t *testing.T) {
	store, writer, clock := newTestStore(t)

	var reasons []session.ResetReason
	writer.OnReset(func(reason session.ResetReason) {
		reasons = append(reasons, reason)
	})

	require.NoError(t, writer.Authenticate(writer.Generation(), session.Identity{
		UserID:    "u1",
		ExpiresAt: clock.Now().Add(time.Minute),
	}))
	require.True(t, store.Current().IsAuthenticated())

	clock.Advance(time.Minute)
	current := store.Current()
	require.Equal(t, session.StatusAnonymous, current.Status)
	require.Equal(t, []session.ResetReason{session.ResetExpired}, reasons)
}

func TestWriter_CommitAfterUnreadExpiry(t *testing.T) {
	store, writer, clock := newTestStore(t)

	reasons := make(chan session.ResetReason, 1)
	writer.OnReset(func(reason session.ResetReason) {
		reasons <- reason
	})

	require.NoError(t, writer.Authenticate(writer.Generation(), session.Identity{
		UserID:    "u1",
		ExpiresAt: clock.Now().Add(time.Minute),
	}))
	clock.Advance(time.Minute)

	generation := writer.Generation()
	err := writer.BeginVerification(generation, session.Identity{UserID: "u2"})
	require.ErrorIs(t, err, session.ErrStaleGeneration)
	require.Equal(t, session.StatusAnonymous, store.Current().Status)
	require.Greater(t, writer.Generation(), generation)

	select {
	case reason := <-reasons:
		require.Equal(t, session.ResetExpired, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("reset hook did not run")
	}

	require.NoError(t, writer.BeginVerification(writer.Generation(), session.Identity{UserID: "u2"}))
	require.Equal(t, session.StatusPendingVerification, store.Current().Status)
}

func TestStore_VerificationTransitions(t *testing.T) {
	store, writer, clock := newTestStore(t)

	generation := writer.Generation()
	require.NoError(t, writer.BeginVerification(generation, session.Identity{UserID: "u1", DisplayIdentity: "a@b.com"}))

	pending := store.Current()
	require.Equal(t, session.StatusPendingVerification, pending.Status)
	require.Equal(t, "u1", pending.UserID)
	require.True(t, pending.ExpiresAt.IsZero())

	err := writer.CompleteVerification(generation, "someone-else", clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, session.ErrInvalidTransition)

	require.NoError(t, writer.CompleteVerification(generation, "u1", clock.Now().Add(time.Hour)))
	current := store.Current()
	require.Equal(t, session.StatusAuthenticated, current.Status)
	require.Equal(t, "u1", current.UserID)
	require.Equal(t, "a@b.com", current.DisplayIdentity)
}

func TestStore_SubscribersSeeOrderedSnapshots(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, writer := session.NewStore(session.WithNowTime(clock.Now))

	first, second := &recorder{}, &recorder{}
	store.Subscribe(first.record)
	store.Subscribe(second.record)

	for i := 0; i < 5; i++ {
		require.NoError(t, writer.Authenticate(writer.Generation(), session.Identity{UserID: "u1"}))
		store.Logout()
	}
	store.Close()

	a, b := first.all(), second.all()
	require.Len(t, a, 11) // initial snapshot + 5 logins + 5 logouts
	require.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		require.Greater(t, a[i].Version, a[i-1].Version)
	}
	require.Equal(t, session.StatusAnonymous, a[0].Status)
	require.Equal(t, session.StatusAuthenticated, a[1].Status)
	require.Equal(t, session.StatusAnonymous, a[2].Status)
}

func TestStore_UnsubscribeAndPanickingSubscriber(t *testing.T) {
	store, writer := session.NewStore()

	rec := &recorder{}
	unsubscribe := store.Subscribe(func(session.Session) { panic("boom") })
	store.Subscribe(rec.record)

	require.NoError(t, writer.Authenticate(writer.Generation(), session.Identity{UserID: "u1"}))
	unsubscribe()
	unsubscribe()
	store.Logout()
	store.Close()

	got := rec.all()
	require.Len(t, got, 3)
	require.Equal(t, session.StatusAnonymous, got[2].Status)
}

func TestStore_SubscriberMayReadCurrent(t *testing.T) {
	store, writer := session.NewStore()

	seen := make(chan session.Status, 4)
	store.Subscribe(func(s session.Session) {
		seen <- store.Current().Status
	})
	require.NoError(t, writer.Authenticate(writer.Generation(), session.Identity{UserID: "u1"}))
	store.Close()

	require.Len(t, seen, 2)
}

package session

import (
	"errors"
	"time"
)

var (
	// ErrStaleGeneration is returned when a commit was prepared before the most
	// recent reset (logout or expiry) and must be discarded.
	ErrStaleGeneration = errors.New("session generation is stale")

	// ErrInvalidTransition is returned when a commit does not apply to the
	// current session status.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Identity is the user information committed with an authenticated or pending session.
type Identity struct {
	UserID          string
	DisplayIdentity string
	ExpiresAt       time.Time
}

// Writer is the mutation handle for a Store. Every commit carries the
// generation observed when the originating flow attempt started.
type Writer struct {
	store *Store
}

// Generation returns the current reset generation.
func (w *Writer) Generation() uint64 {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.store.generation
}

// Authenticate publishes an authenticated session.
func (w *Writer) Authenticate(generation uint64, identity Identity) error {
	if identity.UserID == "" {
		return ErrInvalidTransition
	}
	return w.commit(generation, func(s *Store) error {
		s.publishLocked(Session{
			Status:          StatusAuthenticated,
			UserID:          identity.UserID,
			DisplayIdentity: identity.DisplayIdentity,
			IssuedAt:        s.nowTime(),
			ExpiresAt:       identity.ExpiresAt,
		})
		return nil
	})
}

// BeginVerification publishes a pending_verification session after signup.
func (w *Writer) BeginVerification(generation uint64, identity Identity) error {
	if identity.UserID == "" {
		return ErrInvalidTransition
	}
	return w.commit(generation, func(s *Store) error {
		if s.current.Status == StatusAuthenticated {
			return ErrInvalidTransition
		}
		s.publishLocked(Session{
			Status:          StatusPendingVerification,
			UserID:          identity.UserID,
			DisplayIdentity: identity.DisplayIdentity,
			IssuedAt:        s.nowTime(),
		})
		return nil
	})
}

// CompleteVerification promotes the pending session of userID to authenticated.
func (w *Writer) CompleteVerification(generation uint64, userID string, expiresAt time.Time) error {
	return w.commit(generation, func(s *Store) error {
		if s.current.Status != StatusPendingVerification || s.current.UserID != userID {
			return ErrInvalidTransition
		}
		s.publishLocked(Session{
			Status:          StatusAuthenticated,
			UserID:          userID,
			DisplayIdentity: s.current.DisplayIdentity,
			IssuedAt:        s.nowTime(),
			ExpiresAt:       expiresAt,
		})
		return nil
	})
}

// commit runs apply under the store lock. A session that has expired without
// being read is reset first, which makes any commit prepared before the expiry
// stale. The reset hooks of that expiry run on their own goroutine since
// committers may hold locks the hooks take.
func (w *Writer) commit(generation uint64, apply func(s *Store) error) error {
	s := w.store
	s.mu.Lock()
	var hooks []func(ResetReason)
	if s.current.expired(s.nowTime()) {
		hooks = s.resetLocked(ResetExpired)
	}
	err := ErrStaleGeneration
	if generation == s.generation {
		err = apply(s)
	}
	s.mu.Unlock()

	if len(hooks) > 0 {
		go runHooks(hooks, ResetExpired)
	}
	return err
}

// Reset returns the session to anonymous and runs the reset hooks.
func (w *Writer) Reset(reason ResetReason) {
	w.store.reset(reason)
}

// OnReset registers fn to run after every reset, outside the store lock. A
// reset noticed by a commit runs fn on a separate goroutine, so fn must not
// assume it runs before the next attempt starts; Generation tells it which
// reset it is catching up with.
func (w *Writer) OnReset(fn func(ResetReason)) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.resetHooks = append(w.store.resetHooks, fn)
}

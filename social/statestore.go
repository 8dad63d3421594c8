package social

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FlowState is what the bridge remembers between Begin and Complete, keyed by
// the anti-forgery state parameter.
type FlowState struct {
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Nonce        string    `json:"nonce,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StateStore keeps outstanding redirects. Take is single use: a state can be
// redeemed at most once, and ok is false for unknown or expired states.
type StateStore interface {
	Put(ctx context.Context, state string, flow FlowState, ttl time.Duration) error
	Take(ctx context.Context, state string) (flow FlowState, ok bool, err error)
}

// InMemoryStateStore is a thread-safe in-memory StateStore for single-process clients.
type InMemoryStateStore struct {
	mu      sync.Mutex
	states  map[string]FlowState
	nowTime func() time.Time
}

// NewInMemoryStateStore creates an empty store. nowFunc may be nil.
func NewInMemoryStateStore(nowFunc func() time.Time) *InMemoryStateStore {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &InMemoryStateStore{
		states:  make(map[string]FlowState),
		nowTime: nowFunc,
	}
}

// Put stores flow under state, dropping any entries that have already expired.
func (s *InMemoryStateStore) Put(_ context.Context, state string, flow FlowState, ttl time.Duration) error {
	if state == "" {
		return errors.New("[InMemoryStateStore.Put] state cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowTime()
	for key, existing := range s.states {
		if !now.Before(existing.ExpiresAt) {
			delete(s.states, key)
		}
	}
	flow.ExpiresAt = now.Add(ttl)
	s.states[state] = flow
	return nil
}

func (s *InMemoryStateStore) Take(_ context.Context, state string) (FlowState, bool, error) {
	if state == "" {
		return FlowState{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flow, exists := s.states[state]
	if !exists {
		return FlowState{}, false, nil
	}
	delete(s.states, state)
	if !s.nowTime().Before(flow.ExpiresAt) {
		return FlowState{}, false, nil
	}
	return flow, true, nil
}

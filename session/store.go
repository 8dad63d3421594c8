package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subscriber receives every published snapshot, in version order.
type Subscriber func(Session)

// ResetReason says why a session was returned to anonymous.
type ResetReason string

const (
	ResetLogout  ResetReason = "logout"
	ResetExpired ResetReason = "expired"
)

type subscription struct {
	fn     Subscriber
	active atomic.Bool
}

// delivery pairs a snapshot with the subscribers registered when it was published.
type delivery struct {
	snapshot Session
	targets  []*subscription
}

// Store owns the single Session of a running client. Views read it through
// Current and Subscribe and may request Logout; every other mutation goes
// through the Writer returned by NewStore.
type Store struct {
	mu         sync.Mutex
	current    Session
	generation uint64
	subs       map[uint64]*subscription
	nextSubID  uint64
	queue      []delivery
	resetHooks []func(ResetReason)

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	nowTime func() time.Time
	logger  zerolog.Logger
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an anonymous session store and starts its dispatcher. The
// returned Writer is the only handle able to mutate the session and should be
// handed to the flow controller alone. Call Close on shutdown.
func NewStore(options ...StoreOption) (*Store, *Writer) {
	s := &Store{
		current: anonymous(1),
		subs:    make(map[uint64]*subscription),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}

	s.wg.Add(1)
	go s.run()

	return s, &Writer{store: s}
}

// Current returns the latest snapshot. An expired session is reset to anonymous
// (and that transition published) before it is returned.
func (s *Store) Current() Session {
	s.mu.Lock()
	if !s.current.expired(s.nowTime()) {
		snapshot := s.current
		s.mu.Unlock()
		return snapshot
	}
	hooks := s.resetLocked(ResetExpired)
	snapshot := s.current
	s.mu.Unlock()

	runHooks(hooks, ResetExpired)
	return snapshot
}

// Subscribe registers fn and immediately queues the current snapshot for it.
// The returned function unsubscribes; it is safe to call more than once.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = sub
	s.queue = append(s.queue, delivery{snapshot: s.current, targets: []*subscription{sub}})
	s.mu.Unlock()
	s.notify()

	return func() {
		sub.active.Store(false)
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Logout resets the session to anonymous immediately. Any flow still waiting on
// the identity service loses the right to commit its result.
func (s *Store) Logout() {
	s.reset(ResetLogout)
}

// Close stops the dispatcher after delivering every queued snapshot.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Store) reset(reason ResetReason) {
	s.mu.Lock()
	hooks := s.resetLocked(reason)
	s.mu.Unlock()

	runHooks(hooks, reason)
}

// resetLocked bumps the generation even when already anonymous so that
// outstanding commits are always invalidated.
func (s *Store) resetLocked(reason ResetReason) []func(ResetReason) {
	s.generation++
	if s.current.Status != StatusAnonymous {
		s.logger.Info().
			Str("reason", string(reason)).
			Str("previous_status", string(s.current.Status)).
			Msg("session reset")
		s.publishLocked(anonymous(0))
	}
	return append([]func(ResetReason){}, s.resetHooks...)
}

func (s *Store) publishLocked(next Session) {
	next.Version = s.current.Version + 1
	s.current = next

	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.queue = append(s.queue, delivery{snapshot: next, targets: targets})
	s.notify()

	s.logger.Debug().
		Str("status", string(next.Status)).
		Uint64("version", next.Version).
		Msg("session published")
}

func (s *Store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			for _, sub := range d.targets {
				if sub.active.Load() {
					s.deliver(sub, d.snapshot)
				}
			}
		}
	}
}

func (s *Store) deliver(sub *subscription, snapshot Session) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Uint64("version", snapshot.Version).Msg("session subscriber panicked")
		}
	}()
	sub.fn(snapshot)
}

func runHooks(hooks []func(ResetReason), reason ResetReason) {
	for _, hook := range hooks {
		hook(reason)
	}
}

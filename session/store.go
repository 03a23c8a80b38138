package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AliJawad91/falavox-server/telemetry"
)

// ErrCapacity is returned by Put when the store is full even after sweeping
// expired sessions. Callers may retry later.
var ErrCapacity = errors.New("session capacity reached")

// Store is a bounded in-memory session store with lazy expiry. Reads that find
// an expired record evict it as a side effect, so a session never outlives its
// window even between background sweeps.
type Store struct {
	max           int
	sweepInterval time.Duration
	onEvict       func(channel string)

	mu       sync.Mutex
	sessions map[string]*Session

	lockMu sync.Mutex
	locks  map[string]*channelLock
}

// channelLock serializes operations on one channel. Ref-counted so idle
// channels don't accumulate lock entries.
type channelLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store holding at most max non-ended sessions.
func NewStore(max int, sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &Store{
		max:           max,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]*Session),
		locks:         make(map[string]*channelLock),
	}
}

// SetOnEvict registers a hook called once per expiry eviction, after s.mu has
// been released. Explicit Remove calls do not trigger it. Must be set before
// the store is shared across goroutines.
func (s *Store) SetOnEvict(fn func(channel string)) {
	s.onEvict = fn
}

func (s *Store) notifyEvicted(channels []string) {
	if s.onEvict == nil {
		return
	}
	for _, ch := range channels {
		s.onEvict(ch)
	}
}

// LockChannel acquires the mutex for one channel and returns its release
// function. Operations on the same channel linearize; other channels are
// unaffected.
func (s *Store) LockChannel(channel string) func() {
	s.lockMu.Lock()
	l := s.locks[channel]
	if l == nil {
		l = &channelLock{}
		s.locks[channel] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, channel)
		}
		s.lockMu.Unlock()
	}
}

// Put inserts a session. When the store is at capacity it sweeps expired
// sessions first and only then rejects with ErrCapacity.
func (s *Store) Put(sess *Session) error {
	var evicted []string
	defer func() { s.notifyEvicted(evicted) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.Channel]; !exists && len(s.sessions) >= s.max {
		evicted = s.sweepLocked(time.Now())
		if len(s.sessions) >= s.max {
			return ErrCapacity
		}
	}
	cp := *sess
	s.sessions[sess.Channel] = &cp
	telemetry.SetActiveSessions(len(s.sessions))
	return nil
}

// Get returns a copy of the channel's session. An expired record is evicted
// and reported as absent.
func (s *Store) Get(channel string) (Session, bool) {
	var evicted []string
	defer func() { s.notifyEvicted(evicted) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[channel]
	if !ok {
		return Session{}, false
	}
	if sess.Expired(time.Now()) {
		s.evictLocked(channel)
		evicted = append(evicted, channel)
		return Session{}, false
	}
	return *sess, true
}

// Update applies fn to the channel's session in place. Returns false when the
// session is absent or expired (expired records are evicted first).
func (s *Store) Update(channel string, fn func(*Session)) bool {
	var evicted []string
	defer func() { s.notifyEvicted(evicted) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[channel]
	if !ok {
		return false
	}
	if sess.Expired(time.Now()) {
		s.evictLocked(channel)
		evicted = append(evicted, channel)
		return false
	}
	fn(sess)
	return true
}

// Remove evicts the channel's session. Idempotent: removing an absent key is
// not an error. Returns whether a record was present.
func (s *Store) Remove(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[channel]
	if ok {
		delete(s.sessions, channel)
		telemetry.SetActiveSessions(len(s.sessions))
	}
	return ok
}

// List returns copies of all live sessions, evicting any found expired.
func (s *Store) List() []Session {
	var evicted []string
	defer func() { s.notifyEvicted(evicted) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]Session, 0, len(s.sessions))
	for ch, sess := range s.sessions {
		if sess.Expired(now) {
			s.evictLocked(ch)
			evicted = append(evicted, ch)
			continue
		}
		out = append(out, *sess)
	}
	return out
}

// Count returns the current number of non-ended sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Max returns the configured session limit.
func (s *Store) Max() int {
	return s.max
}

// SweepExpired removes every session whose window has passed and returns the
// number evicted.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	evicted := s.sweepLocked(time.Now())
	s.mu.Unlock()
	s.notifyEvicted(evicted)
	return len(evicted)
}

func (s *Store) sweepLocked(now time.Time) []string {
	var evicted []string
	for ch, sess := range s.sessions {
		if sess.Expired(now) {
			s.evictLocked(ch)
			evicted = append(evicted, ch)
		}
	}
	return evicted
}

// evictLocked removes an expired record. Caller holds s.mu.
func (s *Store) evictLocked(channel string) {
	delete(s.sessions, channel)
	telemetry.Inc(telemetry.SessionsExpired)
	telemetry.SetActiveSessions(len(s.sessions))
	slog.Info("session expired", slog.String("channel", channel))
}

// Run sweeps expired sessions on a fixed period until the context is canceled.
// Intended to run as a background goroutine from main.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				slog.Info("expiry sweep evicted sessions", slog.Int("count", n))
			}
		}
	}
}

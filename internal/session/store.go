// Package session keeps chat transcripts in memory for the lifetime of the
// process.
//
// [Store] is a bounded map from session id to transcript with least recently
// used eviction and idle expiry. Access goes through [Store.Acquire], which
// hands out a [Lease] holding the session's lock: concurrent requests for the
// same session run one after another, and a turn only becomes visible to
// later requests when its lease commits.
//
// All methods are safe for concurrent use.
package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/lybot/internal/observe"
	"github.com/MrWong99/lybot/pkg/provider/llm"
)

const (
	// DefaultMaxSessions bounds the store when no limit is configured.
	DefaultMaxSessions = 1000

	// DefaultTTL is the idle time after which a session expires.
	DefaultTTL = 2 * time.Hour

	// minSweepInterval keeps the janitor from spinning on tiny TTLs.
	minSweepInterval = time.Second
)

var (
	// ErrSessionNotFound is returned by lookups of unknown ids.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("session: store closed")
)

// Clock returns the current time. Tests inject a fake clock.
type Clock func() time.Time

// entry is one session. transcript is guarded by sem; the remaining fields
// by Store.mu.
type entry struct {
	id         string
	sem        chan struct{}
	transcript []llm.Message

	lastUsed time.Time
	refs     int // leases held or awaited
	elem     *list.Element
	removed  bool
}

// Store is the bounded in-memory session map.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
	closed  bool

	maxSessions int
	ttl         time.Duration
	maxTokens   int
	now         Clock
	metrics     *observe.Metrics

	stop chan struct{}
	done chan struct{}
}

// Option configures a [Store].
type Option func(*Store)

// WithMaxSessions bounds the number of stored sessions.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithTTL sets the idle expiry. Zero or less disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithMaxHistoryTokens caps the history returned by [Lease.History].
// Zero disables trimming.
func WithMaxHistoryTokens(n int) Option {
	return func(s *Store) { s.maxTokens = n }
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// WithMetrics reports the live session count on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store and starts its janitor when a TTL is set. Call Close to
// stop the janitor.
func New(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[string]*entry),
		lru:         list.New(),
		maxSessions: DefaultMaxSessions,
		ttl:         DefaultTTL,
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.ttl > 0 {
		go s.janitor(max(s.ttl/2, minSweepInterval))
	} else {
		close(s.done)
	}
	return s
}

// ---- leases ----

// Lease is exclusive access to one session, obtained from [Store.Acquire].
// It must be released exactly once; Release after Commit is the normal path.
type Lease struct {
	store    *Store
	e        *entry
	released bool
}

// Acquire returns the session id, creating it if needed, once no other lease
// holds it. It waits for the current holder or for ctx, whichever comes first.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	if id == "" {
		return nil, fmt.Errorf("session: empty session id")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("session: acquire %q: %w", id, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e := s.lookupLocked(id)
	if e == nil {
		e = s.insertLocked(ctx, id)
	}
	e.refs++
	e.lastUsed = s.now()
	s.lru.MoveToFront(e.elem)
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return &Lease{store: s, e: e}, nil
	case <-ctx.Done():
		s.mu.Lock()
		e.refs--
		// A session that never got a turn is not kept.
		if e.refs == 0 && len(e.transcript) == 0 && s.entries[id] == e {
			s.removeLocked(context.WithoutCancel(ctx), e)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("session: acquire %q: %w", id, ctx.Err())
	}
}

// ID returns the session id.
func (l *Lease) ID() string { return l.e.id }

// Transcript returns a copy of the stored transcript.
func (l *Lease) Transcript() []llm.Message {
	return slices.Clone(l.e.transcript)
}

// History returns the stored transcript followed by next, trimmed to the
// store's token budget.
func (l *Lease) History(next ...llm.Message) []llm.Message {
	h := make([]llm.Message, 0, len(l.e.transcript)+len(next))
	h = append(h, l.e.transcript...)
	h = append(h, next...)
	return Trim(h, l.store.maxTokens)
}

// Commit appends msgs to the transcript.
func (l *Lease) Commit(msgs ...llm.Message) {
	if l.released {
		return
	}
	l.e.transcript = append(l.e.transcript, msgs...)
}

// Release gives up the lease. Further calls are no-ops.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	s := l.store
	s.mu.Lock()
	l.e.refs--
	l.e.lastUsed = s.now()
	s.mu.Unlock()
	<-l.e.sem
}

// ---- management ----

// Get returns a copy of a session's transcript, waiting for a running turn
// on it to finish. It does not refresh the session's idle time.
func (s *Store) Get(ctx context.Context, id string) ([]llm.Message, error) {
	s.mu.Lock()
	e := s.lookupLocked(id)
	s.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("session: get %q: %w", id, ctx.Err())
	}
	return slices.Clone(e.transcript), nil
}

// Clear removes a session and reports whether it existed. A turn running on
// the session finishes on the detached transcript.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	s.removeLocked(context.Background(), e)
	return true
}

// ClearAll removes every session and returns how many were removed.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	for _, e := range s.entries {
		s.removeLocked(context.Background(), e)
	}
	return n
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired idle sessions and returns how many were removed.
// The janitor calls it periodically.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if s.expiredLocked(e, now) {
			s.removeLocked(context.Background(), e)
			n++
		}
		el = prev
	}
	return n
}

// Close stops the janitor and rejects further Acquire calls.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
	<-s.done
	return nil
}

func (s *Store) janitor(every time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				observe.Logger(context.Background()).Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// ---- internals (Store.mu held) ----

// lookupLocked returns the live entry for id, dropping it first if it
// expired.
func (s *Store) lookupLocked(id string) *entry {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if s.expiredLocked(e, s.now()) {
		s.removeLocked(context.Background(), e)
		return nil
	}
	return e
}

func (s *Store) expiredLocked(e *entry, now time.Time) bool {
	return s.ttl > 0 && e.refs == 0 && now.Sub(e.lastUsed) > s.ttl
}

func (s *Store) insertLocked(ctx context.Context, id string) *entry {
	for len(s.entries) >= s.maxSessions {
		if !s.evictLocked(ctx) {
			break
		}
	}
	e := &entry{id: id, sem: make(chan struct{}, 1)}
	e.elem = s.lru.PushFront(e)
	s.entries[id] = e
	s.metrics.ActiveSessions.Add(ctx, 1)
	return e
}

// evictLocked removes the least recently used idle session. Sessions with
// leases are skipped; false means nothing could be evicted.
func (s *Store) evictLocked(ctx context.Context) bool {
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.refs == 0 {
			observe.Logger(ctx).Debug("session evicted", "session_id", e.id)
			s.removeLocked(ctx, e)
			return true
		}
	}
	return false
}

func (s *Store) removeLocked(ctx context.Context, e *entry) {
	if e.removed {
		return
	}
	e.removed = true
	s.lru.Remove(e.elem)
	delete(s.entries, e.id)
	s.metrics.ActiveSessions.Add(ctx, -1)
}

// Package session tracks API callers so that event subscriptions outlive a
// single call.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTooManySessions = errors.New("session: too many sessions")
	ErrUnknownSession  = errors.New("session: unknown session")
	ErrClosed          = errors.New("session: closed")
	ErrQueueFull       = errors.New("session: notification queue full")
)

// QueueSize is the number of undelivered notifications kept per session.
const QueueSize = 64

// Notification is one pushed event.
type Notification struct {
	Event string
	Data  any
}

// Session is one API caller. It implements events.Subscriber.
type Session struct {
	id    string
	queue chan Notification

	mu        sync.Mutex
	closed    bool
	streaming int
	lastUsed  time.Time
	dropped   uint64
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:       id,
		queue:    make(chan Notification, QueueSize),
		lastUsed: now,
	}
}

func (s *Session) ID() string { return s.id }

// Accept refuses subscriptions once the session is closed.
func (s *Session) Accept(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Push queues a notification without blocking.
func (s *Session) Push(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- Notification{Event: event, Data: data}:
		return nil
	default:
		s.dropped++
		return ErrQueueFull
	}
}

// Notifications returns the queue drained by event streams.
func (s *Session) Notifications() <-chan Notification { return s.queue }

// Attach marks the session as streaming until the returned func is called.
func (s *Session) Attach() (detach func()) {
	s.mu.Lock()
	s.streaming++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.streaming--
			s.lastUsed = time.Now()
			s.mu.Unlock()
		})
	}
}

// Dropped returns the number of notifications lost to a full queue.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming == 0 && now.Sub(s.lastUsed) > timeout
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// Manager owns the live sessions.
type Manager struct {
	max     int
	timeout time.Duration
	onDrop  func(*Session)
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager caps the number of sessions at max (0 means unlimited) and
// expires sessions idle for longer than timeout (0 disables expiry).
// onDrop runs after a session is removed.
func NewManager(max int, timeout time.Duration, onDrop func(*Session)) *Manager {
	return &Manager{
		max:      max,
		timeout:  timeout,
		onDrop:   onDrop,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Get returns the session id. If it does not exist and create is set, it
// is created.
func (m *Manager) Get(id string, create bool) (*Session, error) {
	if id == "" {
		return nil, ErrUnknownSession
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.touch(now)
		return s, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, ErrTooManySessions
	}
	s := newSession(id, now)
	m.sessions[id] = s
	return s, nil
}

// Drop ends the session id.
func (m *Manager) Drop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.release(s)
	return true
}

// Sweep drops sessions idle past the timeout and returns how many ended.
func (m *Manager) Sweep() int {
	if m.timeout <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idle(now, m.timeout) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		m.release(s)
	}
	return len(expired)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close drops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.release(s)
	}
}

func (m *Manager) release(s *Session) {
	s.close()
	if m.onDrop != nil {
		m.onDrop(s)
	}
}

package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gosupervisor/internal/identity"
)

var (
	ErrDuplicatePID = errors.New("registry: pid already registered")
	ErrInvalidPID   = errors.New("registry: pid must be > 0")
	ErrNilConn      = errors.New("registry: nil connection")
)

// maxPID bounds allocated pids; the counter wraps back to 1 past it.
const maxPID = math.MaxInt32

// Registry is a threadsafe catalog of attached peers keyed by pid.
// The lock only guards the maps; it is never held while calling into a
// peer connection.
type Registry struct {
	mu     sync.RWMutex
	byPID  map[int]*Peer
	byConn map[Conn]int
	// last pid handed out by allocation
	counter int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byPID:  make(map[int]*Peer),
		byConn: make(map[Conn]int),
	}
}

// Insert registers p under p.PID.
func (r *Registry) Insert(p Peer) error {
	if p.PID <= 0 {
		return ErrInvalidPID
	}
	if p.Conn == nil {
		return ErrNilConn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPID[p.PID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePID, p.PID)
	}
	if _, ok := r.byConn[p.Conn]; ok {
		return fmt.Errorf("registry: connection already registered")
	}
	r.insertLocked(p)
	return nil
}

// InsertAllocated registers conn under a freshly allocated pid that no
// registered peer uses, and gives it a synthetic identity.
func (r *Registry) InsertAllocated(conn Conn) (Peer, error) {
	if conn == nil {
		return Peer{}, ErrNilConn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[conn]; ok {
		return Peer{}, fmt.Errorf("registry: connection already registered")
	}
	pid := r.allocateLocked()
	p := Peer{PID: pid, Identity: identity.Synthetic(pid), Conn: conn}
	r.insertLocked(p)
	return p, nil
}

func (r *Registry) insertLocked(p Peer) {
	cp := p
	r.byPID[p.PID] = &cp
	r.byConn[p.Conn] = p.PID
}

// allocateLocked advances the counter until it lands on a free pid.
func (r *Registry) allocateLocked() int {
	for {
		if r.counter >= maxPID || r.counter < 0 {
			r.counter = 0
		}
		r.counter++
		if _, taken := r.byPID[r.counter]; !taken {
			return r.counter
		}
	}
}

// Remove unlinks the peer owning conn. It reports false if conn is not (or
// no longer) registered, which makes repeated hangups harmless.
func (r *Registry) Remove(conn Conn) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.byConn[conn]
	if !ok {
		return Peer{}, false
	}
	p := r.byPID[pid]
	delete(r.byConn, conn)
	delete(r.byPID, pid)
	return *p, true
}

// Lookup returns a copy of the peer registered under pid. The peer may
// hang up right after the lock is released; users of the returned
// connection must cope with it being closed.
func (r *Registry) Lookup(pid int) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.byPID[pid]
	if p == nil {
		return Peer{}, false
	}
	return *p, true
}

// Contains reports whether pid is registered.
func (r *Registry) Contains(pid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPID[pid]
	return ok
}

// List returns copies of all peers sorted by pid.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.byPID))
	for _, p := range r.byPID {
		out = append(out, *p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPID)
}

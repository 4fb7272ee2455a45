// Package supervisor tracks the supervised peers attached to this process
// and routes supervisor verbs to them.
package supervisor

import (
	"fmt"
	"os"
	"sort"
	"syscall"

	"gosupervisor/internal/discovery"
	"gosupervisor/internal/events"
	"gosupervisor/internal/identity"
	"gosupervisor/internal/registry"
	"gosupervisor/internal/rpc"
	"gosupervisor/internal/stub"

	"github.com/rs/zerolog"
)

const (
	// APIName is the name of the verb surface exposed to callers.
	APIName = "supervisor"
	// SupervisionAPI is the api peers serve to the supervisor.
	SupervisionAPI = "supervision"
	// DefaultTarget is the executable reconciled by Discover.
	DefaultTarget = "afb-daemon"

	EventAddPID = "add-pid"
	EventDelPID = "del-pid"
)

// Options configures a Supervisor.
type Options struct {
	// Target is the executable name looked for by Discover.
	Target string
	// Extra is sent in the handshake initiator.
	Extra string
	// Identifier derives peer identities; nil means pids are allocated.
	Identifier identity.Identifier
	// Signal is sent to orphaned instances. Defaults to SIGHUP.
	Signal syscall.Signal
	// Kill delivers Signal. Defaults to syscall.Kill.
	Kill func(pid int, sig syscall.Signal) error
	// Scanner is the process table used by Discover.
	Scanner discovery.Scanner
	// Self is this process's pid. Defaults to os.Getpid().
	Self   int
	Logger zerolog.Logger
}

// Supervisor is the registry of attached peers plus the verb router.
type Supervisor struct {
	target     string
	extra      string
	identifier identity.Identifier
	signal     syscall.Signal
	kill       func(pid int, sig syscall.Signal) error
	scanner    discovery.Scanner
	self       int
	logger     zerolog.Logger

	reg    *registry.Registry
	hub    *events.Hub
	addPID *events.Event
	delPID *events.Event
	empty  *stub.APISet

	verbs map[string]rpc.Handler
}

// New builds a supervisor with an empty registry.
func New(opts Options) (*Supervisor, error) {
	s := &Supervisor{
		target:     opts.Target,
		extra:      opts.Extra,
		identifier: opts.Identifier,
		signal:     opts.Signal,
		kill:       opts.Kill,
		scanner:    opts.Scanner,
		self:       opts.Self,
		logger:     opts.Logger,
		reg:        registry.New(),
		hub:        events.NewHub(),
		empty:      stub.Empty(SupervisionAPI),
	}
	if s.target == "" {
		s.target = DefaultTarget
	}
	if s.identifier == nil {
		s.identifier = identity.Unverified{}
	}
	if s.signal == 0 {
		s.signal = syscall.SIGHUP
	}
	if s.kill == nil {
		s.kill = syscall.Kill
	}
	if s.self == 0 {
		s.self = os.Getpid()
	}

	var err error
	if s.addPID, err = s.hub.Make(EventAddPID); err != nil {
		return nil, fmt.Errorf("supervisor: can't create added event: %w", err)
	}
	if s.delPID, err = s.hub.Make(EventDelPID); err != nil {
		return nil, fmt.Errorf("supervisor: can't create deleted event: %w", err)
	}
	s.verbs = s.verbTable()
	return s, nil
}

// Registry exposes the peer registry.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Unsubscribe removes sub from every supervisor event.
func (s *Supervisor) Unsubscribe(sub events.Subscriber) {
	s.hub.UnsubscribeAll(sub)
}

// Verbs lists the verb names the supervisor answers.
func (s *Supervisor) Verbs() []string {
	out := make([]string, 0, len(s.verbs))
	for v := range s.verbs {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Peers returns the attached peers ordered by pid.
func (s *Supervisor) Peers() []registry.Peer {
	return s.reg.List()
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"gosupervisor/internal/identity"
	"gosupervisor/internal/registry"
	"gosupervisor/internal/stub"
)

var (
	// ErrRendezvousLost means the listening socket failed; no more peers
	// can be admitted.
	ErrRendezvousLost = errors.New("supervisor: supervision socket closed")
	// ErrSelf rejects a connection coming from this very process.
	ErrSelf = errors.New("supervisor: refusing to supervise myself")
)

const maxAcceptDelay = time.Second

// Serve admits peers from ln until ctx is done. It returns nil on
// cancellation and ErrRendezvousLost once the listener is closed under it.
// Other accept failures are logged and retried with a growing delay.
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: %v", ErrRendezvousLost, err)
			}
			// Descriptor exhaustion and aborted handshakes pass; the
			// socket itself is still there.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.Warn().Err(err).Dur("retry", delay).Msg("accept failed")
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil
			}
			continue
		}
		delay = 0
		go func() {
			pid, err := s.Admit(conn)
			if err != nil {
				s.logger.Warn().Err(err).Msg("supervision link rejected")
				return
			}
			s.logger.Info().Int("pid", pid).Msg("peer attached")
		}()
	}
}

// Admit runs the admission protocol on an accepted connection and returns
// the pid the peer is registered under. On failure conn is closed and
// nothing is registered.
func (s *Supervisor) Admit(conn net.Conn) (int, error) {
	id, err := s.identifier.Identify(conn)
	if err != nil {
		conn.Close()
		return 0, fmt.Errorf("supervisor: identify peer: %w", err)
	}
	if id != nil && id.PID() == s.self {
		conn.Close()
		return 0, ErrSelf
	}

	if err := stub.WriteInitiator(conn, s.extra); err != nil {
		conn.Close()
		return 0, err
	}

	pc := stub.New(conn, SupervisionAPI, s.empty, s.logger)
	peer, err := s.register(pc, id)
	if err != nil {
		pc.Close()
		return 0, err
	}

	s.addPID.Push(peer.PID)
	if err := pc.Start(s); err != nil {
		s.PeerHungUp(pc)
		return 0, fmt.Errorf("supervisor: start peer %d: %w", peer.PID, err)
	}
	return peer.PID, nil
}

func (s *Supervisor) register(pc *stub.Conn, id identity.Identity) (registry.Peer, error) {
	if id == nil {
		return s.reg.InsertAllocated(pc)
	}
	p := registry.Peer{PID: id.PID(), Identity: id, Conn: pc}
	if err := s.reg.Insert(p); err != nil {
		return registry.Peer{}, err
	}
	return p, nil
}

// PeerHungUp is the lifecycle hook of peer connections: it unregisters the
// peer and announces its departure. Repeated calls for the same
// connection only release the transport.
func (s *Supervisor) PeerHungUp(c *stub.Conn) {
	p, found := s.reg.Remove(c)
	c.Close()
	if !found {
		return
	}
	s.delPID.Push(p.PID)
	s.logger.Info().Int("pid", p.PID).Msg("peer detached")
}

package registry

import (
	"gosupervisor/internal/identity"
	"gosupervisor/internal/rpc"
)

// Conn is the part of a peer connection the registry and the forwarder use.
type Conn interface {
	// Call submits verb with args to the peer. onReply is invoked exactly
	// once with the peer's reply or a transport failure.
	Call(verb string, args any, onReply func(rpc.Reply)) error
	Close() error
}

// Peer is one attached supervised instance. Values handed out by the
// registry are copies.
type Peer struct {
	PID      int
	Identity identity.Identity
	Conn     Conn
}

// Credentials returns the verified credentials of the peer, if any.
func (p Peer) Credentials() (identity.Credentials, bool) {
	if p.Identity == nil {
		return identity.Credentials{}, false
	}
	return p.Identity.Credentials()
}

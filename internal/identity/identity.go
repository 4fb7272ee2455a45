// Package identity describes who is on the other end of a peer connection.
//
// An Identity is either verified, carrying the credentials the kernel
// reported for the socket peer, or synthetic, carrying only a pid allocated
// by the supervisor when credentials are not available.
package identity

import (
	"errors"
	"net"
	"strings"
)

// ErrUnsupported is returned when peer credentials cannot be obtained on this
// platform or for this kind of connection.
var ErrUnsupported = errors.New("identity: peer credentials unsupported")

// Identity is the capability every registered peer carries.
type Identity interface {
	PID() int
	Credentials() (Credentials, bool)
}

// Credentials are the verified attributes of a socket peer.
type Credentials struct {
	Pid   int
	UID   int
	GID   int
	Label string
	User  string
	ID    string
}

func (c Credentials) PID() int { return c.Pid }

func (c Credentials) Credentials() (Credentials, bool) { return c, true }

// Fields renders the credentials the way the list verb reports them.
func (c Credentials) Fields() map[string]any {
	return map[string]any{
		"pid":   c.Pid,
		"uid":   c.UID,
		"gid":   c.GID,
		"id":    c.ID,
		"label": c.Label,
		"user":  c.User,
	}
}

// Synthetic is an identity made of an allocated pid only.
type Synthetic int

func (s Synthetic) PID() int { return int(s) }

func (Synthetic) Credentials() (Credentials, bool) { return Credentials{}, false }

// Identifier derives the identity of a freshly accepted connection.
// A nil Identity with a nil error asks the caller to allocate a pid.
type Identifier interface {
	Identify(conn net.Conn) (Identity, error)
}

// Verified reads kernel credentials from the connection.
type Verified struct{}

func (Verified) Identify(conn net.Conn) (Identity, error) {
	cred, err := FromConn(conn)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Unverified never inspects the connection.
type Unverified struct{}

func (Unverified) Identify(net.Conn) (Identity, error) { return nil, nil }

// appID extracts the application part of a security label such as
// "User::App::name". Labels without that shape are returned unchanged.
func appID(label, user string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return user
	}
	if i := strings.LastIndex(label, "::"); i >= 0 && i+2 < len(label) {
		return label[i+2:]
	}
	return label
}

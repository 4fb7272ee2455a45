//go:build !linux

package identity

import "net"

// Supported reports whether FromConn can work on this platform.
const Supported = false

// FromConn is unavailable outside linux.
func FromConn(net.Conn) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}

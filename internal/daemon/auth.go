package daemon

import (
	"context"
	"net"

	"gosupervisor/internal/identity"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// PeerAuthInfo carries the kernel credentials of an API client.
type PeerAuthInfo struct {
	credentials.CommonAuthInfo
	Credentials identity.Credentials
	// Known is false when the platform could not report credentials.
	Known bool
}

func (PeerAuthInfo) AuthType() string { return "peercred" }

// peerCredentials is a server-side TransportCredentials reading
// SO_PEERCRED from accepted unix connections. It does not encrypt.
type peerCredentials struct{}

func (peerCredentials) ClientHandshake(_ context.Context, _ string, conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, PeerAuthInfo{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}, nil
}

func (peerCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	info := PeerAuthInfo{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}
	if cred, err := identity.FromConn(conn); err == nil {
		info.Credentials = cred
		info.Known = true
	}
	return conn, info, nil
}

func (peerCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "peercred"}
}

func (p peerCredentials) Clone() credentials.TransportCredentials { return p }

func (peerCredentials) OverrideServerName(string) error { return nil }

// authorizer admits API clients running as root or as the daemon's user.
type authorizer struct {
	uid int
}

func (a authorizer) check(ctx context.Context) error {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return nil
	}
	info, ok := p.AuthInfo.(PeerAuthInfo)
	if !ok || !info.Known {
		return nil
	}
	if uid := info.Credentials.UID; uid != 0 && uid != a.uid {
		return status.Errorf(codes.PermissionDenied, "uid %d may not use this supervisor", uid)
	}
	return nil
}

func (a authorizer) unary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (a authorizer) stream(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := a.check(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

//go:build linux

package identity

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromConnUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	cred, err := FromConn(server)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), cred.Pid)
	require.Equal(t, os.Getuid(), cred.UID)
	require.Equal(t, os.Getgid(), cred.GID)
	require.NotEmpty(t, cred.ID)
}

func TestReadLabel(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "12", "attr")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "current"), []byte("User::App::demo\x00"), 0o644))

	require.Equal(t, "User::App::demo", readLabel(root, 12))
	require.Equal(t, "", readLabel(root, 13))

	c := fromUcred(12, os.Getuid(), os.Getgid(), root)
	require.Equal(t, "demo", c.ID)
}

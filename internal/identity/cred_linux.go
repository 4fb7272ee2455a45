//go:build linux

package identity

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Supported reports whether FromConn can work on this platform.
const Supported = true

// FromConn returns the kernel credentials of the peer of a unix socket.
func FromConn(conn net.Conn) (Credentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}, ErrUnsupported
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("identity: syscall conn: %w", err)
	}
	var (
		ucred *unix.Ucred
		serr  error
	)
	if err := raw.Control(func(fd uintptr) {
		ucred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, fmt.Errorf("identity: control: %w", err)
	}
	if serr != nil {
		return Credentials{}, fmt.Errorf("identity: SO_PEERCRED: %w", serr)
	}
	return fromUcred(int(ucred.Pid), int(ucred.Uid), int(ucred.Gid), "/proc"), nil
}

func fromUcred(pid, uid, gid int, procRoot string) Credentials {
	c := Credentials{Pid: pid, UID: uid, GID: gid}
	c.Label = readLabel(procRoot, pid)
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		c.User = u.Username
	} else {
		c.User = strconv.Itoa(uid)
	}
	c.ID = appID(c.Label, c.User)
	return c
}

func readLabel(procRoot string, pid int) string {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "attr", "current"))
	if err != nil {
		return ""
	}
	return string(bytes.TrimRight(data, "\x00\n"))
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	supervisorv1 "gosupervisor/api/supervisor/v1"

	"github.com/google/renameio/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// SocketBaseName is the API socket filename.
	SocketBaseName = "gosupervisor.sock"
	// RendezvousBaseName is the filename of the socket supervised peers
	// connect to.
	RendezvousBaseName = "supervision.sock"

	pidFileName = "gosupervisor.pid"
)

// SocketPath returns the full path to the API socket.
// Order of precedence (first wins):
// 1) GOSUPERVISOR_SOCKET (absolute path to socket)
// 2) if runtime=linux:
//   - GOSUPERVISOR_RUNTIME_DIR or $XDG_RUNTIME_DIR or /run/user/<UID>
//     else (darwin, *bsd, etc):
//   - GOSUPERVISOR_RUNTIME_DIR or /tmp
func SocketPath() string {
	if explicit := os.Getenv("GOSUPERVISOR_SOCKET"); explicit != "" {
		return explicit
	}
	return filepath.Join(RuntimeDir(), SocketBaseName)
}

// RendezvousPath returns the full path to the supervision socket, which
// GOSUPERVISOR_RENDEZVOUS overrides.
func RendezvousPath() string {
	if explicit := os.Getenv("GOSUPERVISOR_RENDEZVOUS"); explicit != "" {
		return explicit
	}
	return filepath.Join(RuntimeDir(), RendezvousBaseName)
}

// RuntimeDir is the directory holding the sockets and the pid file.
func RuntimeDir() string {
	if rd := os.Getenv("GOSUPERVISOR_RUNTIME_DIR"); rd != "" {
		return rd
	}
	uid := currentUID()
	if runtime.GOOS == "linux" {
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return filepath.Join(v, "gosupervisor")
		}
		return filepath.Join("/run/user", uid, "gosupervisor")
	}
	// macOS / BSD: keep it short to avoid the sun_path length limit
	return filepath.Join("/tmp", "gosupervisor-"+uid)
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

// PIDPath returns the full path to the pid file of the daemon serving
// SocketPath.
func PIDPath() string {
	return pidPathFor(SocketPath())
}

func pidPathFor(socket string) string {
	return filepath.Join(filepath.Dir(socket), pidFileName)
}

func writePID(path string, pid int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return renameio.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o600)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RunningPID returns the pid stored in the pid file if any.
func RunningPID() (int, error) {
	data, err := os.ReadFile(PIDPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// IsRunning reports whether a daemon answers health checks on SocketPath.
func IsRunning() bool {
	return isServing(SocketPath())
}

func isServing(socket string) bool {
	if _, err := os.Stat(socket); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	conn, err := dialSocket(ctx, socket)
	if err != nil {
		return false
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: supervisorv1.ServiceName,
	})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func currentUID() string {
	u, err := user.Current()
	if err == nil && u != nil && u.Uid != "" {
		return u.Uid
	}
	return "0"
}

package app

import (
	"gosupervisor/internal/config"
	"gosupervisor/internal/daemon"
	"gosupervisor/internal/logging"
)

// DaemonStatus represents current information about the daemon process.
type DaemonStatus struct {
	Running bool
	PID     int
}

// Status returns whether the daemon is running and its PID if known.
func (a *App) Status() (DaemonStatus, error) {
	if !daemonIsRunning() {
		return DaemonStatus{Running: false}, nil
	}
	pid, err := daemon.RunningPID()
	if err != nil {
		return DaemonStatus{Running: true}, err
	}
	return DaemonStatus{Running: true, PID: pid}, nil
}

// StopDaemon attempts to stop the running daemon.
func (a *App) StopDaemon(force bool) error {
	return daemon.StopRunningDaemon(force)
}

// DaemonHandle holds a running daemon instance.
type DaemonHandle struct {
	srv *daemon.Server
}

// Done delivers a fatal daemon error.
func (h *DaemonHandle) Done() <-chan error {
	if h == nil || h.srv == nil {
		return nil
	}
	return h.srv.Done()
}

// Close stops the running daemon instance.
func (h *DaemonHandle) Close() error {
	if h == nil || h.srv == nil {
		return nil
	}
	return h.srv.Close()
}

// StartDaemon starts the daemon in this process and returns a handle for
// closing it.
func (a *App) StartDaemon() (*DaemonHandle, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Component("daemon").With().Str("app", cfg.Name).Logger()
	srv, err := daemon.StartDaemon(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &DaemonHandle{srv: srv}, nil
}

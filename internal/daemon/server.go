package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	supervisorv1 "gosupervisor/api/supervisor/v1"
	"gosupervisor/internal/config"
	"gosupervisor/internal/gateway"
	"gosupervisor/internal/identity"
	"gosupervisor/internal/session"
	"gosupervisor/internal/supervisor"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"vawter.tech/stopper"
)

const shutdownGrace = 2 * time.Second

// ErrAlreadyRunning is returned when another daemon serves the API socket.
var ErrAlreadyRunning = errors.New("daemon is already running")

// Server is a running supervisor daemon.
type Server struct {
	cfg    config.Config
	logger zerolog.Logger

	sup      *supervisor.Supervisor
	sessions *session.Manager
	grpc     *grpc.Server
	health   *health.Server
	http     *http.Server

	rendezvous     net.Listener
	watch          *socketWatch
	api            net.Listener
	web            net.Listener
	rendezvousPath string
	apiPath        string
	pidPath        string

	sctx      *stopper.Context
	fatal     chan error
	closeOnce sync.Once
	closeErr  error
}

// StartDaemon binds the sockets, writes the pid file and starts serving.
func StartDaemon(cfg config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		rendezvousPath: cfg.RendezvousSocket,
		apiPath:        cfg.APISocket,
		fatal:          make(chan error, 1),
	}
	if s.rendezvousPath == "" {
		s.rendezvousPath = RendezvousPath()
	}
	if s.apiPath == "" {
		s.apiPath = SocketPath()
	}
	s.pidPath = pidPathFor(s.apiPath)

	ident, err := identifier(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	s.sup, err = supervisor.New(supervisor.Options{
		Target:     cfg.Target,
		Extra:      cfg.HandshakeExtra,
		Identifier: ident,
		Signal:     cfg.OrphanSignal,
		Logger:     logger.With().Str("component", "supervisor").Logger(),
	})
	if err != nil {
		return nil, err
	}
	s.sessions = session.NewManager(cfg.SessionMax, cfg.SessionTimeout, func(sess *session.Session) {
		s.sup.Unsubscribe(sess)
	})
	ep := supervisor.NewEndpoint(s.sup, s.sessions, cfg.APITimeout)

	if err := s.listen(); err != nil {
		s.closeListeners()
		return nil, err
	}

	auth := authorizer{uid: os.Getuid()}
	s.grpc = grpc.NewServer(
		grpc.Creds(peerCredentials{}),
		grpc.ChainUnaryInterceptor(auth.unary),
		grpc.ChainStreamInterceptor(auth.stream),
	)
	supervisorv1.RegisterSupervisorServer(s.grpc, &service{
		ep:     ep,
		logger: logger.With().Str("component", "api").Logger(),
	})
	s.health = health.NewServer()
	s.health.SetServingStatus(supervisorv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	if s.web != nil {
		s.http = &http.Server{
			Handler:           gateway.NewHandler(ep, cfg.RootAPI, logger.With().Str("component", "gateway").Logger()),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	s.watch, err = watchSocket(s.rendezvousPath)
	if err != nil {
		s.closeListeners()
		return nil, err
	}

	if err := writePID(s.pidPath, os.Getpid()); err != nil {
		s.watch.watcher.Close()
		s.closeListeners()
		return nil, err
	}

	s.start()
	if n := s.sup.Discover(); n > 0 {
		logger.Info().Int("count", n).Msg("signalled unattached instances")
	}
	return s, nil
}

func identifier(mode config.CredentialsMode) (identity.Identifier, error) {
	switch mode {
	case config.CredentialsOff:
		return identity.Unverified{}, nil
	case config.CredentialsOn:
		if !identity.Supported {
			return nil, fmt.Errorf("peer credentials: %w", identity.ErrUnsupported)
		}
		return identity.Verified{}, nil
	default:
		if identity.Supported {
			return identity.Verified{}, nil
		}
		return identity.Unverified{}, nil
	}
}

func (s *Server) listen() error {
	if isServing(s.apiPath) {
		return ErrAlreadyRunning
	}
	for _, path := range []string{s.apiPath, s.rendezvousPath} {
		if err := ensureDir(path); err != nil {
			return err
		}
		// stale sockets of a dead daemon
		if err := removeFile(path); err != nil {
			return err
		}
	}

	var err error
	if s.rendezvous, err = listenUnix(s.rendezvousPath); err != nil {
		return fmt.Errorf("supervision socket: %w", err)
	}
	if s.api, err = listenUnix(s.apiPath); err != nil {
		return fmt.Errorf("api socket: %w", err)
	}
	if s.cfg.HTTPPort > 0 {
		if s.web, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HTTPPort)); err != nil {
			return fmt.Errorf("http port: %w", err)
		}
	}
	return nil
}

func listenUnix(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

func (s *Server) closeListeners() {
	for _, ln := range []net.Listener{s.rendezvous, s.api, s.web} {
		if ln != nil {
			ln.Close()
		}
	}
}

func (s *Server) start() {
	s.sctx = stopper.WithContext(context.Background())

	s.sctx.Go(func(sctx *stopper.Context) error {
		if err := s.sup.Serve(untilStopping(sctx), s.rendezvous); err != nil {
			s.fail(err)
		}
		return nil
	})

	s.sctx.Go(func(sctx *stopper.Context) error {
		go func() {
			<-sctx.Stopping()
			s.sessions.Close()
			s.grpc.GracefulStop()
		}()
		if err := s.grpc.Serve(s.api); err != nil {
			s.fail(fmt.Errorf("api server: %w", err))
		}
		return nil
	})

	if s.http != nil {
		s.sctx.Go(func(sctx *stopper.Context) error {
			go func() {
				<-sctx.Stopping()
				ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				s.http.Shutdown(ctx)
			}()
			if err := s.http.Serve(s.web); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.fail(fmt.Errorf("http gateway: %w", err))
			}
			return nil
		})
	}

	s.sctx.Go(func(sctx *stopper.Context) error {
		if err := s.watch.run(sctx); err != nil {
			s.fail(err)
		}
		return nil
	})

	s.sctx.Go(func(sctx *stopper.Context) error {
		t := time.NewTicker(sweepInterval(s.cfg.SessionTimeout))
		defer t.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-t.C:
				if n := s.sessions.Sweep(); n > 0 {
					s.logger.Debug().Int("count", n).Msg("expired sessions dropped")
				}
			}
		}
	})
}

func sweepInterval(timeout time.Duration) time.Duration {
	d := timeout / 2
	switch {
	case d < time.Second:
		return time.Second
	case d > time.Minute:
		return time.Minute
	}
	return d
}

// untilStopping returns a context cancelled once sctx starts stopping.
func untilStopping(sctx *stopper.Context) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sctx.Stopping()
		cancel()
	}()
	return ctx
}

// fail reports a fatal error unless the server is already stopping.
func (s *Server) fail(err error) {
	if s.sctx.IsStopping() {
		return
	}
	s.logger.Error().Err(err).Msg("daemon failure")
	select {
	case s.fatal <- err:
	default:
	}
}

// Done delivers the first fatal error. The daemon must then be closed.
func (s *Server) Done() <-chan error { return s.fatal }

// Supervisor returns the supervisor served by the daemon.
func (s *Server) Supervisor() *supervisor.Supervisor { return s.sup }

// APISocket returns the path of the API socket.
func (s *Server) APISocket() string { return s.apiPath }

// RendezvousSocket returns the path of the supervision socket.
func (s *Server) RendezvousSocket() string { return s.rendezvousPath }

// Close stops the server, detaches every peer and unlinks the sockets and
// the pid file. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.health.Shutdown()
		s.sctx.Stop(shutdownGrace)
		err := s.sctx.Wait()
		for _, p := range s.sup.Peers() {
			p.Conn.Close()
		}
		s.sessions.Close()
		s.closeErr = errors.Join(err,
			removeFile(s.rendezvousPath),
			removeFile(s.apiPath),
			removeFile(s.pidPath),
		)
	})
	return s.closeErr
}

// StopRunningDaemon sends a termination signal to the currently running daemon if any.
func StopRunningDaemon(force bool) error {
	pid, err := RunningPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if IsRunning() {
				return fmt.Errorf("daemon is running but PID file %q is missing; stop it manually", PIDPath())
			}
			return nil
		}
		return fmt.Errorf("unable to read daemon PID: %w", err)
	}
	if pid == os.Getpid() {
		return errors.New("refusing to stop current process")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := sendSignal(proc, syscall.SIGTERM); err != nil {
		return err
	}
	if waitForShutdown(3 * time.Second) {
		return nil
	}
	if !force {
		return fmt.Errorf("daemon process %d did not exit after SIGTERM", pid)
	}
	if err := sendSignal(proc, syscall.SIGKILL); err != nil {
		return err
	}
	if waitForShutdown(2 * time.Second) {
		return nil
	}
	return fmt.Errorf("daemon process %d did not exit after SIGKILL", pid)
}

func sendSignal(proc *os.Process, sig syscall.Signal) error {
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = removeFile(PIDPath())
			return nil
		}
		return err
	}
	return nil
}

func waitForShutdown(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsRunning() {
			_ = removeFile(PIDPath())
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

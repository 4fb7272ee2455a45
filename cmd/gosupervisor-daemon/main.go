package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gosupervisor/internal/config"
	"gosupervisor/internal/daemon"
	"gosupervisor/internal/logging"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

var version = "dev"

type options struct {
	config     string
	force      bool
	version    bool
	verbose    int
	quiet      int
	name       string
	port       int
	rootAPI    string
	apiTimeout int
	cntTimeout int
	sessionMax int
	workDir    string
	wsServer   string
	target     string
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("gosupervisor-daemon", flag.ContinueOnError)
	fs.StringVar(&opts.config, "config", "", "Path to a JSON, YAML or TOML config file")
	fs.BoolVar(&opts.force, "force", false, "Stop an existing daemon before starting")
	fs.BoolVarP(&opts.version, "version", "V", false, "Print the version and exit")
	fs.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (repeatable)")
	fs.CountVarP(&opts.quiet, "quiet", "q", "Decrease log verbosity (repeatable)")
	fs.StringVarP(&opts.name, "name", "n", "", "Process name added to every log line")
	fs.IntVarP(&opts.port, "port", "p", -1, "HTTP gateway port, 0 disables it")
	fs.StringVar(&opts.rootAPI, "rootapi", "", "Root path of the HTTP API")
	fs.IntVar(&opts.apiTimeout, "apitimeout", 0, "Verb timeout in seconds")
	fs.IntVar(&opts.cntTimeout, "cntxtimeout", 0, "Idle session timeout in seconds")
	fs.IntVar(&opts.sessionMax, "session-max", 0, "Maximum number of client sessions")
	fs.StringVarP(&opts.workDir, "workdir", "w", "", "Working directory of the daemon")
	fs.StringVarP(&opts.wsServer, "ws-server", "s", "", "Path of the API socket")
	fs.StringVar(&opts.target, "target", "", "Executable name of supervised instances")
	return fs
}

// apply overlays the explicitly set flags on cfg.
func (o options) apply(fs *flag.FlagSet, cfg *config.Config) error {
	if fs.Changed("name") {
		cfg.Name = o.name
	}
	if fs.Changed("port") {
		if o.port < 0 || o.port > 65535 {
			return fmt.Errorf("invalid port %d", o.port)
		}
		cfg.HTTPPort = o.port
	}
	if fs.Changed("rootapi") {
		cfg.RootAPI = o.rootAPI
	}
	if fs.Changed("apitimeout") {
		if o.apiTimeout <= 0 {
			return fmt.Errorf("invalid apitimeout %d", o.apiTimeout)
		}
		cfg.APITimeout = time.Duration(o.apiTimeout) * time.Second
	}
	if fs.Changed("cntxtimeout") {
		if o.cntTimeout <= 0 {
			return fmt.Errorf("invalid cntxtimeout %d", o.cntTimeout)
		}
		cfg.SessionTimeout = time.Duration(o.cntTimeout) * time.Second
	}
	if fs.Changed("session-max") {
		cfg.SessionMax = o.sessionMax
	}
	if fs.Changed("workdir") {
		cfg.WorkDir = o.workDir
	}
	if fs.Changed("ws-server") {
		cfg.APISocket = o.wsServer
	}
	if fs.Changed("target") {
		cfg.Target = o.target
	}
	return cfg.Validate()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "gosupervisor-daemon: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		die("%v", err)
	}
	if opts.version {
		fmt.Println("gosupervisor-daemon", version)
		return
	}

	logging.ConfigureRuntime(opts.verbose - opts.quiet)

	cfg, err := config.Load(opts.config)
	if err != nil {
		die("%v", err)
	}
	if err := opts.apply(fs, &cfg); err != nil {
		die("%v", err)
	}
	if cfg.WorkDir != "" && cfg.WorkDir != "." {
		if err := os.Chdir(cfg.WorkDir); err != nil {
			die("can't enter workdir: %v", err)
		}
	}
	logger := logging.Component("daemon").With().Str("app", cfg.Name).Logger()

	if daemon.IsRunning() {
		if !opts.force {
			pid, err := daemon.RunningPID()
			if err != nil {
				logger.Fatal().Err(err).Msg("daemon appears running but pid check failed")
			}
			logger.Info().Int("pid", pid).Msg("daemon is already running, use --force to restart")
			return
		}
		logger.Info().Msg("stopping existing daemon")
		if err := daemon.StopRunningDaemon(true); err != nil {
			logger.Fatal().Err(err).Msg("failed to stop running daemon")
		}
	}

	srv, err := daemon.StartDaemon(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start daemon")
	}
	logger.Info().
		Int("pid", os.Getpid()).
		Str("rendezvous", srv.RendezvousSocket()).
		Str("api", srv.APISocket()).
		Msg("daemon started, press Ctrl+C to stop")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	var fatal error
	select {
	case sig := <-sigc:
		logger.Info().Str("signal", sig.String()).Msg("stopping daemon")
	case fatal = <-srv.Done():
		logger.Error().Err(fatal).Msg("daemon failed")
	}
	if err := srv.Close(); err != nil {
		log.Error().Err(err).Msg("error shutting down daemon")
	}
	if fatal != nil {
		os.Exit(1)
	}
	logger.Info().Msg("daemon stopped")
}

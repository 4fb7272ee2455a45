package main

import (
	"context"
	"log"
	"time"

	"gosupervisor/internal/app"
	"gosupervisor/internal/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	sessionID  string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "gosupervisor [command]",
	Short: "gosupervisor: supervisor of afb-daemon instances",
	Long:  `gosupervisor keeps track of the afb-daemon instances attached to it and relays supervision verbs to them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime(verbosity)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON, YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Resume an existing supervisor session")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
}

// controllerAPI is the subset of app.App the commands use.
type controllerAPI interface {
	Ping(ctx context.Context, timeout time.Duration) (string, error)
	List(ctx context.Context, params app.ListParams) ([]app.Peer, error)
	Forward(ctx context.Context, params app.ForwardParams) (any, error)
	Discover(ctx context.Context, timeout time.Duration) (int, error)
	Watch(ctx context.Context, timeout time.Duration, fn func(app.Notification) error) error
	Status() (app.DaemonStatus, error)
	StopDaemon(force bool) error
	StartDaemon() (*app.DaemonHandle, error)
}

var controllerFactory = func() controllerAPI {
	return app.New(app.Options{ConfigPath: configPath, Session: sessionID})
}

func controller() controllerAPI {
	return controllerFactory()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

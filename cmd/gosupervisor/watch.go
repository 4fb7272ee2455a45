package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"gosupervisor/internal/app"

	"github.com/spf13/cobra"
)

var watchTimeout int

func init() {
	rootCmd.AddCommand(cmdWatch)
	cmdWatch.Flags().IntVarP(&watchTimeout, "timeout", "t", 3, "Timeout in seconds for connecting to the daemon")
}

var cmdWatch = &cobra.Command{
	Use:   "watch",
	Short: "Print instances as they attach to and detach from the supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		return controller().Watch(ctx, time.Duration(watchTimeout)*time.Second, func(n app.Notification) error {
			fmt.Fprintf(out, "%s %s pid=%d\n", time.Now().Format(time.TimeOnly), n.Event, n.PID)
			return nil
		})
	},
}

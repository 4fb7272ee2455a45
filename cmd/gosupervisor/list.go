package main

import (
	"fmt"
	"time"

	"gosupervisor/internal/app"

	"github.com/spf13/cobra"
)

var listTimeout int

func init() {
	rootCmd.AddCommand(cmdList)
	cmdList.Flags().IntVarP(&listTimeout, "timeout", "t", 2, "Timeout in seconds for the daemon request")
}

var cmdList = &cobra.Command{
	Use:   "list",
	Short: "List the afb-daemon instances attached to the supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := controller().List(cmd.Context(), app.ListParams{Timeout: time.Duration(listTimeout) * time.Second})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(peers) == 0 {
			fmt.Fprintln(out, "No instances attached")
			return nil
		}
		for _, p := range peers {
			if !p.Verified {
				fmt.Fprintf(out, "pid=%d (no credentials)\n", p.PID)
				continue
			}
			fmt.Fprintf(out, "pid=%d uid=%d gid=%d user=%s label=%s id=%s\n",
				p.PID, p.UID, p.GID, p.User, p.Label, p.ID)
		}
		return nil
	},
}

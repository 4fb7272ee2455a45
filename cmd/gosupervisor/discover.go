package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var discoverTimeout int

func init() {
	rootCmd.AddCommand(cmdDiscover)
	cmdDiscover.Flags().IntVarP(&discoverTimeout, "timeout", "t", 5, "Timeout in seconds for the daemon request")
}

var cmdDiscover = &cobra.Command{
	Use:   "discover",
	Short: "Signal running afb-daemon instances that are not attached yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := controller().Discover(cmd.Context(), time.Duration(discoverTimeout)*time.Second)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signalled %d instance(s)\n", n)
		return nil
	},
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gosupervisor/internal/app"

	"github.com/spf13/cobra"
)

var (
	forwardPID     int
	forwardArgs    string
	forwardTimeout int
)

func init() {
	for _, verb := range app.ForwardVerbs {
		c := newForwardCommand(verb)
		c.Flags().IntVarP(&forwardPID, "pid", "p", 0, "Pid of the target instance")
		c.Flags().StringVarP(&forwardArgs, "args", "a", "", "JSON object merged into the verb arguments")
		c.Flags().IntVar(&forwardTimeout, "timeout", 20, "Timeout in seconds for the daemon request")
		_ = c.MarkFlagRequired("pid")
		rootCmd.AddCommand(c)
	}
}

func newForwardCommand(verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " --pid <pid> [--args <json>]",
		Short: fmt.Sprintf("Relay %q to one attached instance", verb),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseArgs(forwardArgs)
			if err != nil {
				return err
			}
			data, err := controller().Forward(cmd.Context(), app.ForwardParams{
				Verb:    verb,
				PID:     forwardPID,
				Args:    extra,
				Timeout: time.Duration(forwardTimeout) * time.Second,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
}

func parseArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("--args must be a JSON object")
	}
	return obj, nil
}

func printJSON(cmd *cobra.Command, data any) error {
	if data == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := opts.client()

			var healthResp map[string]any
			if err := client.getJSON("/healthz", &healthResp); err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}

			var readyResp map[string]any
			if err := client.getJSON("/readyz", &readyResp); err != nil {
				// The server may still be connecting to its database.
				readyResp = map[string]any{"status": "unknown", "error": err.Error()}
			}

			if structured(opts.outputFmt) {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, map[string]any{
					"health":    healthResp,
					"readiness": readyResp,
				})
			}

			status, _ := healthResp["status"].(string)
			ready, _ := readyResp["status"].(string)
			printTable(cmd.OutOrStdout(), []string{"Check", "Status"}, [][]string{
				{"Liveness", status},
				{"Readiness", ready},
			})
			return nil
		},
	}
}

// Command orchestrator runs the cross-database query orchestrator: an
// HTTP server that accepts natural-language questions and streams
// per-operation progress as Server-Sent Events, plus a one-shot CLI
// query mode and a relational-bookkeeping migration runner.
//
// Subcommands are wired with github.com/spf13/cobra, matching the CLI
// shape the wider pack uses for multi-command tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envPath string

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Cross-database query orchestrator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "orchestrator.yaml", "path to the orchestrator config file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to an optional .env file")

	root.AddCommand(newServeCmd(&configPath, &envPath))
	root.AddCommand(newAskCmd())
	root.AddCommand(newMigrateCmd(&configPath, &envPath))
	return root
}

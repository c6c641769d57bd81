package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/fenrir/internal/dialect"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fenrir",
		Short: "SQL over HTTP and MCP for AI agents",
		Long: `fenrir exposes a PostgreSQL, MySQL or SQLite database to AI agents
through a small authenticated HTTP API and an optional MCP endpoint.

Examples:
  fenrir configure                      # Write .fenrir/config.yaml
  fenrir doctor                         # Validate config, print agent snippets
  FENRIR_API_KEY=s3cret fenrir serve    # Start the server`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigureCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "fenrir %s\n", version)
			fmt.Fprintln(w, "\nSupported drivers:")
			for _, name := range dialect.Names() {
				fmt.Fprintf(w, "  - %s\n", name)
			}
		},
	}
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/fenrir/internal/configure"
)

func newConfigureCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Run the interactive configuration wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner(os.Stderr, isTTY(os.Stderr.Fd()))
			return configure.Run(resolveConfigPath(configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

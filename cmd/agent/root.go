package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelkit/reel-agent/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "reel-agent",
		Short:         "Local agent that turns videos into scripts and storyboards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path := strings.TrimSpace(configFlag); path != "" {
				return os.Setenv(config.EnvConfigFile, path)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), false)
		},
	}

	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newBreakdownCommand())
	root.AddCommand(newSampleCommand())
	root.AddCommand(newDoctorCommand())
	root.AddCommand(newRunsCommand())

	return root
}

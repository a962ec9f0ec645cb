// Package commands implements the agent's command line interface
package commands

import (
	"github.com/spf13/cobra"

	"github.com/sidecar-labs/chaos-agent/internal/version"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
)

// BuildRootCmd builds the root command for the agent with all the
// persistent flags and subcommands
func BuildRootCmd(env runtime.Environment) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "chaos-agent",
		Short: "Inject failures into a co-located application",
		Long: "A sidecar that periodically injects cpu, memory, process and network\n" +
			"failures into the application it runs next to.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the configuration file (default: ./config.yaml or /etc/chaos-agent/config.yaml)")

	rootCmd.AddCommand(BuildRunCmd(env, &configPath))
	rootCmd.AddCommand(BuildCleanupCmd(env, &configPath))

	return rootCmd
}

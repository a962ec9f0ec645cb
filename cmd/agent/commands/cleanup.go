package commands

import (
	"errors"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
	"github.com/sidecar-labs/chaos-agent/pkg/tc"
)

// BuildCleanupCmd returns the command that stops a running agent and strips
// any leftover network impairment. It is safe to run when no agent is
// running and no impairment is in place.
func BuildCleanupCmd(env runtime.Environment, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "stop a running agent and remove leftover network rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			var errs error

			// a running agent rolls back its own injections on SIGTERM
			if owner := env.Lock().Owner(); owner > 0 {
				if err := syscall.Kill(owner, syscall.SIGTERM); err != nil {
					errs = errors.Join(errs, err)
				}
			}

			// remove the qdisc directly in case a previous agent died
			// without rolling it back
			traffic := tc.New(env.Executor())
			if err := traffic.Remove(cmd.Context(), cfg.Failures.Network.Interface); err != nil {
				errs = errors.Join(errs, err)
			}

			return errs
		},
	}
}

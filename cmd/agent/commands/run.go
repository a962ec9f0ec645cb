package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidecar-labs/chaos-agent/pkg/agent"
	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
)

// BuildRunCmd returns the command that runs the injection loop until a
// termination signal arrives
func BuildRunCmd(env runtime.Environment, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the injection loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			log, err := buildLogger(cfg.Log)
			if err != nil {
				return err
			}

			return agent.New(cfg, env, log).Run(cmd.Context())
		},
	}
}

// buildLogger configures the process logger from the log section of the
// configuration. The configuration is validated, but the level string is
// parsed here and can still be unknown.
func buildLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log, nil
}

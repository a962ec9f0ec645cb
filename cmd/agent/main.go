// Package main implements the root level command for the chaos agent CLI
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/cmd/agent/commands"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
)

func main() {
	rootCmd := commands.BuildRootCmd(runtime.DefaultEnvironment())

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("agent exited with error")
		os.Exit(1)
	}
}

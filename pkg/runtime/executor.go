package runtime

import (
	"context"
	"os/exec"
)

// Executor offers methods for running external commands
type Executor interface {
	// Exec runs a command and waits for its completion, returning the
	// combined stdout and stderr. The command is killed if the context
	// is canceled before it completes.
	Exec(ctx context.Context, cmd string, args ...string) ([]byte, error)
}

// An instance of an executor that uses the os/exec package for
// executing commands
type executor struct{}

// DefaultExecutor returns a default executor
func DefaultExecutor() Executor {
	return &executor{}
}

func (e *executor) Exec(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, cmd, args...).CombinedOutput()
}

// Package runtime abstracts the execution environment of the agent.
// Components that interact with the host system (external binaries, signals,
// the single-instance lock) do so through the Environment interface, which
// allows introducing mocks for testing.
package runtime

// Environment abstracts the execution environment of the agent process.
type Environment interface {
	// Executor returns an executor for running external commands
	Executor() Executor
	// Signal returns a handler for process signals
	Signal() Signals
	// Lock returns the single-instance lock for the agent
	Lock() Lock
}

// environment keeps the state of the default execution environment
type environment struct {
	executor Executor
	signals  Signals
	lock     Lock
}

// DefaultEnvironment returns the default execution environment
func DefaultEnvironment() Environment {
	return environment{
		executor: DefaultExecutor(),
		signals:  DefaultSignals(),
		lock:     DefaultLock(),
	}
}

func (e environment) Executor() Executor {
	return e.executor
}

func (e environment) Signal() Signals {
	return e.signals
}

func (e environment) Lock() Lock {
	return e.lock
}

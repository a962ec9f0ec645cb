package runtime

import (
	"context"
	"os"
	"strings"
	"sync"
)

// FakeExecutor is an Executor that keeps the history of commands for
// inspection and returns predefined results. It returns the same output and
// error on every call; if different results are needed per invocation,
// [CallbackExecutor] may be a better alternative. It is safe for use from
// multiple goroutines.
type FakeExecutor struct {
	mu          sync.Mutex
	invocations int
	commands    []string
	err         error
	output      []byte
}

// NewFakeExecutor creates a new FakeExecutor that returns the given output and error
func NewFakeExecutor(output []byte, err error) *FakeExecutor {
	return &FakeExecutor{
		err:    err,
		output: output,
	}
}

func (p *FakeExecutor) updateHistory(cmd string, args ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmdLine := cmd + " " + strings.Join(args, " ")
	p.commands = append(p.commands, cmdLine)
	p.invocations++
}

// Exec records the invocation and returns the predefined results
func (p *FakeExecutor) Exec(_ context.Context, cmd string, args ...string) ([]byte, error) {
	p.updateHistory(cmd, args...)
	return p.output, p.err
}

// Invoked indicates if Exec was invoked at least once
func (p *FakeExecutor) Invoked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invocations > 0
}

// Cmd returns the command line passed to the last invocation
func (p *FakeExecutor) Cmd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invocations == 0 {
		return ""
	}
	return p.commands[p.invocations-1]
}

// CmdHistory returns a copy of the history of executed command lines
func (p *FakeExecutor) CmdHistory() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	history := make([]string, len(p.commands))
	copy(history, p.commands)
	return history
}

// Invocations returns the number of invocations to Exec
func (p *FakeExecutor) Invocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invocations
}

// Reset clears the history of invocations
func (p *FakeExecutor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invocations = 0
	p.commands = []string{}
}

// ExecCallback defines a function that receives the forward of an Exec
// invocation and returns its output and error
type ExecCallback func(cmd string, args ...string) ([]byte, error)

// CallbackExecutor is a fake Executor that forwards invocations to a
// function that can dynamically return error and output.
type CallbackExecutor struct {
	FakeExecutor
	callback ExecCallback
}

// NewCallbackExecutor returns an instance of a CallbackExecutor
func NewCallbackExecutor(callback ExecCallback) *CallbackExecutor {
	return &CallbackExecutor{
		callback: callback,
	}
}

// Exec forwards the invocation to the callback
func (c *CallbackExecutor) Exec(_ context.Context, cmd string, args ...string) ([]byte, error) {
	// update command history but take outputs from the callback
	c.FakeExecutor.updateHistory(cmd, args...)
	return c.callback(cmd, args...)
}

// FakeSignal implements fake signal handling for testing
type FakeSignal struct {
	channel chan os.Signal
}

// NewFakeSignal returns a FakeSignal
func NewFakeSignal() *FakeSignal {
	return &FakeSignal{
		channel: make(chan os.Signal),
	}
}

// Notify implements Signals interface's Notify method
func (f *FakeSignal) Notify(_ ...os.Signal) <-chan os.Signal {
	return f.channel
}

// Reset implements Signals interface's Reset method. It is noop.
func (f *FakeSignal) Reset(_ ...os.Signal) {
}

// Send sends the given signal to the notification channel
func (f *FakeSignal) Send(signal os.Signal) {
	f.channel <- signal
}

// FakeLock implements a Lock for testing
type FakeLock struct {
	locked   bool
	released bool
	owner    int
}

// NewFakeLock returns a FakeLock
func NewFakeLock() *FakeLock {
	return &FakeLock{}
}

// Acquire implements the Acquire method from the Lock interface
func (p *FakeLock) Acquire() (bool, error) {
	p.locked = true
	p.owner = os.Getpid()
	return true, nil
}

// Release implements the Release method from the Lock interface
func (p *FakeLock) Release() error {
	p.released = true
	return nil
}

// Owner implements the Owner method from the Lock interface
func (p *FakeLock) Owner() int {
	if !p.locked || p.released {
		return -1
	}

	return p.owner
}

// FakeEnvironment holds the state of a fake execution environment for testing
type FakeEnvironment struct {
	FakeExecutor *FakeExecutor
	FakeSignal   *FakeSignal
	FakeLock     *FakeLock
}

// NewFakeEnvironment creates a default FakeEnvironment
func NewFakeEnvironment() *FakeEnvironment {
	return &FakeEnvironment{
		FakeExecutor: NewFakeExecutor(nil, nil),
		FakeSignal:   NewFakeSignal(),
		FakeLock:     NewFakeLock(),
	}
}

// Executor implements the Executor method from the Environment interface
func (f *FakeEnvironment) Executor() Executor {
	return f.FakeExecutor
}

// Signal implements the Signal method from the Environment interface
func (f *FakeEnvironment) Signal() Signals {
	return f.FakeSignal
}

// Lock implements the Lock method from the Environment interface
func (f *FakeEnvironment) Lock() Lock {
	return f.FakeLock
}

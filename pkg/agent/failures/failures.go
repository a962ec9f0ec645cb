// Package failures implements the failure modules the scheduler dispatches:
// cpu and memory stressors, the self-protecting process terminator and the
// network latency injector.
package failures

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
	"github.com/sidecar-labs/chaos-agent/pkg/process"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
	"github.com/sidecar-labs/chaos-agent/pkg/tc"
)

// Outcome is the result of one dispatch attempt of a failure module
type Outcome string

const (
	// OutcomeSuccess indicates the injection was applied (or was a benign no-op)
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed indicates the injection errored; partial effects were rolled back
	OutcomeFailed Outcome = "failed"
	// OutcomeSkippedDryRun indicates dry-run mode suppressed the effect
	OutcomeSkippedDryRun Outcome = "skipped-dry-run"
	// OutcomeSkippedDisabled indicates the failure type is disabled
	OutcomeSkippedDisabled Outcome = "skipped-disabled"
	// OutcomeSkippedProbability indicates the probability gate did not fire
	OutcomeSkippedProbability Outcome = "skipped-probability"
)

// Injector is the contract every failure module implements. Inject never
// panics out of the caller, never blocks longer than the module's configured
// duration plus a small bounded overhead, and rolls back partial system
// effects before returning a failure.
type Injector interface {
	// Type returns the failure type name used in metrics and logs
	Type() string
	// Inject applies the failure. In dry-run mode it performs no
	// system-level effect and returns OutcomeSkippedDryRun.
	Inject(ctx context.Context, dryRun bool) (Outcome, error)
}

// Entry pairs an Injector with its dispatch gates
type Entry struct {
	Injector
	Enabled     bool
	Probability float64
}

// Options carries the shared collaborators injected into the failure modules
type Options struct {
	Metrics *metrics.Metrics
	Log     *logrus.Logger
	Traffic *tc.TrafficControl
	Lister  process.Lister
	Killer  process.Killer
	Tracker *Tracker
	// Marker is the self-identifying command line marker protected from
	// process termination. Defaults to process.SelfMarker.
	Marker string
}

// withDefaults fills in the collaborators the caller left unset.
// Constructors call it so a partially built Options is always safe.
func (o Options) withDefaults() Options {
	if o.Marker == "" {
		o.Marker = process.SelfMarker
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(nil)
	}
	if o.Log == nil {
		o.Log = logrus.New()
	}
	if o.Tracker == nil {
		o.Tracker = NewTracker()
	}
	if o.Traffic == nil {
		o.Traffic = tc.New(runtime.DefaultEnvironment().Executor())
	}

	return o
}

// Registry returns the failure modules in their fixed dispatch order:
// cpu, memory, process, network. The order is stable across ticks so an
// injection schedule is reproducible for a fixed random seed.
func Registry(cfg config.FailuresConfig, opts Options) []Entry {
	opts = opts.withDefaults()

	return []Entry{
		{
			Injector:    NewCPU(cfg.CPU, opts),
			Enabled:     cfg.CPU.Enabled,
			Probability: cfg.CPU.Probability,
		},
		{
			Injector:    NewMemory(cfg.Memory, opts),
			Enabled:     cfg.Memory.Enabled,
			Probability: cfg.Memory.Probability,
		},
		{
			Injector:    NewProcess(cfg.Process, opts),
			Enabled:     cfg.Process.Enabled,
			Probability: cfg.Process.Probability,
		},
		{
			Injector:    NewNetwork(cfg.Network, opts),
			Enabled:     cfg.Network.Enabled,
			Probability: cfg.Network.Probability,
		},
	}
}

// Tracker counts in-flight off-path injection work (memory holds, deferred
// network rule removals) so shutdown can wait for it with a bound.
type Tracker struct {
	wg sync.WaitGroup
}

// NewTracker returns an empty Tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add registers in-flight work
func (t *Tracker) Add(delta int) {
	t.wg.Add(delta)
}

// Done marks one unit of work as finished
func (t *Tracker) Done() {
	t.wg.Done()
}

// Drain waits for all in-flight work to finish, up to the given timeout.
// It returns false if the timeout expired first.
func (t *Tracker) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Package agent wires the failure modules, the scheduler and the metrics
// endpoint into a long-running sidecar process with coordinated shutdown.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/agent/failures"
	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
	"github.com/sidecar-labs/chaos-agent/pkg/process"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
	"github.com/sidecar-labs/chaos-agent/pkg/tc"
)

// State reports where the agent is in its lifecycle
type State int32

const (
	// StateStopped is the state before Run and after shutdown completes
	StateStopped State = iota
	// StateRunning is the normal injection-loop state
	StateRunning
	// StateShuttingDown means a stop was requested and the loop is winding down
	StateShuttingDown
	// StateDraining means in-flight injections are being rolled back
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Option overrides one of the agent's collaborators, mostly for testing
type Option func(*Agent)

// WithLister overrides the process enumerator
func WithLister(lister process.Lister) Option {
	return func(a *Agent) {
		a.lister = lister
	}
}

// WithKiller overrides the process terminator
func WithKiller(killer process.Killer) Option {
	return func(a *Agent) {
		a.killer = killer
	}
}

// Agent owns the lifecycle of one chaos sidecar instance: a process lock,
// the metrics endpoint, the injection loop and the shutdown rollback.
type Agent struct {
	cfg     *config.Config
	env     runtime.Environment
	log     *logrus.Logger
	metrics *metrics.Metrics
	server  *metrics.Server
	traffic *tc.TrafficControl
	tracker *failures.Tracker
	lister  process.Lister
	killer  process.Killer

	state atomic.Int32

	// bound on waiting for in-flight injections during shutdown
	drainTimeout time.Duration
}

// New builds an Agent from a validated configuration
func New(cfg *config.Config, env runtime.Environment, log *logrus.Logger, opts ...Option) *Agent {
	if env == nil {
		env = runtime.DefaultEnvironment()
	}
	if log == nil {
		log = logrus.New()
	}

	registry := prometheus.NewRegistry()

	a := &Agent{
		cfg:          cfg,
		env:          env,
		log:          log,
		metrics:      metrics.New(registry),
		server:       metrics.NewServer(cfg.Metrics.Port, registry),
		traffic:      tc.New(env.Executor()),
		tracker:      failures.NewTracker(),
		drainTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// State returns the agent's current lifecycle state
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Run executes the agent until the context is canceled or a termination
// signal arrives, then rolls back all in-flight injections before returning.
// Only one instance can run at a time; a second one fails to start.
func (a *Agent) Run(ctx context.Context) error {
	signals := a.env.Signal().Notify(syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer a.env.Signal().Reset()

	acquired, err := a.env.Lock().Acquire()
	if err != nil {
		return fmt.Errorf("could not acquire process lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another instance is already running (pid %d)", a.env.Lock().Owner())
	}
	defer func() {
		_ = a.env.Lock().Release()
	}()

	a.state.Store(int32(StateRunning))
	defer a.state.Store(int32(StateStopped))

	serverErr := make(chan error, 1)
	go func() {
		a.log.Infof("metrics endpoint listening on :%d", a.cfg.Metrics.Port)
		serverErr <- a.server.Start()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := failures.Registry(a.cfg.Failures, failures.Options{
		Metrics: a.metrics,
		Log:     a.log,
		Traffic: a.traffic,
		Lister:  a.lister,
		Killer:  a.killer,
		Tracker: a.tracker,
	})

	scheduler := NewScheduler(a.cfg.Agent, entries, a.metrics, a.log)
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- scheduler.Run(ctx)
	}()

	var runErr error
	loopFinished := false
	select {
	case s := <-signals:
		a.log.Infof("received signal %q, shutting down", s)
	case <-ctx.Done():
		a.log.Info("context canceled, shutting down")
	case runErr = <-loopDone:
		// loop ended on its own, still roll back before returning
		loopFinished = true
	case err := <-serverErr:
		runErr = fmt.Errorf("metrics endpoint failed: %w", err)
	}

	a.state.Store(int32(StateShuttingDown))
	cancel()
	if !loopFinished {
		<-loopDone
	}

	a.drain()

	return runErr
}

// drain rolls back all in-flight injections: waits out the tracked off-path
// work with a bound, strips any remaining traffic rules and stops the
// metrics endpoint. Rollback failures are logged, never fatal.
func (a *Agent) drain() {
	a.state.Store(int32(StateDraining))
	a.log.Info("draining in-flight injections")

	if !a.tracker.Drain(a.drainTimeout) {
		a.log.Warnf("in-flight injections still pending after %s, proceeding with cleanup", a.drainTimeout)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.traffic.Cleanup(cleanupCtx); err != nil {
		a.log.WithError(err).Error("removing remaining traffic rules")
	}

	if err := a.server.Shutdown(cleanupCtx); err != nil {
		a.log.WithError(err).Warn("stopping metrics endpoint")
	}

	a.log.Info("shutdown complete")
}

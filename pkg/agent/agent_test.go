package agent

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sidecar-labs/chaos-agent/pkg/agent/failures"
	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/process"
	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
)

func newTestConfig(f config.FailuresConfig) *config.Config {
	return &config.Config{
		Agent:    config.AgentConfig{IntervalSeconds: 1, Seed: 42},
		Failures: f,
		// port 0 binds an ephemeral port, tests can run in parallel
		Metrics: config.MetricsConfig{Port: 0},
		Log:     config.LogConfig{Level: "error", Format: "text"},
	}
}

// waitFor polls the condition until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func Test_AgentInjectsAndStopsOnSignal(t *testing.T) {
	t.Parallel()

	env := runtime.NewFakeEnvironment()
	cfg := newTestConfig(config.FailuresConfig{
		CPU: config.CPUConfig{Enabled: true, Probability: 1.0, DurationSeconds: 1, Cores: 1},
	})

	a := New(cfg, env, nil)

	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background())
	}()

	successes := func() float64 {
		return testutil.ToFloat64(a.metrics.InjectionsTotal.WithLabelValues("cpu", string(failures.OutcomeSuccess)))
	}

	waitFor(t, 10*time.Second, func() bool { return successes() >= 1 }, "no cpu injection completed")

	if state := a.State(); state != StateRunning {
		t.Errorf("expected state %q while injecting, got %q", StateRunning, state)
	}

	env.FakeSignal.Send(syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("agent did not stop after the signal")
	}

	if state := a.State(); state != StateStopped {
		t.Errorf("expected state %q after shutdown, got %q", StateStopped, state)
	}
	if active := testutil.ToFloat64(a.metrics.InjectionActive.WithLabelValues("cpu")); active != 0 {
		t.Errorf("expected active gauge 0 after shutdown, got %v", active)
	}
}

func Test_AgentNeverTerminatesItself(t *testing.T) {
	t.Parallel()

	env := runtime.NewFakeEnvironment()
	cfg := newTestConfig(config.FailuresConfig{
		// the target matches the agent's own process name
		Process: config.ProcessConfig{Enabled: true, Probability: 1.0, Target: "chaos"},
	})

	lister := &process.FakeLister{Procs: []process.Snapshot{
		{PID: int32(os.Getpid()), PPID: int32(os.Getppid()), Name: "chaos-agent", Cmdline: "/usr/bin/chaos-agent run"},
		{PID: 500, PPID: 1, Name: "other-app"},
	}}
	killer := &process.FakeKiller{}

	a := New(cfg, env, nil, WithLister(lister), WithKiller(killer))

	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background())
	}()

	noOps := func() float64 {
		return testutil.ToFloat64(a.metrics.InjectionsTotal.WithLabelValues("process", string(failures.OutcomeSuccess)))
	}

	// self-matching targets yield a benign no-op, the loop keeps going
	waitFor(t, 10*time.Second, func() bool { return noOps() >= 2 }, "loop did not keep dispatching")

	if len(killer.Terminated()) != 0 {
		t.Errorf("expected no process signaled, got %v", killer.Terminated())
	}

	env.FakeSignal.Send(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("agent did not stop after the signal")
	}
}

func Test_AgentStopsWhenContextAlreadyCanceled(t *testing.T) {
	t.Parallel()

	env := runtime.NewFakeEnvironment()
	cfg := newTestConfig(config.FailuresConfig{
		CPU: config.CPUConfig{Enabled: true, Probability: 1.0, DurationSeconds: 1, Cores: 1},
	})

	a := New(cfg, env, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the injection loop may observe the cancellation before Run does;
	// shutdown must complete either way
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("agent hung shutting down with a canceled context")
	}

	if state := a.State(); state != StateStopped {
		t.Errorf("expected state %q after shutdown, got %q", StateStopped, state)
	}
}

func Test_AgentRemovesNetworkRuleOnShutdown(t *testing.T) {
	t.Parallel()

	env := runtime.NewFakeEnvironment()
	cfg := newTestConfig(config.FailuresConfig{
		Network: config.NetworkConfig{
			Enabled:         true,
			Probability:     1.0,
			DurationSeconds: 300,
			Interface:       "eth0",
			DelayMillis:     100,
		},
	})

	a := New(cfg, env, nil)

	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background())
	}()

	waitFor(t, 10*time.Second, func() bool { return a.traffic.Installed("eth0") }, "latency rule never installed")

	// shutdown in the middle of the impairment window must roll it back
	env.FakeSignal.Send(syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("agent did not stop after the signal")
	}

	if a.traffic.Installed("eth0") {
		t.Errorf("expected the latency rule removed on shutdown")
	}

	var removals int
	for _, cmd := range env.FakeExecutor.CmdHistory() {
		if cmd == "tc qdisc del dev eth0 root" {
			removals++
		}
	}
	// one removal precedes the install, at least one more rolls it back
	if removals < 2 {
		t.Errorf("expected a rollback removal command, history: %v", env.FakeExecutor.CmdHistory())
	}
}

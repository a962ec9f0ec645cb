package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sidecar-labs/chaos-agent/pkg/agent/failures"
	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
)

// fakeInjector records invocations and returns predefined results.
// It is safe for use from multiple goroutines.
type fakeInjector struct {
	name     string
	outcome  failures.Outcome
	err      error
	panicMsg string

	mu          sync.Mutex
	invocations int
	lastDryRun  bool
}

func (f *fakeInjector) Type() string {
	return f.name
}

func (f *fakeInjector) Inject(_ context.Context, dryRun bool) (failures.Outcome, error) {
	f.mu.Lock()
	f.invocations++
	f.lastDryRun = dryRun
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.outcome, f.err
}

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invocations
}

func (f *fakeInjector) dryRun() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastDryRun
}

func newScheduler(cfg config.AgentConfig, m *metrics.Metrics, entries ...failures.Entry) *Scheduler {
	return NewScheduler(cfg, entries, m, nil)
}

func Test_ProbabilityGate(t *testing.T) {
	t.Parallel()

	const ticks = 1000

	testCases := []struct {
		title               string
		probability         float64
		enabled             bool
		expectedInvocations int
		expectedStatus      string
	}{
		{
			title:               "probability zero never fires",
			probability:         0.0,
			enabled:             true,
			expectedInvocations: 0,
			expectedStatus:      string(failures.OutcomeSkippedProbability),
		},
		{
			title:               "probability one always fires",
			probability:         1.0,
			enabled:             true,
			expectedInvocations: ticks,
			expectedStatus:      string(failures.OutcomeSuccess),
		},
		{
			title:               "disabled module is never invoked",
			probability:         1.0,
			enabled:             false,
			expectedInvocations: 0,
			expectedStatus:      string(failures.OutcomeSkippedDisabled),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			injector := &fakeInjector{name: "cpu", outcome: failures.OutcomeSuccess}
			m := metrics.New(nil)
			scheduler := newScheduler(
				config.AgentConfig{IntervalSeconds: 1, Seed: 42},
				m,
				failures.Entry{Injector: injector, Enabled: tc.enabled, Probability: tc.probability},
			)

			for n := 0; n < ticks; n++ {
				scheduler.tick(context.Background())
			}

			if injector.count() != tc.expectedInvocations {
				t.Errorf("expected %d invocations got %d", tc.expectedInvocations, injector.count())
			}

			recorded := testutil.ToFloat64(m.InjectionsTotal.WithLabelValues("cpu", tc.expectedStatus))
			if recorded != float64(ticks) {
				t.Errorf("expected %d %q outcomes recorded, got %v", ticks, tc.expectedStatus, recorded)
			}
		})
	}
}

func Test_ScheduleIsReproducible(t *testing.T) {
	t.Parallel()

	const ticks = 200

	run := func(seed int64) []bool {
		injector := &fakeInjector{name: "cpu", outcome: failures.OutcomeSuccess}
		scheduler := newScheduler(
			config.AgentConfig{IntervalSeconds: 1, Seed: seed},
			metrics.New(nil),
			failures.Entry{Injector: injector, Enabled: true, Probability: 0.5},
		)

		fired := make([]bool, 0, ticks)
		previous := 0
		for n := 0; n < ticks; n++ {
			scheduler.tick(context.Background())
			fired = append(fired, injector.count() > previous)
			previous = injector.count()
		}
		return fired
	}

	first := run(42)
	second := run(42)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same seed produced different schedules:\n%s", diff)
	}
}

func Test_DryRunIsForwarded(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{name: "memory", outcome: failures.OutcomeSkippedDryRun}
	m := metrics.New(nil)
	scheduler := newScheduler(
		config.AgentConfig{IntervalSeconds: 1, DryRun: true, Seed: 42},
		m,
		failures.Entry{Injector: injector, Enabled: true, Probability: 1.0},
	)

	scheduler.tick(context.Background())

	if !injector.dryRun() {
		t.Errorf("expected the dry run flag to reach the module")
	}

	recorded := testutil.ToFloat64(m.InjectionsTotal.WithLabelValues("memory", string(failures.OutcomeSkippedDryRun)))
	if recorded != 1 {
		t.Errorf("expected one skipped-dry-run outcome recorded, got %v", recorded)
	}
}

func Test_PanicDoesNotStopTheTick(t *testing.T) {
	t.Parallel()

	panicking := &fakeInjector{name: "process", panicMsg: "boom"}
	healthy := &fakeInjector{name: "network", outcome: failures.OutcomeSuccess}
	m := metrics.New(nil)
	scheduler := newScheduler(
		config.AgentConfig{IntervalSeconds: 1, Seed: 42},
		m,
		failures.Entry{Injector: panicking, Enabled: true, Probability: 1.0},
		failures.Entry{Injector: healthy, Enabled: true, Probability: 1.0},
	)

	scheduler.tick(context.Background())

	if recorded := testutil.ToFloat64(m.InjectionsTotal.WithLabelValues("process", string(failures.OutcomeFailed))); recorded != 1 {
		t.Errorf("expected the panic recorded as a failed outcome, got %v", recorded)
	}
	if healthy.count() != 1 {
		t.Errorf("expected the next module to run after a panic, got %d invocations", healthy.count())
	}
}

func Test_InjectionErrorIsRecorded(t *testing.T) {
	t.Parallel()

	failing := &fakeInjector{name: "network", outcome: failures.OutcomeFailed, err: errors.New("no such device")}
	m := metrics.New(nil)
	scheduler := newScheduler(
		config.AgentConfig{IntervalSeconds: 1, Seed: 42},
		m,
		failures.Entry{Injector: failing, Enabled: true, Probability: 1.0},
	)

	scheduler.tick(context.Background())

	if recorded := testutil.ToFloat64(m.InjectionsTotal.WithLabelValues("network", string(failures.OutcomeFailed))); recorded != 1 {
		t.Errorf("expected one failed outcome recorded, got %v", recorded)
	}
}

func Test_FirstTickIsImmediate(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{name: "cpu", outcome: failures.OutcomeSuccess}
	scheduler := newScheduler(
		config.AgentConfig{IntervalSeconds: 3600, Seed: 42},
		metrics.New(nil),
		failures.Entry{Injector: injector, Enabled: true, Probability: 1.0},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	// the first dispatch must not wait out the interval
	deadline := time.Now().Add(5 * time.Second)
	for injector.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if injector.count() == 0 {
		t.Fatalf("no dispatch happened before the first interval elapsed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
}

func Test_RunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	scheduler := newScheduler(
		config.AgentConfig{IntervalSeconds: 3600, Seed: 42},
		metrics.New(nil),
	)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
}

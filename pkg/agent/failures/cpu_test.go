package failures

import (
	"context"
	"testing"
	"time"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
)

func Test_CPUInject(t *testing.T) {
	t.Parallel()

	cfg := config.CPUConfig{
		Enabled:         true,
		Probability:     1.0,
		DurationSeconds: 1,
		Cores:           2,
	}

	injector := NewCPU(cfg, Options{})

	start := time.Now()
	outcome, err := injector.Inject(context.Background(), false)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Errorf("expected %q got %q", OutcomeSuccess, outcome)
	}

	if elapsed < time.Second {
		t.Errorf("returned before all workers stopped: %s", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("blocked substantially longer than the configured duration: %s", elapsed)
	}
}

func Test_CPUDryRun(t *testing.T) {
	t.Parallel()

	cfg := config.CPUConfig{DurationSeconds: 60, Cores: 1}
	injector := NewCPU(cfg, Options{})

	start := time.Now()
	outcome, err := injector.Inject(context.Background(), true)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSkippedDryRun {
		t.Errorf("expected %q got %q", OutcomeSkippedDryRun, outcome)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dry run must not block: %s", elapsed)
	}
}

func Test_CPUCancellation(t *testing.T) {
	t.Parallel()

	cfg := config.CPUConfig{DurationSeconds: 60, Cores: 1}
	injector := NewCPU(cfg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome, err := injector.Inject(ctx, false)

	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if outcome != OutcomeFailed {
		t.Errorf("expected %q got %q", OutcomeFailed, outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation not observed promptly: %s", elapsed)
	}
}

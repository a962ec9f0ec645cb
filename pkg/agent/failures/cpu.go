package failures

import (
	"context"
	"crypto/sha1" //nolint:gosec
	goruntime "runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
)

// CPUInjector saturates CPU cores with busy-looping workers.
// Workers run truly in parallel: each one is pinned to an OS thread so
// multiple cores are saturated, not time-sliced on one.
type CPUInjector struct {
	cores    int
	duration time.Duration
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewCPU returns a CPUInjector for the given configuration
func NewCPU(cfg config.CPUConfig, opts Options) *CPUInjector {
	opts = opts.withDefaults()

	return &CPUInjector{
		cores:    cfg.Cores,
		duration: time.Duration(cfg.DurationSeconds) * time.Second,
		metrics:  opts.Metrics,
		log:      opts.Log.WithField("failure_type", "cpu"),
	}
}

// Type implements the Injector interface
func (i *CPUInjector) Type() string {
	return "cpu"
}

// Inject spawns one busy-looping worker per core and returns only after all
// workers have stopped consuming CPU.
func (i *CPUInjector) Inject(ctx context.Context, dryRun bool) (Outcome, error) {
	if dryRun {
		i.log.Infof("dry run: would hog %d core(s) for %s", i.cores, i.duration)
		return OutcomeSkippedDryRun, nil
	}

	i.log.Infof("hogging %d core(s) for %s", i.cores, i.duration)
	i.metrics.SetActive(i.Type(), true)
	defer i.metrics.SetActive(i.Type(), false)

	deadline := time.Now().Add(i.duration)

	g, gCtx := errgroup.WithContext(ctx)
	for w := 0; w < i.cores; w++ {
		g.Go(func() error {
			return spin(gCtx, deadline)
		})
	}

	// Wait joins every worker, so no CPU is consumed after returning
	if err := g.Wait(); err != nil {
		return OutcomeFailed, err
	}

	i.log.Infof("completed %s of cpu stress", i.duration)
	return OutcomeSuccess, nil
}

// spin consumes one core until the deadline passes or the context is done.
// Hashing a small buffer keeps the loop from being elided.
func spin(ctx context.Context, deadline time.Time) error {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	buff := make([]byte, 1000)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = sha1.Sum(buff) //nolint:gosec
		}
	}

	return nil
}

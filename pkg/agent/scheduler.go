package agent

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/agent/failures"
	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
)

// Scheduler drives the injection loop. On every tick it walks the failure
// modules in their fixed registration order and rolls each module's
// probability gate with its own seeded random source, so a given seed
// always produces the same injection schedule.
type Scheduler struct {
	interval time.Duration
	dryRun   bool
	rng      *rand.Rand
	entries  []failures.Entry
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewScheduler returns a Scheduler for the given agent configuration and
// failure modules. A zero seed picks a clock-based one.
func NewScheduler(cfg config.AgentConfig, entries []failures.Entry, m *metrics.Metrics, log *logrus.Logger) *Scheduler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = logrus.New()
	}

	return &Scheduler{
		interval: cfg.Interval(),
		dryRun:   cfg.DryRun,
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec
		entries:  entries,
		metrics:  m,
		log:      log.WithField("component", "scheduler"),
	}
}

// Run executes the injection loop until the context is canceled. Each
// iteration dispatches first and sleeps after, so the first tick happens on
// entry instead of one interval later. The sleep is interruptible, so
// cancellation is observed within one dispatch, not one interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("starting injection loop with a %s interval (dry run: %t)", s.interval, s.dryRun)

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("injection loop stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

// tick dispatches every failure module once, in order, and records the
// outcome of each dispatch. Cancellation between dispatches stops the tick.
func (s *Scheduler) tick(ctx context.Context) {
	for _, entry := range s.entries {
		if ctx.Err() != nil {
			return
		}

		outcome := s.dispatch(ctx, entry)
		s.metrics.RecordOutcome(entry.Type(), string(outcome))
	}
}

// dispatch applies the enablement and probability gates and invokes the
// module when both pass. Every path yields an outcome, including gates that
// did not fire.
func (s *Scheduler) dispatch(ctx context.Context, entry failures.Entry) failures.Outcome {
	if !entry.Enabled {
		return failures.OutcomeSkippedDisabled
	}

	// the roll happens even when it skips, keeping the random sequence
	// aligned across runs with the same seed
	if s.rng.Float64() >= entry.Probability {
		return failures.OutcomeSkippedProbability
	}

	outcome, err := s.invoke(ctx, entry)
	if err != nil {
		s.log.WithError(err).Errorf("injecting %s failure", entry.Type())
	}

	return outcome
}

// invoke calls the module's Inject converting panics into failed outcomes,
// so one misbehaving module cannot take the loop down.
func (s *Scheduler) invoke(ctx context.Context, entry failures.Entry) (outcome failures.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = failures.OutcomeFailed
			err = fmt.Errorf("%s injector panicked: %v", entry.Type(), r)
		}
	}()

	return entry.Inject(ctx, s.dryRun)
}

package failures

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
)

const megabyte = 1 << 20

// MemoryInjector allocates memory and holds it for a configured duration.
// The hold period runs off the scheduling path so the scheduler can proceed
// to the next failure type; the allocation is tracked and always released,
// including on early shutdown.
type MemoryInjector struct {
	megabytes int
	duration  time.Duration
	tracker   *Tracker
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

// NewMemory returns a MemoryInjector for the given configuration
func NewMemory(cfg config.MemoryConfig, opts Options) *MemoryInjector {
	opts = opts.withDefaults()

	return &MemoryInjector{
		megabytes: cfg.Megabytes,
		duration:  time.Duration(cfg.DurationSeconds) * time.Second,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		log:       opts.Log.WithField("failure_type", "memory"),
	}
}

// Type implements the Injector interface
func (i *MemoryInjector) Type() string {
	return "memory"
}

// Inject allocates the configured amount of memory filled with pseudo-random
// content and schedules its release after the hold duration. It returns as
// soon as the allocation is in place.
func (i *MemoryInjector) Inject(ctx context.Context, dryRun bool) (Outcome, error) {
	if dryRun {
		i.log.Infof("dry run: would allocate %d MB for %s", i.megabytes, i.duration)
		return OutcomeSkippedDryRun, nil
	}

	if ctx.Err() != nil {
		return OutcomeFailed, ctx.Err()
	}

	i.log.Infof("allocating %d MB for %s", i.megabytes, i.duration)

	chunks, err := allocate(i.megabytes)
	if err != nil {
		return OutcomeFailed, err
	}

	i.metrics.SetActive(i.Type(), true)
	i.tracker.Add(1)

	go func() {
		defer i.tracker.Done()

		select {
		case <-time.After(i.duration):
		case <-ctx.Done():
			i.log.Info("releasing allocation early on shutdown")
		}

		for n := range chunks {
			chunks[n] = nil
		}
		chunks = nil

		// hand the pages back to the OS instead of waiting for the GC
		debug.FreeOSMemory()

		i.metrics.SetActive(i.Type(), false)
		i.log.Info("released allocation")
	}()

	return OutcomeSuccess, nil
}

// allocate builds the ballast in 1 MB chunks. The chunks are filled with
// pseudo-random bytes so they are neither zero pages nor trivially
// compressible, defeating copy-on-write and zero-page optimizations.
func allocate(megabytes int) (chunks [][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunks = nil
			err = fmt.Errorf("allocating %d MB: %v", megabytes, r)
		}
	}()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec

	chunks = make([][]byte, 0, megabytes)
	for n := 0; n < megabytes; n++ {
		chunk := make([]byte, megabyte)
		rnd.Read(chunk)
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

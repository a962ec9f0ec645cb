package failures

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
	"github.com/sidecar-labs/chaos-agent/pkg/tc"
)

// NetworkInjector delays all egress traffic on an interface. It blocks only
// for the duration of the underlying rule-management command; the rule is
// removed by a detached timer after the impairment window, or earlier by
// the shutdown cleanup.
type NetworkInjector struct {
	iface    string
	delay    time.Duration
	duration time.Duration
	traffic  *tc.TrafficControl
	tracker  *Tracker
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewNetwork returns a NetworkInjector for the given configuration
func NewNetwork(cfg config.NetworkConfig, opts Options) *NetworkInjector {
	opts = opts.withDefaults()

	return &NetworkInjector{
		iface:    cfg.Interface,
		delay:    time.Duration(cfg.DelayMillis) * time.Millisecond,
		duration: time.Duration(cfg.DurationSeconds) * time.Second,
		traffic:  opts.Traffic,
		tracker:  opts.Tracker,
		metrics:  opts.Metrics,
		log:      opts.Log.WithField("failure_type", "network"),
	}
}

// Type implements the Injector interface
func (i *NetworkInjector) Type() string {
	return "network"
}

// Inject installs the delay rule and schedules its removal
func (i *NetworkInjector) Inject(ctx context.Context, dryRun bool) (Outcome, error) {
	if dryRun {
		i.log.Infof("dry run: would add %s latency on %s for %s", i.delay, i.iface, i.duration)
		return OutcomeSkippedDryRun, nil
	}

	i.log.Infof("adding %s latency on %s for %s", i.delay, i.iface, i.duration)

	err := i.traffic.Install(ctx, tc.Rule{Interface: i.iface, Delay: i.delay})
	if err != nil {
		if errors.Is(err, tc.ErrNotPermitted) {
			i.log.Error("missing NET_ADMIN capability, cannot manage qdiscs")
		}
		return OutcomeFailed, err
	}

	i.metrics.SetActive(i.Type(), true)
	i.tracker.Add(1)

	go func() {
		defer i.tracker.Done()

		select {
		case <-time.After(i.duration):
		case <-ctx.Done():
			// shutdown cleanup also removes the rule; removal is idempotent
		}

		// removal must happen even when ctx is already canceled
		if err := i.traffic.Remove(context.Background(), i.iface); err != nil {
			i.log.WithError(err).Warn("removing latency rule")
		} else {
			i.log.Infof("removed latency on %s", i.iface)
		}

		i.metrics.SetActive(i.Type(), false)
	}()

	return OutcomeSuccess, nil
}

package failures

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidecar-labs/chaos-agent/pkg/config"
	"github.com/sidecar-labs/chaos-agent/pkg/metrics"
	"github.com/sidecar-labs/chaos-agent/pkg/process"
)

// ProcessInjector terminates a single process matching the configured
// target. The protected set (the agent itself, its parent, its descendants
// and anything carrying the agent's marker) is recomputed on every
// invocation and is never a valid target.
type ProcessInjector struct {
	target  string
	marker  string
	lister  process.Lister
	killer  process.Killer
	metrics *metrics.Metrics
	log     *logrus.Entry

	// grace periods for the TERM -> KILL escalation
	termWait time.Duration
	killWait time.Duration
	poll     time.Duration
}

// NewProcess returns a ProcessInjector for the given configuration
func NewProcess(cfg config.ProcessConfig, opts Options) *ProcessInjector {
	opts = opts.withDefaults()

	lister := opts.Lister
	if lister == nil {
		lister = process.DefaultLister()
	}
	killer := opts.Killer
	if killer == nil {
		killer = process.DefaultKiller()
	}

	return &ProcessInjector{
		target:   cfg.Target,
		marker:   opts.Marker,
		lister:   lister,
		killer:   killer,
		metrics:  opts.Metrics,
		log:      opts.Log.WithField("failure_type", "process"),
		termWait: 3 * time.Second,
		killWait: 2 * time.Second,
		poll:     100 * time.Millisecond,
	}
}

// Type implements the Injector interface
func (i *ProcessInjector) Type() string {
	return "process"
}

// Inject terminates the first matching unprotected process. Finding no
// candidate is a benign no-op recorded as success.
func (i *ProcessInjector) Inject(ctx context.Context, dryRun bool) (Outcome, error) {
	victim, found, err := i.selectTarget(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("selecting target process: %w", err)
	}

	if !found {
		// no-op, distinguishable in logs from an actual kill
		i.log.Infof("no killable process matching %q found", i.target)
		if dryRun {
			return OutcomeSkippedDryRun, nil
		}
		return OutcomeSuccess, nil
	}

	if dryRun {
		i.log.Infof("dry run: would kill %q (pid %d, cmdline %q)", victim.Name, victim.PID, victim.Cmdline)
		return OutcomeSkippedDryRun, nil
	}

	i.metrics.SetActive(i.Type(), true)
	defer i.metrics.SetActive(i.Type(), false)

	if err := i.kill(ctx, victim); err != nil {
		return OutcomeFailed, err
	}

	return OutcomeSuccess, nil
}

// selectTarget computes the protected set and picks the first matching
// candidate in enumeration order, never more than one per invocation.
func (i *ProcessInjector) selectTarget(ctx context.Context) (process.Snapshot, bool, error) {
	procs, err := i.lister.List(ctx)
	if err != nil {
		return process.Snapshot{}, false, err
	}

	self := int32(os.Getpid())
	parent := int32(os.Getppid())
	protected := process.ProtectedSet(procs, self, parent)

	for _, p := range procs {
		if !process.MatchesTarget(p, i.target) {
			continue
		}
		if process.IsProtected(protected, i.marker, p) {
			i.log.Debugf("skipping protected process %q (pid %d)", p.Name, p.PID)
			continue
		}
		if process.IsCritical(p) {
			i.log.Debugf("skipping critical system process %q (pid %d)", p.Name, p.PID)
			continue
		}

		return p, true, nil
	}

	return process.Snapshot{}, false, nil
}

// kill escalates from graceful to forceful termination with bounded waits
func (i *ProcessInjector) kill(ctx context.Context, victim process.Snapshot) error {
	i.log.Infof("killing %q (pid %d)", victim.Name, victim.PID)

	if err := i.killer.Terminate(ctx, victim.PID); err != nil {
		return fmt.Errorf("terminating pid %d: %w", victim.PID, err)
	}

	if gone := i.waitGone(ctx, victim.PID, i.termWait); gone {
		i.log.Infof("process %d terminated gracefully", victim.PID)
		return nil
	}

	i.log.Infof("process %d did not terminate, force killing", victim.PID)
	if err := i.killer.Kill(ctx, victim.PID); err != nil {
		return fmt.Errorf("killing pid %d: %w", victim.PID, err)
	}

	if gone := i.waitGone(ctx, victim.PID, i.killWait); !gone {
		return fmt.Errorf("pid %d still exists after forceful termination", victim.PID)
	}

	return nil
}

// waitGone polls until the process no longer exists or the timeout expires
func (i *ProcessInjector) waitGone(ctx context.Context, pid int32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		alive, err := i.killer.Alive(ctx, pid)
		if err != nil || !alive {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(i.poll):
		}
	}
}

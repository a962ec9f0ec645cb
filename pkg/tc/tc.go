// Package tc manages egress delay rules by wrapping the tc(8) binary.
// Installed rules are remembered and can be removed collectively during
// shutdown. Install is idempotent: any pre-existing qdisc on the interface
// is removed before a new one is added, so at most one delay rule exists
// per interface at any time.
package tc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/sidecar-labs/chaos-agent/pkg/runtime"
)

// ErrNotPermitted is returned when the tc binary reports a missing
// NET_ADMIN capability.
var ErrNotPermitted = errors.New("network administration not permitted")

// ErrNoSuchDevice is returned when the configured interface does not exist.
var ErrNoSuchDevice = errors.New("no such network device")

// benignRemovalErrors are tc error messages that indicate there was no
// qdisc to remove, which is not an error for an unconditional cleanup.
var benignRemovalErrors = []string{
	"no such file or directory",
	"cannot delete qdisc with handle of zero",
	"invalid handle",
}

// Rule describes an egress delay on a network interface
type Rule struct {
	// Interface is the name of the network interface
	Interface string
	// Delay added to all egress traffic
	Delay time.Duration
}

func (r Rule) addArgs() []string {
	return []string{
		"qdisc", "add", "dev", r.Interface, "root", "netem",
		"delay", fmt.Sprintf("%dms", r.Delay.Milliseconds()),
	}
}

// TrafficControl installs and removes netem delay rules. It serializes all
// rule operations: no two install/remove pairs run concurrently.
type TrafficControl struct {
	executor runtime.Executor

	mu     sync.Mutex
	active map[string]Rule
}

// New returns a TrafficControl that runs the tc binary through the given executor
func New(executor runtime.Executor) *TrafficControl {
	return &TrafficControl{
		executor: executor,
		active:   map[string]Rule{},
	}
}

// Install adds a delay rule on the rule's interface. Any existing qdisc on
// the interface is unconditionally removed first, ignoring "nothing to
// remove" errors and surfacing all others.
func (t *TrafficControl) Install(ctx context.Context, rule Rule) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.remove(ctx, rule.Interface); err != nil {
		return fmt.Errorf("removing pre-existing qdisc on %q: %w", rule.Interface, err)
	}

	out, err := t.executor.Exec(ctx, "tc", rule.addArgs()...)
	if err != nil {
		return fmt.Errorf("adding netem delay on %q: %w", rule.Interface, classify(out, err))
	}

	t.active[rule.Interface] = rule

	return nil
}

// Remove removes the qdisc on the given interface, whether or not it was
// installed by this TrafficControl. A missing qdisc is not an error.
func (t *TrafficControl) Remove(ctx context.Context, iface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.remove(ctx, iface); err != nil {
		return err
	}

	delete(t.active, iface)

	return nil
}

// remove runs the qdisc removal. Callers must hold t.mu.
func (t *TrafficControl) remove(ctx context.Context, iface string) error {
	out, err := t.executor.Exec(ctx, "tc", "qdisc", "del", "dev", iface, "root")
	if err == nil {
		return nil
	}

	if isBenignRemoval(out) {
		return nil
	}

	return classify(out, err)
}

// Installed reports whether this TrafficControl currently has a rule
// installed on the given interface
func (t *TrafficControl) Installed(iface string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.active[iface]
	return ok
}

// ActiveRules returns the rules currently installed by this TrafficControl
func (t *TrafficControl) ActiveRules() []Rule {
	t.mu.Lock()
	defer t.mu.Unlock()

	rules := make([]Rule, 0, len(t.active))
	for _, r := range t.active {
		rules = append(rules, r)
	}
	return rules
}

// Cleanup removes all rules installed by this TrafficControl, retrying each
// removal a bounded number of times. If a removal keeps failing, Cleanup
// continues with the remaining interfaces and returns the joined errors.
func (t *TrafficControl) Cleanup(ctx context.Context) error {
	var errs []error

	for _, rule := range t.ActiveRules() {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
		)
		err := r.Do(func() error {
			return t.Remove(ctx, rule.Interface)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("cleaning up qdisc on %q: %w", rule.Interface, err))
		}
	}

	return errors.Join(errs...)
}

// isBenignRemoval reports whether the tc output indicates there was no
// qdisc to remove
func isBenignRemoval(out []byte) bool {
	msg := strings.ToLower(string(out))
	for _, benign := range benignRemovalErrors {
		if strings.Contains(msg, benign) {
			return true
		}
	}
	return false
}

// classify maps well-known tc error messages to sentinel errors, keeping
// the original error and output for everything else
func classify(out []byte, err error) error {
	msg := strings.ToLower(string(out))

	switch {
	case strings.Contains(msg, "operation not permitted"):
		return fmt.Errorf("%w: %s", ErrNotPermitted, strings.TrimSpace(string(out)))
	case strings.Contains(msg, "cannot find device"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w: %s", ErrNoSuchDevice, strings.TrimSpace(string(out)))
	default:
		return fmt.Errorf("%w: %q", err, out)
	}
}

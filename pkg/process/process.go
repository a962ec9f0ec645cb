// Package process offers process enumeration and termination primitives and
// the predicates that decide which processes may never be targeted.
// The Lister and Killer interfaces allow testing the selection and
// termination logic without touching live processes.
package process

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// SelfMarker identifies the agent's own processes: any process whose
// command line contains it is never a valid termination target.
const SelfMarker = "chaos-agent"

// criticalProcesses are system processes that are never valid termination
// targets, regardless of what the configured target matches.
var criticalProcesses = map[string]struct{}{
	// init systems
	"systemd": {},
	"init":    {},
	"launchd": {},
	// container runtimes
	"dockerd":         {},
	"containerd":      {},
	"containerd-shim": {},
	"runc":            {},
	"crio":            {},
	"podman":          {},
	// kubernetes
	"kubelet":         {},
	"kube-proxy":      {},
	"kube-apiserver":  {},
	"kube-controller": {},
	"kube-scheduler":  {},
	// network and ssh
	"sshd":           {},
	"networkd":       {},
	"networkmanager": {},
	// system services
	"dbus-daemon": {},
	"rsyslogd":    {},
	"journald":    {},
	"udevd":       {},
	// container pause/infra
	"pause": {},
}

// Snapshot is a point-in-time view of a live process. Pids are not stable
// across time, so snapshots must not be cached between invocations.
type Snapshot struct {
	PID     int32
	PPID    int32
	Name    string
	Cmdline string
}

// Lister enumerates live processes
type Lister interface {
	// List returns a snapshot of all live processes
	List(ctx context.Context) ([]Snapshot, error)
}

// Killer delivers termination signals to processes
type Killer interface {
	// Terminate sends a graceful termination signal (SIGTERM)
	Terminate(ctx context.Context, pid int32) error
	// Kill sends a forceful termination signal (SIGKILL)
	Kill(ctx context.Context, pid int32) error
	// Alive reports whether the process still exists
	Alive(ctx context.Context, pid int32) (bool, error)
}

// systemLister implements Lister using gopsutil
type systemLister struct{}

// DefaultLister returns a Lister backed by the host's process table
func DefaultLister() Lister {
	return &systemLister{}
}

func (l *systemLister) List(ctx context.Context) ([]Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(procs))
	for _, p := range procs {
		s := Snapshot{PID: p.Pid}

		// processes can vanish mid-enumeration; take what is readable
		if name, err := p.NameWithContext(ctx); err == nil {
			s.Name = name
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			s.Cmdline = cmdline
		}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			s.PPID = ppid
		}

		snapshots = append(snapshots, s)
	}

	return snapshots, nil
}

// systemKiller implements Killer using gopsutil
type systemKiller struct{}

// DefaultKiller returns a Killer that signals host processes
func DefaultKiller() Killer {
	return &systemKiller{}
}

func (k *systemKiller) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

func (k *systemKiller) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}

func (k *systemKiller) Alive(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

// ProtectedSet returns the pids that must never be targeted: the agent
// itself, its parent, and the transitive closure of its descendants.
// The set is computed from a single snapshot and must be recomputed on
// every invocation.
func ProtectedSet(procs []Snapshot, self, parent int32) map[int32]struct{} {
	descendants := map[int32]struct{}{self: {}}

	// children of already-collected pids join the set until it is closed
	for {
		grew := false
		for _, p := range procs {
			if _, ok := descendants[p.PID]; ok {
				continue
			}
			if _, ok := descendants[p.PPID]; ok {
				descendants[p.PID] = struct{}{}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	// the parent is protected, but its other children are not descendants
	// and join the set only through the closure above
	descendants[parent] = struct{}{}

	return descendants
}

// IsProtected reports whether the snapshot belongs to the protected set or
// carries the agent's self-identifying marker in its command line.
func IsProtected(protected map[int32]struct{}, marker string, s Snapshot) bool {
	if _, ok := protected[s.PID]; ok {
		return true
	}

	if marker != "" && strings.Contains(strings.ToLower(s.Cmdline), strings.ToLower(marker)) {
		return true
	}

	return false
}

// IsCritical reports whether the snapshot is a critical system process
func IsCritical(s Snapshot) bool {
	name := strings.ToLower(s.Name)
	if _, ok := criticalProcesses[name]; ok {
		return true
	}

	cmdline := strings.ToLower(s.Cmdline)
	for critical := range criticalProcesses {
		if cmdline != "" && strings.Contains(cmdline, critical) {
			return true
		}
	}

	return false
}

// MatchesTarget reports whether the snapshot's name or command line
// contains the target as a case-insensitive substring
func MatchesTarget(s Snapshot, target string) bool {
	if target == "" {
		return false
	}

	target = strings.ToLower(target)

	return strings.Contains(strings.ToLower(s.Name), target) ||
		strings.Contains(strings.ToLower(s.Cmdline), target)
}

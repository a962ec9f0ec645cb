package process

import (
	"context"
	"sync"
)

// FakeLister is a Lister that returns a predefined snapshot list
type FakeLister struct {
	Procs []Snapshot
	Err   error
}

// List implements the Lister interface
func (f *FakeLister) List(_ context.Context) ([]Snapshot, error) {
	return f.Procs, f.Err
}

// FakeKiller is a Killer that records delivered signals. Processes are
// considered alive until terminated, unless listed in SurviveTerm, in
// which case only Kill removes them.
type FakeKiller struct {
	// SurviveTerm lists pids that ignore Terminate
	SurviveTerm map[int32]bool
	// TerminateErr is returned from Terminate when set
	TerminateErr error

	mu         sync.Mutex
	terminated []int32
	killed     []int32
}

// Terminate implements the Killer interface
func (f *FakeKiller) Terminate(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TerminateErr != nil {
		return f.TerminateErr
	}

	f.terminated = append(f.terminated, pid)
	return nil
}

// Kill implements the Killer interface
func (f *FakeKiller) Kill(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.killed = append(f.killed, pid)
	return nil
}

// Alive implements the Killer interface
func (f *FakeKiller) Alive(_ context.Context, pid int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.killed {
		if p == pid {
			return false, nil
		}
	}
	for _, p := range f.terminated {
		if p == pid && !f.SurviveTerm[pid] {
			return false, nil
		}
	}
	return true, nil
}

// Terminated returns the pids that received a graceful termination signal
func (f *FakeKiller) Terminated() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int32{}, f.terminated...)
}

// Killed returns the pids that received a forceful termination signal
func (f *FakeKiller) Killed() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int32{}, f.killed...)
}

package runtime

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// execute a shell and return its pid. On return, the child should had finished
func getDeadProcessPid() string {
	ls := exec.Command("sh", "-c", "cat /proc/self/stat | cut -d' ' -f 1")
	pid, err := ls.Output()
	if err != nil {
		panic("")
	}

	return string(pid)
}

func Test_Acquire(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		title       string
		createLock  bool
		ownerPid    string
		expectError bool
		acquired    bool
	}{
		{
			title:      "lock does not exist",
			createLock: false,
			acquired:   true,
		},
		{
			title:      "lock with empty owner",
			createLock: true,
			ownerPid:   "",
			acquired:   true,
		},
		{
			title:      "process is already owner",
			createLock: true,
			ownerPid:   fmt.Sprintf("%d", os.Getpid()),
			acquired:   true,
		},
		{
			title:      "lock with other running owner",
			createLock: true,
			ownerPid:   fmt.Sprintf("%d", os.Getppid()),
			acquired:   false,
		},
		{
			title:      "lock with owner not running",
			createLock: true,
			ownerPid:   getDeadProcessPid(),
			acquired:   true,
		},
	}

	for i, tc := range testCases {
		tc := tc
		i := i
		tmpDir := t.TempDir()

		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			testLock := filepath.Join(tmpDir, fmt.Sprintf("test-lockfile.%d", i))
			defer func() {
				_ = os.Remove(testLock)
			}()

			if tc.createLock {
				err := os.WriteFile(testLock, []byte(tc.ownerPid), 0o644)
				if err != nil {
					t.Fatalf("error in test setup: %v", err)
				}
			}

			lock := NewFileLock(testLock)

			acquired, err := lock.Acquire()
			if err != nil && !tc.expectError {
				t.Fatalf("unexpected error: %v", err)
			}
			if err == nil && tc.expectError {
				t.Fatalf("expected error but none returned")
			}

			if acquired != tc.acquired {
				t.Errorf("expected acquired %t got %t", tc.acquired, acquired)
			}

			if acquired {
				if owner := lock.Owner(); owner != os.Getpid() {
					t.Errorf("expected owner %d got %d", os.Getpid(), owner)
				}
			}
		})
	}
}

func Test_ReleaseNotOwned(t *testing.T) {
	t.Parallel()

	testLock := filepath.Join(t.TempDir(), "test-lockfile")
	err := os.WriteFile(testLock, []byte(fmt.Sprintf("%d", os.Getppid())), 0o644)
	if err != nil {
		t.Fatalf("error in test setup: %v", err)
	}

	lock := NewFileLock(testLock)
	if err := lock.Release(); err == nil {
		t.Errorf("expected error releasing a lock owned by another process")
	}
}

func Test_AcquireRelease(t *testing.T) {
	t.Parallel()

	testLock := filepath.Join(t.TempDir(), "test-lockfile")
	lock := NewFileLock(testLock)

	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected lock to be acquired")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error releasing lock: %v", err)
	}

	if owner := lock.Owner(); owner != -1 {
		t.Errorf("expected no owner after release, got %d", owner)
	}
}

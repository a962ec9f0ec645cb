package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock defines a single-instance lock for the agent process
type Lock interface {
	// Acquire tries to acquire the lock to prevent concurrent agent instances.
	// Returns false if the lock is held by another live process.
	Acquire() (bool, error)
	// Release releases the lock. Returns an error if the calling process
	// is not the current owner.
	Release() error
	// Owner returns the pid of the process currently holding the lock,
	// or -1 if the lock is not held.
	Owner() int
}

// filelock implements Lock using a pid file
type filelock struct {
	path string
}

// DefaultLock returns a pid-file lock for the currently running process,
// placed in XDG_RUNTIME_DIR or the system temp directory.
func DefaultLock() Lock {
	lockDir := os.Getenv("XDG_RUNTIME_DIR")
	if lockDir == "" {
		lockDir = os.TempDir()
	}

	return &filelock{
		path: filepath.Join(lockDir, filepath.Base(os.Args[0])+".pid"),
	}
}

// NewFileLock returns a pid-file lock for the given path
func NewFileLock(path string) Lock {
	return &filelock{
		path: path,
	}
}

func (l *filelock) Acquire() (bool, error) {
	for {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, err = fmt.Fprintf(f, "%d", os.Getpid())
			closeErr := f.Close()
			if err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(l.path)
				return false, fmt.Errorf("writing lock file %q: %w", l.path, err)
			}
			return true, nil
		}

		if !os.IsExist(err) {
			return false, fmt.Errorf("creating lock file %q: %w", l.path, err)
		}

		owner := l.Owner()
		if owner == os.Getpid() {
			return true, nil
		}
		if isAlive(owner) {
			return false, nil
		}

		// stale lock from a dead process, remove and try again
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("removing stale lock file %q: %w", l.path, err)
		}
	}
}

func (l *filelock) Release() error {
	owner := l.Owner()
	if owner != os.Getpid() {
		return fmt.Errorf("process %d is not the owner of lock file %q", os.Getpid(), l.path)
	}

	return os.Remove(l.path)
}

// Owner returns the pid recorded in the lock file, or -1 if the file is
// missing or does not contain a pid.
func (l *filelock) Owner() int {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return -1
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return -1
	}

	return pid
}

// isAlive checks if a process with the given pid is running.
// A non-existing process (-1) is considered not running.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// error from FindProcess is always nil on unix
	process, _ := os.FindProcess(pid)

	// signal 0 only checks that the process exists
	err := process.Signal(syscall.Signal(0))

	return err == nil
}

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFileName = "engine.lock"

// HeldError is returned when another engine process already owns the
// session.
type HeldError struct {
	PID  int
	Host string
	Path string
}

func (e *HeldError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("session in use by PID %d on %s (%s)", e.PID, e.Host, e.Path)
	}
	return fmt.Sprintf("session in use by PID %d (%s)", e.PID, e.Path)
}

// Lock is an exclusive flock on a session directory. Two engines sharing a
// session would each reconcile the same push stream, so exactly one may
// hold the lock at a time.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the session lock, creating the directory if needed.
// Returns HeldError when another live process owns it.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := ownerInfo(path)
		_ = f.Close()
		return nil, held
	}

	if err := writeOwner(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release drops the lock and removes the file. Safe on a nil receiver and
// idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	host, _ := os.Hostname()
	_, err := fmt.Fprintf(f, "pid=%d\nhost=%s\nstarted=%s\n",
		os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	return err
}

func ownerInfo(path string) *HeldError {
	held := &HeldError{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return held
	}
	for _, line := range strings.Split(string(data), "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			held.PID, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "host="); ok {
			held.Host = after
		}
	}
	return held
}

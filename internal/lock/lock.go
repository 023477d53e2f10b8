// Package lock keeps a profile to a single running daemon.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a profile directory.
const FileName = "LOCK"

// Owner describes the daemon recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
}

// Alive reports whether the owner process still exists.
func (o Owner) Alive() bool {
	if o.PID <= 0 {
		return false
	}
	err := syscall.Kill(o.PID, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// HeldError is returned when another daemon owns the profile.
type HeldError struct {
	Owner
	Path string
}

func (e *HeldError) Error() string {
	if e.Started.IsZero() {
		return fmt.Sprintf("profile lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("profile lock held by PID %d since %s (%s)",
		e.PID, e.Started.Format(time.RFC3339), e.Path)
}

// Lock is an acquired profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive flock on profileDir/LOCK and records this
// process as the owner. It fails with *HeldError without blocking.
func Acquire(profileDir string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := ReadOwner(profileDir)
		_ = f.Close()
		return nil, &HeldError{Owner: owner, Path: path}
	}

	if err := writeOwner(f, Owner{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// ReadOwner reads the owner recorded in profileDir without locking.
// A missing file returns an error satisfying os.IsNotExist.
func ReadOwner(profileDir string) (Owner, error) {
	data, err := os.ReadFile(filepath.Join(profileDir, FileName))
	if err != nil {
		return Owner{}, err
	}
	return parseOwner(string(data)), nil
}

// Release drops the lock and removes the file. Safe on a nil or released Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", o.PID, o.Started.Format(time.RFC3339))
	return err
}

func parseOwner(content string) Owner {
	var o Owner
	for line := range strings.SplitSeq(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

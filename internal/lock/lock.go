// Package lock serializes orchestrator passes on one host with flock.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const pollInterval = 100 * time.Millisecond

// File is a held exclusive lock.
type File struct {
	file *os.File
}

func open(stateDir, name string) (*os.File, error) {
	locksDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, name+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// TryAcquire takes <stateDir>/locks/<name>.lock without blocking. ok is false
// when another process holds it.
func TryAcquire(stateDir, name string) (*File, bool, error) {
	file, err := open(stateDir, name)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	return &File{file: file}, true, nil
}

// Acquire waits for the lock until ctx is done.
func Acquire(ctx context.Context, stateDir, name string) (*File, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		l, ok, err := TryAcquire(stateDir, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s lock: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release releases the lock.
func (l *File) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrLocked is returned when another holder kept the store file locked for
// the whole wait.
var ErrLocked = errors.New("store file is locked")

// lockFile serialises read-modify-write cycles on a store file across
// processes and goroutines. Holding the lock means owning <target>.lock,
// created with O_EXCL.
type lockFile struct {
	path       string
	attempts   int
	delay      time.Duration
	staleAfter time.Duration
}

func newLockFile(target string) *lockFile {
	return &lockFile{
		path:       target + ".lock",
		attempts:   50,
		delay:      100 * time.Millisecond,
		staleAfter: 30 * time.Second,
	}
}

// acquire blocks until the lock is held and returns the function that
// releases it. A lock older than staleAfter is assumed abandoned by a crashed
// holder and taken over.
func (l *lockFile) acquire() (release func() error, err error) {
	for range l.attempts {
		held, err := l.tryCreate()
		if err != nil {
			return nil, err
		}
		if held {
			return l.release, nil
		}

		reclaimed, err := l.reclaimStale()
		if err != nil {
			return nil, err
		}
		if !reclaimed {
			time.Sleep(l.delay)
		}
	}
	return nil, fmt.Errorf("%w: gave up on %s after %v",
		ErrLocked, l.path, time.Duration(l.attempts)*l.delay)
}

func (l *lockFile) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		// the pid only helps whoever inspects a leftover lock
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
		return true, f.Close()
	case os.IsExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
}

func (l *lockFile) reclaimStale() (bool, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		// released between our create and stat
		return os.IsNotExist(err), nil
	}
	if time.Since(info.ModTime()) <= l.staleAfter {
		return false, nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale lock file %s: %w", l.path, err)
	}
	return true, nil
}

func (l *lockFile) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock file: %w", err)
	}
	return nil
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ProcessLock enforces "exactly one writer per database" (spec section 5
// concurrency model) using an OS advisory file lock, independent of and
// in addition to sqlite's own WAL locking — the flock guards against two
// LIVE-role processes racing to open the same database file before
// either has issued its first write. It also writes a sidecar PID file
// next to the lock file for the duration of the hold, so an operator
// inspecting the lock directory can tell which process owns it without
// needing flock's own (platform-specific) inspection tools.
type ProcessLock struct {
	fl      *flock.Flock
	pidPath string
}

func pidPath(lockFilePath string) string {
	return lockFilePath + ".pid"
}

// lockPath derives a lock file path deterministic in the absolute db path
// and account key, so two processes pointed at the same database and
// account always contend on the same lock file regardless of how the path
// was spelled on the command line.
func lockPath(dbPath, accountKey string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute db path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs + "|" + accountKey))
	name := hex.EncodeToString(sum[:]) + ".lock"
	return filepath.Join(filepath.Dir(abs), name), nil
}

// AcquireProcessLock tries, without blocking, to take the exclusive lock
// for (dbPath, accountKey). A (nil, false, nil) return means another
// process already holds it; callers must treat that as a LOCKED startup
// failure, not retry in a loop (spec section 7 exit codes).
func AcquireProcessLock(dbPath, accountKey string) (*ProcessLock, bool, error) {
	path, err := lockPath(dbPath, accountKey)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("ensure lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("try process lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}

	pp := pidPath(path)
	if err := os.WriteFile(pp, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, false, fmt.Errorf("write sidecar pid file: %w", err)
	}
	return &ProcessLock{fl: fl, pidPath: pp}, true, nil
}

// Release unlocks the underlying lock file handle and removes the
// sidecar PID file, including on exception paths — callers are expected
// to defer Release immediately after a successful Acquire so this runs
// even when the scope exits via panic recovery or an early return.
func (p *ProcessLock) Release() error {
	_ = os.Remove(p.pidPath)
	return p.fl.Unlock()
}

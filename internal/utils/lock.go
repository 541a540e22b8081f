package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
)

const lockRetryDelay = 250 * time.Millisecond

// DBLock keeps two qingest processes from writing the same sqlite file. The
// lock lives next to the database as <db>.lock.
type DBLock struct {
	f *flock.Flock
}

// NewDBLock returns an unlocked lock for the database at dbPath.
func NewDBLock(dbPath string) (*DBLock, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	return &DBLock{f: flock.New(absPath + ".lock")}, nil
}

// Path is the lock file location.
func (l *DBLock) Path() string { return l.f.Path() }

// Lock blocks until the lock is held or ctx is done. A notice goes to stderr
// when another process holds it.
func (l *DBLock) Lock(ctx context.Context) error {
	ok, err := l.f.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.Path(), err)
	}
	if ok {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Another qingest process is writing to the database, waiting for it to finish...")
	ok, err = l.f.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("waiting for lock on %s: %w", l.Path(), err)
	}
	if !ok {
		return fmt.Errorf("lock on %s not acquired", l.Path())
	}
	return nil
}

func (l *DBLock) Unlock() error {
	if err := l.f.Unlock(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock on %s: %w", l.Path(), err)
	}
	return nil
}

// GetAbsDBPath resolves dbPath to an absolute path. Empty means
// ~/.config/qingest/qingest.sqlite.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath != "" {
		return filepath.Abs(dbPath)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "qingest", "qingest.sqlite"), nil
}

// EnsureDBDir creates the directory holding the database file.
func EnsureDBDir(absPath string) error {
	return os.MkdirAll(filepath.Dir(absPath), 0o755)
}

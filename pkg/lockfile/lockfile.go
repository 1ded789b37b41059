// Package lockfile guards a target directory against overlapping runs. A
// lock is a small JSON file created with O_EXCL and refreshed by a heartbeat;
// a lock whose heartbeat is older than the stale timeout is taken over.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// LockFileName is the lock file created inside a target directory.
const LockFileName = ".~pgl-spool.lock"

const (
	DefaultHeartbeatInterval = time.Minute
	maxAttempts              = 3
	retryDelay               = 100 * time.Millisecond
)

// Content is the JSON body of a lock file.
type Content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	RunID      string    `json:"runID"`
	Target     string    `json:"target"`
	LastUpdate time.Time `json:"lastUpdate"`
	// Nonce decides stale-lock takeover races.
	Nonce string `json:"nonce"`
}

// ErrLockActive is returned when another live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	RunID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by PID %d on host '%s' (run %s), last updated %s ago", e.PID, e.Hostname, e.RunID, e.TimeSince.Truncate(time.Second))
}

var (
	// ErrLostRace means another process won a stale-lock takeover.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// ErrCorruptLockFile means the lock file stayed empty or unparsable across retries.
	ErrCorruptLockFile = errors.New("lock file is corrupt or empty")
)

// Locker creates locks. Its clock drives heartbeats and staleness.
type Locker struct {
	clock             clock.Clock
	heartbeatInterval time.Duration
	staleTimeout      time.Duration
}

// NewLocker returns a Locker. A lock goes stale after three missed heartbeats.
func NewLocker(clk clock.Clock, heartbeatInterval time.Duration) *Locker {
	if clk == nil {
		clk = clock.WallClock
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Locker{
		clock:             clk,
		heartbeatInterval: heartbeatInterval,
		staleTimeout:      3 * heartbeatInterval,
	}
}

// Lock is a held lock. Release must be called exactly when the work it
// guards is done; further calls are no-ops.
type Lock struct {
	locker  *Locker
	path    string
	mu      sync.Mutex
	content Content
	held    bool
	stop    chan struct{}
	done    chan struct{}
}

// Acquire takes the lock in dir for the given target and run. It returns
// *ErrLockActive if another live process holds it.
func (lk *Locker) Acquire(ctx context.Context, dir, targetName, runID string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := lk.tryCreate(path, targetName, runID)
		if err == nil {
			lk.start(lock)
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, readErr := readContent(path)
		switch {
		case readErr == nil:
			age := lk.clock.Now().Sub(content.LastUpdate)
			if age < lk.staleTimeout {
				return nil, &ErrLockActive{PID: content.PID, Hostname: content.Hostname, RunID: content.RunID, TimeSince: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "path", path, "pid", content.PID, "age", age.Truncate(time.Second))
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", path, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and read; try again.
			continue
		default:
			time.Sleep(retryDelay)
			continue
		}

		lock, err = lk.takeOver(path, targetName, runID)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition", "path", path)
			} else {
				plog.Warn("Failed to take over lock, retrying", "path", path, "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		lk.start(lock)
		return lock, nil
	}
	return nil, fmt.Errorf("failed to acquire lock %s after %d attempts (contention)", path, maxAttempts)
}

func (lk *Locker) newContent(targetName, runID string) (Content, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Content{}, err
	}
	return Content{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		RunID:      runID,
		Target:     targetName,
		LastUpdate: lk.clock.Now().UTC(),
		Nonce:      uuid.NewString(),
	}, nil
}

func (lk *Locker) tryCreate(path, targetName, runID string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := lk.newContent(targetName, runID)
	if err == nil {
		err = writeContent(f, content)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{locker: lk, path: path, content: content}, nil
}

// takeOver replaces a stale lock by renaming a fresh one over it, then reads
// it back to check that no concurrent takeover overwrote ours.
func (lk *Locker) takeOver(path, targetName, runID string) (*Lock, error) {
	content, err := lk.newContent(targetName, runID)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, content); err != nil {
		return nil, err
	}
	readback, err := readContent(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.Nonce != content.Nonce {
		return nil, ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", path)
	return &Lock{locker: lk, path: path, content: content}, nil
}

func (lk *Locker) start(l *Lock) {
	cleanupTempFiles(l.path, lk.clock.Now().Add(-lk.staleTimeout))
	l.held = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.heartbeat()
}

// Path of the lock file.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	plog.Debug("Lock released", "path", l.path)
	return nil
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.locker.clock.After(l.locker.heartbeatInterval):
			l.mu.Lock()
			l.content.LastUpdate = l.locker.clock.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := writeAtomic(l.path, content); err != nil {
				// Keep beating; a later tick may succeed.
				plog.Warn("Heartbeat failed to update lock file", "path", l.path, "error", err)
			}
		}
	}
}

// writeAtomic writes content to a temporary file next to path and renames it
// into place, so path is never observed empty.
func writeAtomic(path string, content Content) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if err := writeContent(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// cleanupTempFiles removes temp files left by crashed heartbeats that were
// last modified before threshold.
func cleanupTempFiles(path string, threshold time.Time) {
	pattern := filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func writeContent(w io.Writer, content Content) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readContent reads the lock file, retrying briefly when it is empty or
// half-written.
func readContent(path string) (Content, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return Content{}, err
		}
		var content Content
		switch {
		case len(data) == 0:
			lastErr = errors.New("lock file is empty")
		default:
			if lastErr = json.Unmarshal(data, &content); lastErr == nil {
				return content, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Content{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

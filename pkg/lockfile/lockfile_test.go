package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/paulschiretz/pgl-spool/pkg/util"
)

func newTestLocker() (*Locker, *testclock.Clock) {
	clk := testclock.NewClock(time.Now())
	return NewLocker(clk, time.Minute), clk
}

func writeLockFile(t *testing.T, path string, content Content) {
	t.Helper()
	data, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("failed to marshal lock content: %v", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write lock file: %v", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	locker, _ := newTestLocker()

	lock, err := locker.Acquire(context.Background(), dir, "web1", "run-1")
	if err != nil {
		t.Fatalf("expected to acquire lock, but got error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock file was not created: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after releasing lock")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() must be a no-op, got %v", err)
	}
}

func TestContention(t *testing.T) {
	dir := t.TempDir()
	locker, _ := newTestLocker()

	lock1, err := locker.Acquire(context.Background(), dir, "web1", "run-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = locker.Acquire(context.Background(), dir, "web1", "run-2")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *ErrLockActive, got %T: %v", err, err)
	}
	if lockErr.RunID != "run-1" {
		t.Errorf("expected lock holder run-1, got %q", lockErr.RunID)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	locker, clk := newTestLocker()

	writeLockFile(t, path, Content{
		PID:        12345,
		Hostname:   "stale-host",
		RunID:      "dead-run",
		LastUpdate: clk.Now().Add(-(locker.staleTimeout + time.Minute)),
		Nonce:      "stale-nonce",
	})

	lock, err := locker.Acquire(context.Background(), dir, "web1", "run-2")
	if err != nil {
		t.Fatalf("failed to take over stale lock: %v", err)
	}
	defer lock.Release()

	content, err := readContent(path)
	if err != nil {
		t.Fatalf("failed to read lock: %v", err)
	}
	if content.RunID != "run-2" || content.Target != "web1" {
		t.Errorf("unexpected lock content after takeover: %+v", content)
	}
}

func TestCorruptLockTakeover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write corrupt lock: %v", err)
	}
	locker, _ := newTestLocker()

	lock, err := locker.Acquire(context.Background(), dir, "web1", "run-1")
	if err != nil {
		t.Fatalf("failed to take over corrupt lock: %v", err)
	}
	lock.Release()
}

func TestHeartbeatRefreshesLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	locker, clk := newTestLocker()

	lock, err := locker.Acquire(context.Background(), dir, "web1", "run-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer lock.Release()

	before, err := readContent(path)
	if err != nil {
		t.Fatalf("failed to read lock: %v", err)
	}
	if err := clk.WaitAdvance(time.Minute, time.Second, 1); err != nil {
		t.Fatalf("heartbeat did not wait on the clock: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		after, err := readContent(path)
		if err == nil && after.LastUpdate.After(before.LastUpdate) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat did not refresh the lock file")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The refreshed lock is still held.
	_, err = locker.Acquire(context.Background(), dir, "web1", "run-2")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected active lock, got %v", err)
	}
}

func TestAcquireCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	locker, _ := newTestLocker()
	if _, err := locker.Acquire(ctx, t.TempDir(), "web1", "run-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	oldTmp := path + ".old.tmp"
	newTmp := path + ".new.tmp"
	for _, p := range []string{oldTmp, newTmp} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatalf("failed to create temp file: %v", err)
		}
	}
	oldTime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldTmp, oldTime, oldTime); err != nil {
		t.Fatalf("failed to age temp file: %v", err)
	}

	cleanupTempFiles(path, time.Now().Add(-3*time.Minute))

	if _, err := os.Stat(oldTmp); !os.IsNotExist(err) {
		t.Error("old temp file should have been removed")
	}
	if _, err := os.Stat(newTmp); err != nil {
		t.Error("recent temp file should have been kept")
	}
}

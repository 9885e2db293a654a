package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := NewDirLock(path, 3, 5*time.Millisecond)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock dir missing while held: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock dir still present after release")
	}
}

func TestDirLock_ContentionExhaustsRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	holder := NewDirLock(path, 1, time.Millisecond)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("holder Acquire() error: %v", err)
	}
	defer func() { _ = holder.Release() }()

	contender := NewDirLock(path, 3, time.Millisecond)
	err := contender.Acquire()
	if !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
}

func TestDirLock_RetryEventuallyWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	holder := NewDirLock(path, 1, time.Millisecond)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("holder Acquire() error: %v", err)
	}

	release := time.AfterFunc(20*time.Millisecond, func() { _ = holder.Release() })
	defer release.Stop()

	contender := NewDirLock(path, 10, 10*time.Millisecond)
	if err := contender.Acquire(); err != nil {
		t.Fatalf("contender should win after release: %v", err)
	}
	_ = contender.Release()
}

func TestDirLock_TryAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := NewDirLock(path, 10, time.Second)
	if err := l.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}
	if err := l.TryAcquire(); !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("second TryAcquire: expected ErrLockUnavailable, got %v", err)
	}
}

func TestDirLock_OwnerAndStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	l := NewDirLock(path, 1, time.Millisecond)
	if err := l.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error: %v", err)
	}

	// No owner record: never stale.
	if l.Stale() {
		t.Fatalf("lock with no owner record reported stale")
	}

	if err := l.WriteOwner("runner-1", os.Getpid()); err != nil {
		t.Fatalf("WriteOwner() error: %v", err)
	}
	id, pid, err := l.Owner()
	if err != nil || id != "runner-1" || pid != os.Getpid() {
		t.Fatalf("Owner() = %q, %d, %v", id, pid, err)
	}
	if l.Stale() {
		t.Fatalf("lock held by a live process reported stale")
	}

	// A pid that cannot exist marks the lock stale.
	if err := l.WriteOwner("runner-2", 1<<22+12345); err != nil {
		t.Fatalf("WriteOwner() error: %v", err)
	}
	if !l.Stale() {
		t.Fatalf("lock with dead owner not reported stale")
	}
}

func TestStore_WithLockReleasesOnError(t *testing.T) {
	s := openTestStore(t)

	wantErr := errors.New("boom")
	if err := s.WithLock(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("WithLock() = %v, want %v", err, wantErr)
	}
	// Lock must be free again.
	if err := s.Lock().TryAcquire(); err != nil {
		t.Fatalf("lock not released after callback error: %v", err)
	}
}

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Locker serializes structural mutations of a tree.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context) (func(), error)
}

// Mutex is an in-process Locker.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an in-process Locker.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex, honoring ctx cancellation while waiting.
func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	select {
	case m.ch <- struct{}{}:
		return func() { <-m.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FileLocker serializes mutations across processes sharing one database
// file. A Flock must not be used from several goroutines at once, so an
// in-process mutex guards it.
type FileLocker struct {
	local *Mutex
	mu    sync.Mutex
	flock *flock.Flock
	retry time.Duration
}

// NewFileLocker creates a Locker backed by an advisory lock on path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{
		local: NewMutex(),
		flock: flock.New(path),
		retry: 50 * time.Millisecond,
	}
}

// Lock acquires the in-process mutex, then the file lock.
func (f *FileLocker) Lock(ctx context.Context) (func(), error) {
	release, err := f.local.Lock(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ok, err := f.flock.TryLockContext(ctx, f.retry)
	if err != nil {
		release()
		return nil, fmt.Errorf("acquiring file lock %s: %w", f.flock.Path(), err)
	}
	if !ok {
		release()
		return nil, fmt.Errorf("acquiring file lock %s: not acquired", f.flock.Path())
	}

	return func() {
		f.mu.Lock()
		_ = f.flock.Unlock()
		f.mu.Unlock()
		release()
	}, nil
}

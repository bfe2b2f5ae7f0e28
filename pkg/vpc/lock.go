package vpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"k8s.io/klog/v2"
)

// lockRetryDelay is how often a held bridge lock file is polled
const lockRetryDelay = 100 * time.Millisecond

// BridgeLocker serializes writers of the same bridge. Within the process a
// one-slot channel per bridge is taken; across processes a lock file
// <dir>/<bridge>.lock. Different bridges never contend.
type BridgeLocker struct {
	dir     string
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewBridgeLocker returns a locker keeping lock files in dir and waiting at
// most timeout for a bridge. An empty dir disables the cross-process lock;
// a zero timeout waits as long as the caller's context allows.
func NewBridgeLocker(dir string, timeout time.Duration) *BridgeLocker {
	return &BridgeLocker{dir: dir, timeout: timeout, slots: make(map[string]chan struct{})}
}

func (l *BridgeLocker) slot(bridge string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[bridge]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[bridge] = s
	}
	return s
}

// Lock blocks until bridge is held, the lock timeout expires or ctx is done,
// and returns the release function. The timeout covers only the wait.
func (l *BridgeLocker) Lock(ctx context.Context, bridge string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	s := l.slot(bridge)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to lock bridge %s: %w", bridge, ctx.Err())
	}
	release := func() { <-s }
	if l.dir == "" {
		return release, nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		release()
		return nil, fmt.Errorf("failed to create lock directory %s: %w", l.dir, err)
	}
	path := filepath.Join(l.dir, bridge+".lock")
	fileLock := flock.New(path)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		release()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to lock bridge %s: %w", bridge, err)
	}
	klog.V(5).Infof("Locked bridge %s via %s", bridge, path)

	return func() {
		if err := fileLock.Unlock(); err != nil {
			klog.Warningf("Failed to release lock %s: %v", path, err)
		}
		release()
	}, nil
}

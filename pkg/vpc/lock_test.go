package vpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeLockerSerializesSameBridge(t *testing.T) {
	for _, dir := range []string{"", t.TempDir()} {
		l := NewBridgeLocker(dir, 10*time.Second)

		var (
			wg      sync.WaitGroup
			inside  int32
			maxSeen int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), "xapi1")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxSeen, "lock dir %q", dir)
	}
}

func TestBridgeLockerDoesNotBlockOtherBridges(t *testing.T) {
	l := NewBridgeLocker(t.TempDir(), 10*time.Second)

	unlock1, err := l.Lock(context.Background(), "xapi1")
	require.NoError(t, err)
	defer unlock1()

	done := make(chan error, 1)
	go func() {
		unlock2, err := l.Lock(context.Background(), "xapi2")
		if err == nil {
			unlock2()
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("xapi2 blocked while xapi1 was held")
	}
}

func TestBridgeLockerTimesOut(t *testing.T) {
	dir := t.TempDir()
	shared := NewBridgeLocker(dir, time.Second)

	tests := []struct {
		name   string
		holder *BridgeLocker
		waiter *BridgeLocker
	}{
		// Same locker: the in-process slot is held
		{"in process", shared, shared},
		// Separate lockers share only the lock file
		{"lock file", NewBridgeLocker(dir, time.Second), NewBridgeLocker(dir, 200*time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unlock, err := tt.holder.Lock(context.Background(), "xapi1")
			require.NoError(t, err)

			start := time.Now()
			_, err = tt.waiter.Lock(context.Background(), "xapi1")
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 5*time.Second)

			unlock()
			unlock, err = tt.waiter.Lock(context.Background(), "xapi1")
			require.NoError(t, err, "lock must be free after release")
			unlock()
		})
	}
}

func TestBridgeLockerHonorsCallerContext(t *testing.T) {
	l := NewBridgeLocker("", 0)

	unlock, err := l.Lock(context.Background(), "xapi1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "xapi1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBridgeLockerTimeoutCoversOnlyTheWait(t *testing.T) {
	l := NewBridgeLocker(t.TempDir(), 50*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "xapi1")
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	unlock()

	unlock, err = l.Lock(context.Background(), "xapi1")
	require.NoError(t, err)
	unlock()
}

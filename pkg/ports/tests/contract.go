package tests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/jobctl/pkg/ports"
)

// LockerContractTest is a reusable test suite that verifies if an adapter complies with ports.DistributedLocker.
func LockerContractTest(t *testing.T, locker ports.DistributedLocker) {
	t.Helper()
	key := "contract-machine-" + time.Now().Format("150405.000000")

	// 1. Lock and unlock
	t.Run("Lock_Unlock", func(t *testing.T) {
		unlock, err := locker.Lock(context.Background(), key, time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}
		if err := unlock(context.Background()); err != nil {
			t.Fatalf("unexpected error releasing lock: %v", err)
		}
	})

	// 2. A held lock blocks until the context ends
	t.Run("Contention_Timeout", func(t *testing.T) {
		unlock, err := locker.Lock(context.Background(), key, 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}
		defer func() { _ = unlock(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if _, err := locker.Lock(ctx, key, time.Second); err == nil {
			t.Error("expected error acquiring a held lock, got nil")
		}
	})

	// 3. A waiter acquires the lock once it is released
	t.Run("Contention_Handoff", func(t *testing.T) {
		unlock, err := locker.Lock(context.Background(), key, 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}

		var acquired atomic.Bool
		done := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			u, err := locker.Lock(ctx, key, time.Second)
			if err == nil {
				acquired.Store(true)
				err = u(context.Background())
			}
			done <- err
		}()

		time.Sleep(50 * time.Millisecond)
		if acquired.Load() {
			t.Fatal("lock acquired while still held")
		}
		if err := unlock(context.Background()); err != nil {
			t.Fatalf("unexpected error releasing lock: %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
		if !acquired.Load() {
			t.Error("waiter never acquired the lock")
		}
	})
}

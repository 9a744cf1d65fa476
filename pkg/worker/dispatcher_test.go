package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/pkg/worker"
)

func newStarted(t *testing.T) *worker.Dispatcher {
	t.Helper()
	d := worker.New()
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func waitIdle(t *testing.T, d *worker.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.WaitIdle(ctx))
}

func TestDispatcher_FIFOAndSingleWorker(t *testing.T) {
	d := newStarted(t)

	var active, maxActive atomic.Int32
	var mu sync.Mutex
	var order []int

	for i := range 50 {
		err := d.Submit("task", func(context.Context) (any, error) {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			return i, nil
		}, func(v any) {
			mu.Lock()
			order = append(order, v.(int))
			mu.Unlock()
		}, nil)
		require.NoError(t, err)
	}

	waitIdle(t, d)
	assert.Equal(t, int32(1), maxActive.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_CallbacksOffWorker(t *testing.T) {
	d := newStarted(t)

	var inWorker atomic.Bool
	var taskCtxInWorker atomic.Bool
	done := make(chan struct{})

	require.NoError(t, d.Submit("probe", func(ctx context.Context) (any, error) {
		taskCtxInWorker.Store(worker.InWorker(ctx))
		return nil, nil
	}, func(any) {
		// A callback may submit more work.
		err := d.Submit("nested", func(context.Context) (any, error) { return nil, nil }, func(any) { close(done) }, nil)
		inWorker.Store(err != nil)
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested submission never completed")
	}
	assert.True(t, taskCtxInWorker.Load())
	assert.False(t, inWorker.Load())
}

func TestDispatcher_FailureCallback(t *testing.T) {
	d := newStarted(t)
	boom := errors.New("boom")

	got := make(chan error, 1)
	require.NoError(t, d.Submit("fail", func(context.Context) (any, error) {
		return nil, boom
	}, func(any) {
		t.Error("onDone must not run on failure")
	}, func(err error) {
		got <- err
	}))

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("onFail not invoked")
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	d := newStarted(t)

	got := make(chan error, 1)
	require.NoError(t, d.Submit("explode", func(context.Context) (any, error) {
		panic("kaboom")
	}, nil, func(err error) { got <- err }))

	select {
	case err := <-got:
		assert.Contains(t, err.Error(), "kaboom")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not converted to failure")
	}

	// The worker survives.
	v, err := d.Call(context.Background(), "after", func(context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDispatcher_Call(t *testing.T) {
	d := newStarted(t)

	t.Run("SerializesAfterQueued", func(t *testing.T) {
		var ran atomic.Bool
		require.NoError(t, d.Submit("slow", func(context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			ran.Store(true)
			return nil, nil
		}, nil, nil))

		_, err := d.Call(context.Background(), "after", func(context.Context) (any, error) {
			assert.True(t, ran.Load())
			return nil, nil
		})
		require.NoError(t, err)
	})

	t.Run("Reentrant", func(t *testing.T) {
		_, err := d.Call(context.Background(), "outer", func(ctx context.Context) (any, error) {
			return d.Call(ctx, "inner", func(context.Context) (any, error) { return nil, nil })
		})
		assert.ErrorIs(t, err, worker.ErrReentrantCall)
	})

	t.Run("FromCallback", func(t *testing.T) {
		got := make(chan any, 1)
		require.NoError(t, d.Submit("first", func(context.Context) (any, error) { return nil, nil }, func(any) {
			v, _ := d.Call(context.Background(), "second", func(context.Context) (any, error) { return "ok", nil })
			got <- v
		}, nil))

		select {
		case v := <-got:
			assert.Equal(t, "ok", v)
		case <-time.After(2 * time.Second):
			t.Fatal("Call from callback deadlocked")
		}
	})
}

func TestDispatcher_Stop(t *testing.T) {
	d := worker.New()
	require.NoError(t, d.Start(context.Background()))

	var count atomic.Int32
	for range 5 {
		require.NoError(t, d.Submit("t", func(context.Context) (any, error) {
			count.Add(1)
			return nil, nil
		}, nil, nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, int32(5), count.Load())
	assert.Zero(t, d.Pending())

	err := d.Submit("late", func(context.Context) (any, error) { return nil, nil }, nil, nil)
	assert.ErrorIs(t, err, worker.ErrStopped)
}

func TestDispatcher_StopTimeoutCancelsTask(t *testing.T) {
	d := worker.New()
	require.NoError(t, d.Start(context.Background()))

	started := make(chan struct{})
	require.NoError(t, d.Submit("blocking", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}

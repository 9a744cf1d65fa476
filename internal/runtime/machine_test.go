package runtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/jobctl/internal/runtime"
	"github.com/aretw0/jobctl/pkg/domain"
)

type jobMachine = runtime.Machine[domain.State, domain.Message]
type jobEvent = runtime.Event[domain.State, domain.Message]

func TestMachine_TransitionTable(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		from domain.State
		msg  domain.Message
		to   domain.State
	}{
		{domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning},
		{domain.StateStopped, domain.MessageStep, domain.StateStepping},
		{domain.StateRunning, domain.MessageStartOrPause, domain.StateStepping},
		{domain.StateRunning, domain.MessageAbort, domain.StateStopped},
		{domain.StateRunning, domain.MessageFinished, domain.StateStopped},
		{domain.StateStepping, domain.MessageStartOrPause, domain.StateRunning},
		{domain.StateStepping, domain.MessageStep, domain.StateStepping},
		{domain.StateStepping, domain.MessageAbort, domain.StateStopped},
		{domain.StateStepping, domain.MessageFinished, domain.StateStopped},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.msg), func(t *testing.T) {
			m := runtime.NewMachine(jobTable(), tc.from)
			ev, err := m.Send(ctx, tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.from, ev.From)
			assert.Equal(t, tc.to, ev.To)
			assert.Equal(t, uint64(1), ev.Version)
			assert.Equal(t, tc.to, m.State())
		})
	}
}

func TestMachine_InvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	table := jobTable()

	for _, s := range domain.States {
		for _, msg := range domain.Messages {
			if _, ok := table.Lookup(s, msg); ok {
				continue
			}
			t.Run(string(s)+"/"+string(msg), func(t *testing.T) {
				m := runtime.NewMachine(table, s)
				_, err := m.Send(ctx, msg)
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)

				var te *runtime.TransitionError[domain.State, domain.Message]
				require.ErrorAs(t, err, &te)
				assert.Equal(t, s, te.State)
				assert.Equal(t, msg, te.Message)

				state, version := m.Snapshot()
				assert.Equal(t, s, state)
				assert.Zero(t, version)
			})
		}
	}
}

func TestMachine_StateVisibleBeforeActionCompletes(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning, domain.ActionBeginRun,
		func(context.Context, jobEvent) error {
			close(entered)
			<-release
			return nil
		})
	m := runtime.NewMachine(table, domain.StateStopped)

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(ctx, domain.MessageStartOrPause)
		done <- err
	}()

	<-entered
	assert.Equal(t, domain.StateRunning, m.State())
	close(release)
	require.NoError(t, <-done)
}

func TestMachine_ReentrantSend(t *testing.T) {
	ctx := context.Background()
	var m *jobMachine

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning, domain.ActionBeginRun,
		func(ctx context.Context, _ jobEvent) error {
			_, err := m.Send(ctx, domain.MessageFinished)
			return err
		})
	table.Add(domain.StateRunning, domain.MessageFinished, domain.StateStopped, "", nil)
	m = runtime.NewMachine(table, domain.StateStopped)

	var seen []domain.State
	var mu sync.Mutex
	m.Observe(func(ctx context.Context, ev jobEvent) {
		mu.Lock()
		seen = append(seen, ev.To)
		mu.Unlock()
	})

	_, err := m.Send(ctx, domain.MessageStartOrPause)
	require.NoError(t, err)

	state, version := m.Snapshot()
	assert.Equal(t, domain.StateStopped, state)
	assert.Equal(t, uint64(2), version)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.State{domain.StateRunning, domain.StateStopped}, seen, "observers see version order")
}

func TestMachine_ObserversRunAfterAction(t *testing.T) {
	ctx := context.Background()
	var initialized atomic.Bool

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning, domain.ActionBeginRun,
		func(context.Context, jobEvent) error {
			time.Sleep(50 * time.Millisecond)
			initialized.Store(true)
			return nil
		})
	m := runtime.NewMachine(table, domain.StateStopped)

	observed := make(chan bool, 1)
	m.Observe(func(_ context.Context, ev jobEvent) {
		if ev.To == domain.StateRunning {
			observed <- initialized.Load()
		}
	})

	_, err := m.Send(ctx, domain.MessageStartOrPause)
	require.NoError(t, err)

	select {
	case done := <-observed:
		assert.True(t, done, "observer fired before the begin-run action finished")
	default:
		t.Fatal("observer not notified")
	}
}

func TestMachine_ConcurrentSendersObserveVersionOrder(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning, domain.ActionBeginRun,
		func(context.Context, jobEvent) error {
			close(entered)
			<-release
			return nil
		})
	table.Add(domain.StateRunning, domain.MessageFinished, domain.StateStopped, "", nil)
	m := runtime.NewMachine(table, domain.StateStopped)

	var mu sync.Mutex
	var versions []uint64
	m.Observe(func(_ context.Context, ev jobEvent) {
		mu.Lock()
		versions = append(versions, ev.Version)
		mu.Unlock()
	})

	started := make(chan error, 1)
	go func() {
		_, err := m.Send(ctx, domain.MessageStartOrPause)
		started <- err
	}()
	<-entered

	// The later commit completes first and is held back until version 1 is out.
	_, err := m.Send(ctx, domain.MessageFinished)
	require.NoError(t, err)
	mu.Lock()
	assert.Empty(t, versions)
	mu.Unlock()

	close(release)
	require.NoError(t, <-started)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestMachine_ObserverMaySend(t *testing.T) {
	ctx := context.Background()
	m := runtime.NewMachine(jobTable(), domain.StateStopped)

	cancel := m.Observe(func(ctx context.Context, ev jobEvent) {
		if ev.To == domain.StateStepping {
			_, _ = m.Send(ctx, domain.MessageAbort)
		}
	})
	defer cancel()

	_, err := m.Send(ctx, domain.MessageStep)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, m.State())
}

func TestMachine_ActionFailureReverts(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("init failed")

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStartOrPause, domain.StateRunning, domain.ActionBeginRun,
		func(context.Context, jobEvent) error { return boom })
	m := runtime.NewMachine(table, domain.StateStopped)

	var events []jobEvent
	m.OnCommit(func(ev jobEvent) { events = append(events, ev) })
	var observed []jobEvent
	m.Observe(func(_ context.Context, ev jobEvent) { observed = append(observed, ev) })

	_, err := m.Send(ctx, domain.MessageStartOrPause)
	require.ErrorIs(t, err, boom)

	state, version := m.Snapshot()
	assert.Equal(t, domain.StateStopped, state)
	assert.Equal(t, uint64(2), version)

	require.Len(t, events, 2)
	assert.False(t, events[0].Reverted)
	assert.Equal(t, domain.StateRunning, events[0].To)
	assert.True(t, events[1].Reverted)
	assert.Equal(t, domain.StateRunning, events[1].From)
	assert.Equal(t, domain.StateStopped, events[1].To)

	require.Len(t, observed, 1, "only the reverted event is observed")
	assert.True(t, observed[0].Reverted)
	assert.Equal(t, uint64(2), observed[0].Version)
}

func TestMachine_ActionFailureAfterStateMovedOn(t *testing.T) {
	ctx := context.Background()
	var m *jobMachine

	table := runtime.NewTable[domain.State, domain.Message]()
	table.Add(domain.StateStopped, domain.MessageStep, domain.StateStepping, domain.ActionBeginRun,
		func(ctx context.Context, _ jobEvent) error {
			_, _ = m.Send(ctx, domain.MessageAbort)
			return errors.New("late failure")
		})
	table.Add(domain.StateStepping, domain.MessageAbort, domain.StateStopped, "", nil)
	m = runtime.NewMachine(table, domain.StateStopped)

	var observed []domain.State
	m.Observe(func(_ context.Context, ev jobEvent) { observed = append(observed, ev.To) })

	_, err := m.Send(ctx, domain.MessageStep)
	require.Error(t, err)

	state, version := m.Snapshot()
	assert.Equal(t, domain.StateStopped, state)
	assert.Equal(t, uint64(2), version, "no revert commit once the state moved on")
	assert.Equal(t, []domain.State{domain.StateStepping, domain.StateStopped}, observed)
}

func TestMachine_ArrivalOrder(t *testing.T) {
	ctx := context.Background()
	m := runtime.NewMachine(jobTable(), domain.StateStopped)

	var versions []uint64
	m.OnCommit(func(ev jobEvent) { versions = append(versions, ev.Version) })

	const senders = 32
	var wg sync.WaitGroup
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Send(ctx, domain.MessageStartOrPause)
		}()
	}
	wg.Wait()

	// Stopped -> Running -> Stepping -> Running ...
	state, version := m.Snapshot()
	assert.Equal(t, uint64(senders), version)
	assert.Equal(t, domain.StateStepping, state)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v)
	}
}

func TestMachine_Await(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m := runtime.NewMachine(jobTable(), domain.StateStopped)

	done := make(chan domain.State, 1)
	go func() {
		s, _, err := m.Await(ctx, func(s domain.State, _ uint64) bool { return s == domain.StateStepping })
		if err == nil {
			done <- s
		}
	}()

	_, err := m.Send(ctx, domain.MessageStartOrPause)
	require.NoError(t, err)
	_, err = m.Send(ctx, domain.MessageStartOrPause)
	require.NoError(t, err)

	select {
	case s := <-done:
		assert.Equal(t, domain.StateStepping, s)
	case <-ctx.Done():
		t.Fatal("Await did not return")
	}

	_, v, err := m.AwaitVersion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestMachine_AwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m := runtime.NewMachine(jobTable(), domain.StateStopped)

	_, _, err := m.AwaitVersion(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

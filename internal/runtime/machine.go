package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/jobctl/pkg/domain"
)

// TransitionError is returned by Send when the table has no row for the current
// state and message. It matches domain.ErrInvalidTransition with errors.Is.
type TransitionError[S, M comparable] struct {
	State   S
	Message M
}

func (e *TransitionError[S, M]) Error() string {
	return fmt.Sprintf("%s: message %v in state %v", domain.ErrInvalidTransition, e.Message, e.State)
}

func (e *TransitionError[S, M]) Is(target error) bool {
	return target == domain.ErrInvalidTransition
}

// Option configures a Machine.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for transition tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Machine drives a Table. Messages are totally ordered by arrival: every Send takes
// a ticket before touching the lock and commits strictly in ticket order.
// Actions and observers run outside the lock, so they may Send again without deadlock.
// Observers see an event only after its action has returned, in version order.
type Machine[S, M comparable] struct {
	table  *Table[S, M]
	logger *slog.Logger

	tickets atomic.Uint64

	mu      sync.Mutex
	turn    *sync.Cond
	serving uint64
	state   S
	version uint64
	changed chan struct{}
	commits []func(Event[S, M])

	obsMu     sync.RWMutex
	observers map[uint64]func(context.Context, Event[S, M])
	nextObs   uint64

	outMu    sync.Mutex
	ready    map[uint64]delivery[S, M]
	nextOut  uint64
	draining bool
}

// delivery is an event whose action has returned and that waits for its turn to be
// observed. Skipped deliveries advance the sequence without reaching observers.
type delivery[S, M comparable] struct {
	ctx  context.Context
	ev   Event[S, M]
	skip bool
}

// NewMachine creates a machine in the initial state at version 0.
func NewMachine[S, M comparable](table *Table[S, M], initial S, opts ...Option) *Machine[S, M] {
	cfg := config{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Machine[S, M]{
		table:     table,
		logger:    cfg.logger,
		state:     initial,
		changed:   make(chan struct{}),
		observers: make(map[uint64]func(context.Context, Event[S, M])),
		ready:     make(map[uint64]delivery[S, M]),
		nextOut:   1,
	}
	m.turn = sync.NewCond(&m.mu)
	return m
}

// Table returns the table driving the machine.
func (m *Machine[S, M]) Table() *Table[S, M] {
	return m.table
}

// OnCommit registers a hook invoked under the machine lock for every commit, in
// version order. Hooks must be fast and must not call back into the machine.
// Register hooks before the first Send.
func (m *Machine[S, M]) OnCommit(fn func(Event[S, M])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, fn)
}

// Observe subscribes fn to committed events. An event reaches observers after its
// action has returned, strictly in version order; when the action fails and the
// state is restored, only the reverted event is observed. Observers run outside the
// lock on whichever sending goroutine completes the next version in sequence.
// The returned function cancels the subscription.
func (m *Machine[S, M]) Observe(fn func(context.Context, Event[S, M])) (cancel func()) {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// State returns the current state.
func (m *Machine[S, M]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current state and version atomically.
func (m *Machine[S, M]) Snapshot() (S, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.version
}

// Send delivers a message. The transition is committed and visible before the row
// action starts; observers are notified once the action has returned. When no row matches, the state is unchanged and a *TransitionError
// is returned. When the action fails and nothing else has been committed since, the
// previous state is restored with a reverted commit and the action error is returned.
func (m *Machine[S, M]) Send(ctx context.Context, msg M) (Event[S, M], error) {
	ev, row, err := m.commit(func(cur S) (S, Row[S, M], error) {
		row, ok := m.table.Lookup(cur, msg)
		if !ok {
			return cur, row, &TransitionError[S, M]{State: cur, Message: msg}
		}
		return row.To, row, nil
	}, msg, false)
	if err != nil {
		m.logger.Debug("transition rejected", "message", msg, "state", ev.From)
		return ev, err
	}

	m.logger.Debug("transition", "from", ev.From, "to", ev.To, "message", msg, "version", ev.Version, "action", row.Name)

	if row.Action != nil {
		if actErr := row.Action(ctx, ev); actErr != nil {
			m.revert(ctx, ev, row.Name, actErr)
			return ev, actErr
		}
	}
	m.deliver(delivery[S, M]{ctx: ctx, ev: ev})
	return ev, nil
}

func (m *Machine[S, M]) revert(ctx context.Context, ev Event[S, M], action string, cause error) {
	rev, _, err := m.commit(func(cur S) (S, Row[S, M], error) {
		if m.version != ev.Version {
			return cur, Row[S, M]{}, errSuperseded
		}
		return ev.From, Row[S, M]{}, nil
	}, ev.Message, true)
	if err != nil {
		m.logger.Warn("action failed after the state moved on", "action", action, "version", ev.Version, "err", cause)
		m.deliver(delivery[S, M]{ctx: ctx, ev: ev})
		return
	}
	m.logger.Warn("action failed, state restored", "action", action, "from", rev.From, "to", rev.To, "err", cause)
	m.deliver(delivery[S, M]{ctx: ctx, ev: ev, skip: true})
	m.deliver(delivery[S, M]{ctx: ctx, ev: rev})
}

var errSuperseded = errors.New("superseded")

// commit waits for its ticket, applies next under the lock and wakes waiters.
func (m *Machine[S, M]) commit(next func(cur S) (S, Row[S, M], error), msg M, reverted bool) (Event[S, M], Row[S, M], error) {
	ticket := m.tickets.Add(1) - 1

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.serving != ticket {
		m.turn.Wait()
	}
	defer func() {
		m.serving++
		m.turn.Broadcast()
	}()

	from := m.state
	to, row, err := next(from)
	if err != nil {
		return Event[S, M]{From: from, To: from, Message: msg, Version: m.version}, row, err
	}

	m.state = to
	m.version++
	ev := Event[S, M]{From: from, To: to, Message: msg, Version: m.version, Reverted: reverted}
	for _, fn := range m.commits {
		fn(ev)
	}
	close(m.changed)
	m.changed = make(chan struct{})
	return ev, row, nil
}

// deliver parks d until every lower version has been delivered. The goroutine that
// fills the gap drains the consecutive run; nobody waits on another sender.
func (m *Machine[S, M]) deliver(d delivery[S, M]) {
	m.outMu.Lock()
	m.ready[d.ev.Version] = d
	if m.draining {
		m.outMu.Unlock()
		return
	}
	m.draining = true
	for {
		next, ok := m.ready[m.nextOut]
		if !ok {
			break
		}
		delete(m.ready, m.nextOut)
		m.nextOut++
		if next.skip {
			continue
		}
		m.outMu.Unlock()
		m.notify(next.ctx, next.ev)
		m.outMu.Lock()
	}
	m.draining = false
	m.outMu.Unlock()
}

func (m *Machine[S, M]) notify(ctx context.Context, ev Event[S, M]) {
	m.obsMu.RLock()
	fns := make([]func(context.Context, Event[S, M]), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.RUnlock()

	for _, fn := range fns {
		fn(ctx, ev)
	}
}

// Await blocks until pred holds for the current state and version, or ctx ends.
// It wakes only on commits.
func (m *Machine[S, M]) Await(ctx context.Context, pred func(state S, version uint64) bool) (S, uint64, error) {
	for {
		m.mu.Lock()
		s, v, ch := m.state, m.version, m.changed
		m.mu.Unlock()

		if pred(s, v) {
			return s, v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, v, ctx.Err()
		}
	}
}

// AwaitVersion blocks until the machine version reaches at least v.
func (m *Machine[S, M]) AwaitVersion(ctx context.Context, v uint64) (S, uint64, error) {
	return m.Await(ctx, func(_ S, cur uint64) bool { return cur >= v })
}

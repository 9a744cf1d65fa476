// Package worker runs blocking work on a single background goroutine and delivers
// results on a separate, serialized callback goroutine.
//
// At most one task executes at any instant and tasks run in submission order.
// Callbacks never run on the worker goroutine, so they may submit further work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrStopped is returned when submitting to a dispatcher that has been stopped.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrReentrantCall is returned by Call when invoked from a task running on the worker.
	ErrReentrantCall = errors.New("call from within a worker task would deadlock")
)

// Task is a unit of blocking work. The context is cancelled only when Stop times out.
type Task func(ctx context.Context) (any, error)

type workerKey struct{}

type item struct {
	name   string
	task   Task
	onDone func(any)
	onFail func(error)
	// direct receives the outcome instead of the callback goroutine (Call).
	direct chan<- outcome
}

type outcome struct {
	value any
	err   error
}

type delivery struct {
	item    *item
	outcome outcome
}

// Dispatcher owns one worker goroutine and one callback goroutine.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     []*item
	callbacks []delivery
	pending   int
	idle      chan struct{}
	started   bool
	stopped   bool

	workSignal chan struct{}
	cbSignal   chan struct{}

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cbDone chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher. Work may be submitted before Start; it runs once started.
func New(opts ...Option) *Dispatcher {
	idle := make(chan struct{})
	close(idle)
	d := &Dispatcher{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		idle:       idle,
		workSignal: make(chan struct{}, 1),
		cbSignal:   make(chan struct{}, 1),
		cbDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker and callback goroutines. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	if d.stopped {
		return ErrStopped
	}
	d.started = true
	d.base, d.cancel = context.WithCancel(context.Background())
	d.base = context.WithValue(d.base, workerKey{}, d)

	d.wg.Add(1)
	go d.workLoop()
	go d.callbackLoop()

	d.logger.Debug("dispatcher started")
	return nil
}

// Stop refuses new work, lets queued tasks and callbacks drain, and waits for both
// goroutines. If ctx ends first, the running task's context is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	signal(d.workSignal)

	select {
	case <-d.cbDone:
		d.logger.Debug("dispatcher stopped")
		d.cancel()
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, cancelling running task")
		d.cancel()
		<-d.cbDone
		return ctx.Err()
	}
}

// Submit enqueues a task without blocking. Exactly one of onDone or onFail is later
// invoked on the callback goroutine; either may be nil.
func (d *Dispatcher) Submit(name string, task Task, onDone func(any), onFail func(error)) error {
	return d.enqueue(&item{name: name, task: task, onDone: onDone, onFail: onFail})
}

// Call submits a task and waits for its result. The result is handed over directly by
// the worker, so Call may be used from a callback. It must not be used from a task.
// If ctx ends first, Call returns ctx.Err() and the task still runs.
func (d *Dispatcher) Call(ctx context.Context, name string, task Task) (any, error) {
	if InWorker(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrReentrantCall, name)
	}
	ch := make(chan outcome, 1)
	if err := d.enqueue(&item{name: name, task: task, direct: ch}); err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InWorker reports whether ctx belongs to a task running on a dispatcher worker.
func InWorker(ctx context.Context) bool {
	_, ok := ctx.Value(workerKey{}).(*Dispatcher)
	return ok
}

// Pending returns the number of tasks submitted whose callbacks have not completed yet.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// WaitIdle blocks until every submitted task has run and its callback returned.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	for {
		d.mu.Lock()
		idle, pending := d.idle, d.pending
		d.mu.Unlock()
		if pending == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) enqueue(it *item) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.queue = append(d.queue, it)
	d.mu.Unlock()

	signal(d.workSignal)
	return nil
}

func (d *Dispatcher) workLoop() {
	defer d.wg.Done()
	defer signal(d.cbSignal)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			stopped := d.stopped
			d.mu.Unlock()
			if stopped {
				return
			}
			<-d.workSignal
			continue
		}
		it := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		out := d.run(it)

		if it.direct != nil {
			it.direct <- out
			d.done()
			continue
		}
		d.mu.Lock()
		d.callbacks = append(d.callbacks, delivery{item: it, outcome: out})
		d.mu.Unlock()
		signal(d.cbSignal)
	}
}

func (d *Dispatcher) run(it *item) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker task panicked",
				slog.String("task", it.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out = outcome{err: fmt.Errorf("panic in task %s: %v", it.name, r)}
		}
	}()
	v, err := it.task(d.base)
	return outcome{value: v, err: err}
}

func (d *Dispatcher) callbackLoop() {
	defer close(d.cbDone)

	workerDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(workerDone)
	}()

	for {
		d.mu.Lock()
		if len(d.callbacks) == 0 {
			d.mu.Unlock()
			select {
			case <-d.cbSignal:
				continue
			case <-workerDone:
				d.mu.Lock()
				empty := len(d.callbacks) == 0
				d.mu.Unlock()
				if empty {
					return
				}
				continue
			}
		}
		dl := d.callbacks[0]
		d.callbacks[0] = delivery{}
		d.callbacks = d.callbacks[1:]
		d.mu.Unlock()

		d.deliver(dl)
		d.done()
	}
}

func (d *Dispatcher) deliver(dl delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker callback panicked",
				slog.String("task", dl.item.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if dl.outcome.err != nil {
		if dl.item.onFail != nil {
			dl.item.onFail(dl.outcome.err)
		}
		return
	}
	if dl.item.onDone != nil {
		dl.item.onDone(dl.outcome.value)
	}
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

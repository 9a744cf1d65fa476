// Package sim provides simulated machine processors for demos, tests and dry runs.
//
// A simulated processor walks the job operations in order, optionally sleeping per
// operation and failing selected operations a configured number of times.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Options configures a simulated processor. Field tags allow decoding from config maps.
type Options struct {
	// Delay is the simulated duration of one operation.
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
	// Types restricts the operations handled to these operation types. Empty means all.
	Types []string `mapstructure:"types" yaml:"types"`
	// Failures maps operation IDs to the number of times Next fails on them before succeeding.
	Failures map[string]int `mapstructure:"failures" yaml:"failures"`
	// Skippable allows operators to skip failed operations.
	Skippable bool `mapstructure:"skippable" yaml:"skippable"`
	// InitError makes Initialize fail with this message.
	InitError string `mapstructure:"init_error" yaml:"init_error"`
	// AbortFailures is the number of times Abort fails before succeeding.
	AbortFailures int `mapstructure:"abort_failures" yaml:"abort_failures"`
}

// Calls counts processor invocations.
type Calls struct {
	Initialize int
	Next       int
	Skip       int
	Abort      int
	Completed  []string
	Skipped    []string
}

// Processor is a simulated ports.JobProcessor that also implements ports.StatusEmitter.
type Processor struct {
	kind   domain.ProcessorKind
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	ops       []domain.Operation
	pos       int
	failures  map[string]int
	abortFail int
	listeners []func(string)
	calls     Calls
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// New creates a simulated processor of the given kind.
func New(kind domain.ProcessorKind, opts Options, options ...ProcessorOption) *Processor {
	p := &Processor{
		kind:   kind,
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Kind returns the processor kind.
func (p *Processor) Kind() domain.ProcessorKind { return p.kind }

// AddStatusListener registers fn for status text.
func (p *Processor) AddStatusListener(fn func(status string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Initialize loads the operations this processor handles and rewinds to the first one.
func (p *Processor) Initialize(ctx context.Context, job *domain.Job) error {
	p.mu.Lock()
	p.calls.Initialize++
	if p.opts.InitError != "" {
		p.mu.Unlock()
		return errors.New(p.opts.InitError)
	}

	var ops []domain.Operation
	for _, op := range job.Operations() {
		if len(p.opts.Types) == 0 || slices.Contains(p.opts.Types, op.Type) {
			ops = append(ops, op)
		}
	}
	p.ops = ops
	p.pos = 0
	p.failures = make(map[string]int, len(p.opts.Failures))
	for id, n := range p.opts.Failures {
		p.failures[id] = n
	}
	p.abortFail = p.opts.AbortFailures
	n := len(ops)
	p.mu.Unlock()

	p.emit(fmt.Sprintf("%s: loaded %d operations from %s", p.kind, n, job.Name))
	return nil
}

// Next executes the current operation.
func (p *Processor) Next(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.calls.Next++
	if p.pos >= len(p.ops) {
		p.mu.Unlock()
		return false, nil
	}
	op := p.ops[p.pos]
	total := len(p.ops)
	idx := p.pos
	p.mu.Unlock()

	p.emit(fmt.Sprintf("%s: %s %d/%d", p.kind, op.ID, idx+1, total))
	if err := p.sleep(ctx); err != nil {
		return true, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures[op.ID] > 0 {
		p.failures[op.ID]--
		p.logger.Debug("simulated operation failure", "processor", p.kind, "op", op.ID)
		return true, fmt.Errorf("operation %s failed", op.ID)
	}
	p.calls.Completed = append(p.calls.Completed, op.ID)
	p.pos++
	return p.pos < len(p.ops), nil
}

// Skip moves past the current operation.
func (p *Processor) Skip(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Skip++
	if p.pos >= len(p.ops) {
		return errors.New("nothing to skip")
	}
	p.calls.Skipped = append(p.calls.Skipped, p.ops[p.pos].ID)
	p.pos++
	return nil
}

// Abort stops the simulated job.
func (p *Processor) Abort(ctx context.Context) error {
	p.mu.Lock()
	p.calls.Abort++
	if p.abortFail > 0 {
		p.abortFail--
		p.mu.Unlock()
		return errors.New("head did not park")
	}
	p.ops = nil
	p.pos = 0
	p.mu.Unlock()

	p.emit(fmt.Sprintf("%s: aborted", p.kind))
	return nil
}

// CanSkip reports whether the current operation may be skipped.
func (p *Processor) CanSkip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Skippable && p.pos < len(p.ops)
}

// Calls returns a snapshot of the invocation counters.
func (p *Processor) Calls() Calls {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.calls
	c.Completed = slices.Clone(c.Completed)
	c.Skipped = slices.Clone(c.Skipped)
	return c
}

func (p *Processor) sleep(ctx context.Context) error {
	if p.opts.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.opts.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) emit(status string) {
	p.mu.Lock()
	fns := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

package decision

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/jobctl/pkg/domain"
)

// ErrRequestNotFound is returned when resolving a request that is not pending.
var ErrRequestNotFound = errors.New("decision request not found")

// Request is a failure waiting for an external decision.
type Request struct {
	ID        string               `json:"id"`
	Event     *domain.FailureEvent `json:"event"`
	Options   []domain.Decision    `json:"options"`
	CreatedAt time.Time            `json:"created_at"`
}

type pending struct {
	req    Request
	answer chan domain.Decision
}

// Mailbox parks failures as pending requests until Resolve is called.
// Safe for concurrent use.
type Mailbox struct {
	mu       sync.Mutex
	requests map[string]*pending
	order    []string
	subs     map[int]func(Request)
	nextSub  int

	timeout  time.Duration
	fallback domain.Decision
}

// MailboxOption configures a Mailbox.
type MailboxOption func(*Mailbox)

// WithTimeout answers fallback for requests left unresolved for d.
func WithTimeout(d time.Duration, fallback domain.Decision) MailboxOption {
	return func(m *Mailbox) {
		m.timeout = d
		m.fallback = fallback
	}
}

// NewMailbox creates an empty mailbox.
func NewMailbox(opts ...MailboxOption) *Mailbox {
	m := &Mailbox{
		requests: make(map[string]*pending),
		subs:     make(map[int]func(Request)),
		fallback: domain.DecisionPause,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Decide implements ports.DecisionSource. It blocks until the request is resolved,
// the timeout elapses or ctx ends.
func (m *Mailbox) Decide(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error) {
	p := &pending{
		req: Request{
			ID:        uuid.NewString(),
			Event:     ev,
			Options:   slices.Clone(ev.Options),
			CreatedAt: time.Now(),
		},
		answer: make(chan domain.Decision, 1),
	}

	m.mu.Lock()
	m.requests[p.req.ID] = p
	m.order = append(m.order, p.req.ID)
	subs := make([]func(Request), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	defer m.remove(p.req.ID)

	for _, fn := range subs {
		fn(p.req)
	}

	var expired <-chan time.Time
	if m.timeout > 0 {
		t := time.NewTimer(m.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case d := <-p.answer:
		return d, nil
	case <-expired:
		return m.fallback, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the unresolved requests, oldest first.
func (m *Mailbox) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.requests[id].req)
	}
	return out
}

// Resolve answers a pending request. The decision must be one of the offered options.
func (m *Mailbox) Resolve(id string, d domain.Decision) error {
	m.mu.Lock()
	p, ok := m.requests[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if !domain.Offered(p.req.Options, d) {
		return fmt.Errorf("%w: %s is not offered (%v)", domain.ErrUnknownDecision, d, p.req.Options)
	}
	select {
	case p.answer <- d:
		return nil
	default:
		return fmt.Errorf("%w: %s already answered", ErrRequestNotFound, id)
	}
}

// ResolveOldest answers the oldest pending request.
func (m *Mailbox) ResolveOldest(d domain.Decision) error {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return ErrRequestNotFound
	}
	id := m.order[0]
	m.mu.Unlock()
	return m.Resolve(id, d)
}

// Subscribe calls fn for every new request. The returned func unsubscribes.
func (m *Mailbox) Subscribe(fn func(Request)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Mailbox) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

// Package dispatch routes domain events raised by aggregates to the handlers
// registered for their kind.
//
// A Dispatcher is built once in the composition root and shared by every
// repository and subscriber. Registration happens before traffic starts, so
// the handler table is read-only while requests are served and needs no lock.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

// Handler reacts to one event. Handlers for a kind run sequentially in
// registration order.
type Handler func(ctx context.Context, event domain.Event) error

// FailurePolicy decides what a failing handler does to the dispatch caller.
type FailurePolicy string

const (
	// PolicyPropagate stops at the first failing handler and returns its
	// error to the caller, which fails the operation that raised the event.
	PolicyPropagate FailurePolicy = "propagate"
	// PolicyLogAndContinue logs the failure and runs the remaining handlers.
	PolicyLogAndContinue FailurePolicy = "log-and-continue"
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch p := FailurePolicy(raw); p {
	case PolicyPropagate, PolicyLogAndContinue:
		return p, nil
	case "":
		return PolicyPropagate, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", raw)
	}
}

// HandlerError identifies the event whose handler failed.
type HandlerError struct {
	Kind    domain.EventKind
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s event %s: %v", e.Kind, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type Dispatcher struct {
	handlers map[domain.EventKind][]Handler
	enabled  atomic.Bool
	policy   FailurePolicy
	logger   *zap.Logger
	metrics  *Metrics
}

type Option func(*Dispatcher)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns a disabled dispatcher. Call Enable once every subscriber is
// registered; unit tests leave it disabled and drive subscribers directly.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[domain.EventKind][]Handler),
		policy:   PolicyPropagate,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register appends h to the handlers of kind. It panics on a kind outside
// the closed set, which can only be a wiring bug.
func (d *Dispatcher) Register(kind domain.EventKind, h Handler) {
	if !kind.Valid() {
		panic(fmt.Sprintf("dispatch: register unknown event kind %q", kind))
	}
	if h == nil {
		panic("dispatch: register nil handler")
	}
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Subscribe registers a handler typed to one event variant.
func Subscribe[T domain.Event](d *Dispatcher, h func(ctx context.Context, event T) error) {
	var zero T
	kind := zero.Kind()
	d.Register(kind, func(ctx context.Context, event domain.Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("event %s has type %T", kind, event)
		}
		return h(ctx, typed)
	})
}

// SubscribeAll registers h for every kind.
func (d *Dispatcher) SubscribeAll(h Handler) {
	for _, kind := range domain.EventKinds() {
		d.Register(kind, h)
	}
}

func (d *Dispatcher) Enable()       { d.enabled.Store(true) }
func (d *Dispatcher) Disable()      { d.enabled.Store(false) }
func (d *Dispatcher) Enabled() bool { return d.enabled.Load() }

// MissingKinds lists kinds that have no handler. A wired system returns none.
func (d *Dispatcher) MissingKinds() []domain.EventKind {
	var missing []domain.EventKind
	for _, kind := range domain.EventKinds() {
		if len(d.handlers[kind]) == 0 {
			missing = append(missing, kind)
		}
	}
	return missing
}

// HandlerCount returns how many handlers are registered for kind.
func (d *Dispatcher) HandlerCount(kind domain.EventKind) int {
	return len(d.handlers[kind])
}

// DispatchAggregate runs the handlers for every event the aggregate has
// buffered, in the order raised, then clears the buffer. Callers invoke it
// only after the aggregate's state is persisted. The buffer is cleared even
// when a handler fails: the events describe state that is already stored and
// must not be replayed by a later save.
func (d *Dispatcher) DispatchAggregate(ctx context.Context, source domain.EventSource) error {
	events := source.PendingEvents()
	defer source.ClearEvents()

	for _, event := range events {
		if err := d.DispatchEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// DispatchEvent runs every handler registered for the event's kind. A
// disabled dispatcher runs nothing.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event domain.Event) error {
	if !d.Enabled() {
		return nil
	}

	kind := event.Kind()
	for _, h := range d.handlers[kind] {
		if err := h(ctx, event); err != nil {
			d.metrics.handlerFailed(kind)
			herr := &HandlerError{Kind: kind, EventID: event.Meta().EventID, Err: err}
			if d.policy == PolicyLogAndContinue {
				d.logger.Error("event handler failed",
					zap.String("event_kind", string(kind)),
					zap.String("event_id", herr.EventID),
					zap.String("aggregate_id", event.Meta().AggregateID),
					zap.Error(err),
				)
				continue
			}
			return herr
		}
	}
	d.metrics.dispatched(kind)
	return nil
}

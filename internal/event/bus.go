package event

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/hostshim/internal/future"
	"github.com/dshills/hostshim/internal/worker"
)

// Token identifies a subscription.
type Token string

// Submitter runs background handlers. *worker.Pool satisfies it.
type Submitter interface {
	Submit(task worker.Task) (*future.Future[any], error)
}

// handlerRef is one subscription. seq breaks priority ties in insertion order.
type handlerRef struct {
	token      Token
	handler    Handler
	background bool
	priority   int
	seq        uint64
}

// Bus is a typed publish/subscribe hub.
//
// The handler table is only touched under the lock; handlers always run
// outside it, so a handler may subscribe, unsubscribe or emit freely.
type Bus struct {
	pool Submitter
	log  zerolog.Logger

	mu       sync.RWMutex
	handlers map[Type][]handlerRef
	byToken  map[Token]Type
	seq      uint64

	onFault func(*HandlerError)

	// Stats
	emitted   atomic.Uint64
	delivered atomic.Uint64
	queued    atomic.Uint64
	faults    atomic.Uint64
	cancelled atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus that runs background handlers on pool.
func NewBus(pool Submitter, log zerolog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		pool:     pool,
		log:      log.With().Str("component", "event_bus").Logger(),
		handlers: make(map[Type][]handlerRef),
		byToken:  make(map[Token]Type),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t. By default the handler runs on
// the worker pool at priority 0. A subscription made while an Emit is in
// flight only applies to later Emit calls.
func (b *Bus) Subscribe(t Type, h Handler, opts ...SubscribeOption) (Token, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	if !t.Valid() {
		return "", ErrUnknownType
	}

	cfg := defaultSubscribeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	token := Token(uuid.NewString())

	b.mu.Lock()
	b.seq++
	// Appending to a fresh slice keeps snapshots taken by in-flight emits intact.
	current := b.handlers[t]
	next := make([]handlerRef, len(current), len(current)+1)
	copy(next, current)
	b.handlers[t] = append(next, handlerRef{
		token:      token,
		handler:    h,
		background: cfg.background,
		priority:   cfg.priority,
		seq:        b.seq,
	})
	b.byToken[token] = t
	b.mu.Unlock()

	b.log.Debug().
		Str("event", string(t)).
		Str("subscription", string(token)).
		Bool("background", cfg.background).
		Int("priority", cfg.priority).
		Msg("handler subscribed")
	return token, nil
}

// SubscribeFunc is a convenience wrapper around Subscribe.
func (b *Bus) SubscribeFunc(t Type, fn HandlerFunc, opts ...SubscribeOption) (Token, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	return b.Subscribe(t, fn, opts...)
}

// Unsubscribe removes a subscription. Emits already in flight still see it.
func (b *Bus) Unsubscribe(token Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byToken[token]
	if !ok {
		return ErrSubscriptionNotFound
	}
	delete(b.byToken, token)

	current := b.handlers[t]
	next := make([]handlerRef, 0, len(current))
	for _, ref := range current {
		if ref.token != token {
			next = append(next, ref)
		}
	}
	if len(next) == 0 {
		delete(b.handlers, t)
	} else {
		b.handlers[t] = next
	}
	return nil
}

// Count returns the number of subscriptions for t.
func (b *Bus) Count(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// snapshot returns the handlers for t ordered by priority (descending),
// then by subscription order.
func (b *Bus) snapshot(t Type) []handlerRef {
	b.mu.RLock()
	refs := make([]handlerRef, len(b.handlers[t]))
	copy(refs, b.handlers[t])
	b.mu.RUnlock()

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].priority > refs[j].priority
	})
	return refs
}

// Emit dispatches ev to the handlers subscribed to its type.
//
// Inline handlers run on the calling goroutine in order; background handlers
// are queued on the worker pool in the same relative order. If a handler
// cancels ev, none of the remaining handlers of this call are invoked;
// background handlers already queued are not recalled. Handler faults are
// logged and never returned.
func (b *Bus) Emit(ctx context.Context, ev Event) error {
	if ev == nil {
		return ErrInvalidEvent
	}
	b.emitted.Add(1)

	for _, ref := range b.snapshot(ev.Type()) {
		if ev.Cancelled() {
			b.cancelled.Add(1)
			return nil
		}
		if ref.background {
			b.enqueue(ref, ev)
			continue
		}
		b.invoke(ctx, ref, ev)
	}
	return nil
}

// enqueue hands a background handler to the pool.
func (b *Bus) enqueue(ref handlerRef, ev Event) {
	if b.pool == nil {
		b.dropped.Add(1)
		b.log.Warn().Str("event", string(ev.Type())).Msg("no worker pool; background handler dropped")
		return
	}
	_, err := b.pool.Submit(func(ctx context.Context) (any, error) {
		b.invoke(ctx, ref, ev)
		return nil, nil
	})
	if err != nil {
		b.dropped.Add(1)
		b.log.Warn().
			Err(err).
			Str("event", string(ev.Type())).
			Str("subscription", string(ref.token)).
			Msg("background handler dropped")
		return
	}
	b.queued.Add(1)
}

// invoke runs one handler, isolating errors and panics.
func (b *Bus) invoke(ctx context.Context, ref handlerRef, ev Event) {
	var err error
	if recovered := panics.Try(func() {
		err = ref.handler.Handle(ctx, ev)
	}); recovered != nil {
		err = &PanicError{Value: recovered.Value, Stack: recovered.Stack}
	}
	if err == nil {
		b.delivered.Add(1)
		return
	}
	b.fault(&HandlerError{Token: ref.token, Type: ev.Type(), Background: ref.background, Err: err})
}

func (b *Bus) fault(herr *HandlerError) {
	b.faults.Add(1)
	b.log.Error().
		Err(herr.Err).
		Str("event", string(herr.Type)).
		Str("subscription", string(herr.Token)).
		Bool("background", herr.Background).
		Msg("event handler failed")

	if b.onFault == nil {
		return
	}
	// A misbehaving fault handler must not break dispatch either.
	_ = panics.Try(func() { b.onFault(herr) })
}

// Stats contains bus statistics.
type Stats struct {
	Emitted   uint64
	Delivered uint64
	Queued    uint64
	Faults    uint64
	Cancelled uint64
	Dropped   uint64
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	return Stats{
		Emitted:   b.emitted.Load(),
		Delivered: b.delivered.Load(),
		Queued:    b.queued.Load(),
		Faults:    b.faults.Load(),
		Cancelled: b.cancelled.Load(),
		Dropped:   b.dropped.Load(),
	}
}

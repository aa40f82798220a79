// Package event provides the typed event bus that turns raw host
// notifications into events plugins can subscribe to.
//
// # Event Types
//
// Every event carries an explicit Type tag, and subscriptions are keyed by
// that tag:
//
//	log   - LogEvent{SessionName, Content, Timestamp}
//	exit  - ExitEvent{SessionName, ExitCode, Timestamp}
//
// # Delivery Modes
//
// Each subscription is either background or inline:
//
//   - Background (default): the handler is queued on the worker pool and
//     Emit returns without waiting for it.
//   - Inline: the handler runs synchronously on the emitting goroutine.
//     Captured sessions emit from the UI goroutine, so inline handlers must
//     be short.
//
// # Priority Ordering
//
// Handlers run in descending priority; equal priorities run in subscription
// order. Background handlers are queued in that order, but the pool may run
// them in any order.
//
// # Cancellation
//
// A handler may call ev.Cancel(). Emit checks the flag before every handler
// and stops as soon as it is set. Cancellation is scoped to one Emit call:
// background handlers that were already queued still run.
//
// # Usage
//
//	bus := event.NewBus(pool, log)
//
//	token, err := bus.Subscribe(event.TypeLog,
//	    event.Typed(func(ctx context.Context, ev *event.LogEvent) error {
//	        fmt.Println(ev.SessionName, ev.Content)
//	        return nil
//	    }),
//	    event.WithPriority(10),
//	    event.Inline(),
//	)
//
//	bus.Emit(ctx, event.NewLogEvent("lobby", "Done (3.2s)!"))
//
// # Thread Safety
//
// Subscribe, Unsubscribe and Emit are safe for concurrent use and may be
// called from inside a running handler. Emit holds the lock only while it
// copies the handler list.
package event

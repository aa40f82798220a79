package event

import "context"

// Handler receives events. A returned error or a panic is a handler fault:
// it is logged and does not stop dispatch to other handlers.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Typed adapts a handler for one concrete event type. Events of any other
// type are ignored.
func Typed[T Event](fn func(ctx context.Context, ev T) error) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}

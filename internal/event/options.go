package event

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	background bool
	priority   int
}

// defaultSubscribeConfig dispatches on the worker pool at priority 0.
func defaultSubscribeConfig() subscribeConfig {
	return subscribeConfig{
		background: true,
		priority:   0,
	}
}

// WithPriority sets the handler priority. Higher values run first.
func WithPriority(p int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.priority = p
	}
}

// WithBackground selects worker-pool (true) or inline (false) delivery.
func WithBackground(background bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.background = background
	}
}

// Inline runs the handler synchronously on the emitting goroutine.
func Inline() SubscribeOption {
	return WithBackground(false)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithFaultHandler sets a callback that receives every handler fault in
// addition to the log entry.
func WithFaultHandler(fn func(*HandlerError)) BusOption {
	return func(b *Bus) {
		b.onFault = fn
	}
}

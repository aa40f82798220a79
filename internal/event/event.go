package event

import (
	"sync/atomic"
	"time"
)

// Type discriminates event variants. Subscriptions are keyed by Type.
type Type string

// Known event types.
const (
	// TypeLog is a line of output from a session.
	TypeLog Type = "log"

	// TypeExit is a session's exit/close notification.
	TypeExit Type = "exit"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeLog, TypeExit:
		return true
	default:
		return false
	}
}

// String returns the type tag.
func (t Type) String() string {
	return string(t)
}

// ParseType parses a type tag.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	return t, t.Valid()
}

// Event is any payload distributed by the Bus.
//
// Events are immutable apart from the cancellation flag, which is only
// consulted during the synchronous part of a single Emit.
type Event interface {
	Type() Type
	Cancelled() bool
	Cancel()
}

// Cancellable carries the cancellation flag. Embed it to implement the
// Cancelled/Cancel half of Event.
type Cancellable struct {
	cancelled atomic.Bool
}

// Cancelled reports whether a handler cancelled the event.
func (c *Cancellable) Cancelled() bool {
	return c.cancelled.Load()
}

// Cancel stops dispatch to the remaining handlers of the current Emit.
func (c *Cancellable) Cancel() {
	c.cancelled.Store(true)
}

// LogEvent is emitted for every line of output a session produces.
type LogEvent struct {
	Cancellable

	SessionName string
	Content     string
	Timestamp   time.Time
}

// NewLogEvent creates a LogEvent stamped with the current time.
func NewLogEvent(sessionName, content string) *LogEvent {
	return &LogEvent{
		SessionName: sessionName,
		Content:     content,
		Timestamp:   time.Now(),
	}
}

// Type implements Event.
func (*LogEvent) Type() Type { return TypeLog }

// ExitEvent is emitted when a session closes.
type ExitEvent struct {
	Cancellable

	SessionName string
	ExitCode    int
	Timestamp   time.Time
}

// NewExitEvent creates an ExitEvent stamped with the current time.
func NewExitEvent(sessionName string, exitCode int) *ExitEvent {
	return &ExitEvent{
		SessionName: sessionName,
		ExitCode:    exitCode,
		Timestamp:   time.Now(),
	}
}

// Type implements Event.
func (*ExitEvent) Type() Type { return TypeExit }

// SessionOf returns the session name carried by ev, if any.
func SessionOf(ev Event) string {
	switch e := ev.(type) {
	case *LogEvent:
		return e.SessionName
	case *ExitEvent:
		return e.SessionName
	default:
		return ""
	}
}

// UnixSeconds converts t to fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

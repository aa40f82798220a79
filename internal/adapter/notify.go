package adapter

import (
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Level is the severity of a user-facing notice.
type Level string

// Notice levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows a message to the user. Implementations must be safe for
// concurrent use and must not block for long.
type Notifier interface {
	Notify(level Level, title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, title, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(level Level, title, message string) {
	f(level, title, message)
}

// LogNotifier reports notices through the logger. It is the headless
// default.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(level Level, title, message string) {
	var e *zerolog.Event
	switch level {
	case LevelError:
		e = n.log.Error()
	case LevelWarning:
		e = n.log.Warn()
	default:
		e = n.log.Info()
	}
	if title != "" {
		e = e.Str("title", title)
	}
	e.Msg(message)
}

// Multi fans a notice out to several notifiers. A notifier that panics is
// skipped.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(level Level, title, message string) {
	for _, n := range m {
		if n == nil {
			continue
		}
		_ = panics.Try(func() { n.Notify(level, title, message) })
	}
}

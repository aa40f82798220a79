package plugin

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Guard runs a plugin callback so that a fault stays with the plugin. A
// returned error or a panic is logged under label and returned as an error
// together with the zero value; a panic matches ErrPluginPanic.
func Guard[T any](log zerolog.Logger, label string, fn func() (T, error)) (T, error) {
	var (
		value T
		err   error
	)
	if recovered := panics.Try(func() { value, err = fn() }); recovered != nil {
		var zero T
		perr := fmt.Errorf("%w: %s: %v", ErrPluginPanic, label, recovered.Value)
		log.Error().
			Str("callback", label).
			Interface("panic", recovered.Value).
			Bytes("stack", recovered.Stack).
			Msg("plugin callback panicked")
		return zero, perr
	}
	if err != nil {
		var zero T
		log.Warn().Err(err).Str("callback", label).Msg("plugin callback failed")
		return zero, err
	}
	return value, nil
}

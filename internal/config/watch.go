package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Watch re-decodes the config file whenever it changes and passes the new
// configuration to onChange. Invalid edits are logged and skipped. Load
// must have found a file first.
func Watch(v *viper.Viper, log zerolog.Logger, onChange func(*Config)) error {
	file := v.ConfigFileUsed()
	if file == "" {
		return ErrNoConfigFile
	}
	log = log.With().Str("component", "config").Str("file", file).Logger()

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Msg("config change ignored")
			return
		}
		log.Info().Str("op", e.Op.String()).Msg("config reloaded")
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

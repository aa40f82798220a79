package config

import "errors"

// ErrInvalidConfig is returned when configuration values fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNoConfigFile is returned by Watch when no file was loaded.
var ErrNoConfigFile = errors.New("no config file in use")

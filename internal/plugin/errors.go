package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin directory has no init.lua or
	// plugin.lua.
	ErrNoEntryPoint = errors.New("plugin has no entry point (init.lua or plugin.lua)")

	// ErrAlreadyLoaded is returned when loading a plugin that is loaded.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotLoaded is returned when unloading a plugin that is not loaded.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("plugin manager is closed")

	// ErrPluginPanic is matched by errors.Is for guarded calls that panicked.
	ErrPluginPanic = errors.New("plugin panicked")
)

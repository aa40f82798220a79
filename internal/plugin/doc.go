// Package plugin loads and supervises Lua plugins.
//
// Plugins live in one directory (plugins.dir) and are either single files or
// directories with an entry point:
//
//	plugins/
//	├── autorestart.lua
//	└── announcer/
//	    └── init.lua        # or plugin.lua
//
// Manager discovers, loads, unloads and reloads them; each loaded plugin is
// a lua.Runtime with its own sandboxed state and executor goroutine. A
// plugin that fails to load is recorded with StateError and reported to the
// notifier; the others load regardless.
//
// Watcher reloads plugins when their files change, if plugins.watch is set.
//
// Guard isolates a plugin callback: errors and panics are logged and
// returned, never propagated as panics into host code.
package plugin

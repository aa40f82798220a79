package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry file names for directory plugins, in order of preference.
var entryPoints = []string{"init.lua", "plugin.lua"}

// Info describes a discovered plugin.
type Info struct {
	// Name is the file name without .lua, or the directory name.
	Name string

	// Path is the entry file.
	Path string

	// Dir is the plugin directory. Empty for single-file plugins.
	Dir string

	State State
	Err   error
}

// Discover finds the plugins in dir, sorted by name. A missing dir holds no
// plugins. Directories without an entry point are reported with StateError.
//
// Single-file plugin:
//
//	plugins/autorestart.lua
//
// Directory plugin:
//
//	plugins/announcer/
//	└── init.lua
func Discover(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	found := make(map[string]Info)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, ok := inspect(dir, entry.Name(), entry.IsDir())
		if !ok {
			continue
		}
		// A directory plugin wins over a file of the same name.
		if prev, exists := found[info.Name]; exists && prev.Dir != "" {
			continue
		}
		found[info.Name] = info
	}

	plugins := make([]Info, 0, len(found))
	for _, info := range found {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins, nil
}

// Find locates the plugin called name in dir.
func Find(dir, name string) (Info, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return Info{}, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}

	if st, err := os.Stat(filepath.Join(dir, name)); err == nil && st.IsDir() {
		info, _ := inspect(dir, name, true)
		return info, nil
	}
	if st, err := os.Stat(filepath.Join(dir, name+".lua")); err == nil && !st.IsDir() {
		info, _ := inspect(dir, name+".lua", false)
		return info, nil
	}
	return Info{}, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

// inspect builds the Info for one directory entry. ok is false for entries
// that are not plugins at all.
func inspect(dir, entry string, isDir bool) (Info, bool) {
	path := filepath.Join(dir, entry)
	if !isDir {
		if filepath.Ext(entry) != ".lua" {
			return Info{}, false
		}
		return Info{
			Name:  strings.TrimSuffix(entry, ".lua"),
			Path:  path,
			State: StateUnloaded,
		}, true
	}

	info := Info{Name: entry, Dir: path, State: StateUnloaded}
	for _, ep := range entryPoints {
		if st, err := os.Stat(filepath.Join(path, ep)); err == nil && !st.IsDir() {
			info.Path = filepath.Join(path, ep)
			return info, true
		}
	}
	info.State = StateError
	info.Err = ErrNoEntryPoint
	return info, true
}

// pluginName maps a path inside dir to the plugin it belongs to.
func pluginName(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	first := rel
	nested := false
	if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
		nested = true
	}
	if strings.HasPrefix(first, ".") {
		return "", false
	}
	if nested {
		return first, true
	}
	if filepath.Ext(first) == ".lua" {
		return strings.TrimSuffix(first, ".lua"), true
	}
	// A top-level directory is a directory plugin. A name that no longer
	// exists may have been one.
	st, err := os.Stat(path)
	if err != nil {
		return first, errors.Is(err, fs.ErrNotExist)
	}
	return first, st.IsDir()
}

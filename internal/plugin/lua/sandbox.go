package lua

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// builtinModules may always be required.
var builtinModules = []string{"string", "table", "math"}

// Sandbox restricts what plugin code can reach.
//
// Install removes the loaders that read from disk, clears package.path and
// replaces require with a whitelist. print is routed to a Go callback.
type Sandbox struct {
	L *lua.LState

	mu      sync.Mutex
	allowed map[string]bool
	print   func(string)
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	s := &Sandbox{
		L:       L,
		allowed: make(map[string]bool),
	}
	for _, m := range builtinModules {
		s.allowed[m] = true
	}
	return s
}

// Install applies the restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installRequire()
}

// Allow whitelists a module for require. Preloaded host modules must be
// allowed explicitly.
func (s *Sandbox) Allow(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[module] = true
}

// Allowed reports whether module may be required.
func (s *Sandbox) Allowed(module string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed[module]
}

// SetPrint routes print output to fn. A nil fn discards it.
func (s *Sandbox) SetPrint(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.print = fn
}

func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}

		s.mu.Lock()
		fn := s.print
		s.mu.Unlock()
		if fn != nil {
			fn(strings.Join(parts, "\t"))
		}
		return 0
	}))
}

func (s *Sandbox) installRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	original := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.Allowed(name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/event"
	"github.com/dshills/hostshim/internal/future"
	"github.com/dshills/hostshim/internal/session"
)

// ModuleName is the name plugins require to reach the host API.
const ModuleName = "shim"

// Controls starts and stops sessions without blocking the caller.
// *adapter.Sessions satisfies it.
type Controls interface {
	Names() []string
	Start(name string) (*future.Future[struct{}], error)
	Stop(name string, force bool) (*future.Future[struct{}], error)
	Restart(name string) (*future.Future[struct{}], error)
	Command(name, line string) (*future.Future[struct{}], error)
}

// Deps are the host services a runtime exposes to Lua.
type Deps struct {
	Bus      *event.Bus
	Registry *session.Registry
	Sessions Controls
	Notifier adapter.Notifier
	Log      zerolog.Logger
}

// Runtime is one loaded plugin: a sandboxed state, the executor goroutine
// that owns it, and the bus subscriptions the plugin made.
type Runtime struct {
	name string
	deps Deps
	log  zerolog.Logger

	state *State
	exec  *Executor

	mu     sync.Mutex
	tokens map[event.Token]struct{}
	cancel context.CancelFunc
	loaded bool
	closed bool
}

// NewRuntime creates an unloaded runtime for the plugin called name.
func NewRuntime(name string, deps Deps, opts ...StateOption) *Runtime {
	log := deps.Log.With().Str("plugin", name).Logger()
	if deps.Notifier == nil {
		deps.Notifier = adapter.NewLogNotifier(deps.Log)
	}

	state := NewState(opts...)
	state.Sandbox().Allow(ModuleName)
	state.Sandbox().SetPrint(func(msg string) {
		log.Info().Msg(msg)
	})

	return &Runtime{
		name:   name,
		deps:   deps,
		log:    log,
		state:  state,
		exec:   NewExecutor(state, log, 0),
		tokens: make(map[event.Token]struct{}),
	}
}

// Name returns the plugin name.
func (r *Runtime) Name() string { return r.name }

// Load starts the executor and runs the plugin's entry file on it.
func (r *Runtime) Load(ctx context.Context, path string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStateClosed
	}
	if r.loaded {
		r.mu.Unlock()
		return ErrRuntimeLoaded
	}
	r.loaded = true
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go r.exec.Run(runCtx)

	return r.exec.Do(ctx, func(s *State) error {
		mod := r.module(s.L)
		s.L.PreloadModule(ModuleName, func(L *lua.LState) int {
			L.Push(mod)
			return 1
		})
		s.L.SetGlobal(ModuleName, mod)
		return s.DoFile(ctx, path)
	})
}

// Exec runs a chunk of Lua in the plugin's state.
func (r *Runtime) Exec(ctx context.Context, code string) error {
	return r.exec.Do(ctx, func(s *State) error {
		return s.DoString(ctx, code)
	})
}

// Subscriptions returns the number of live bus subscriptions.
func (r *Runtime) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Close removes the plugin's subscriptions, stops the executor and
// releases the state. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tokens := r.tokens
	r.tokens = make(map[event.Token]struct{})
	cancel := r.cancel
	r.mu.Unlock()

	for tok := range tokens {
		if err := r.deps.Bus.Unsubscribe(tok); err != nil {
			r.log.Debug().Err(err).Str("token", string(tok)).Msg("unsubscribe")
		}
	}

	r.exec.Close()
	if cancel != nil {
		cancel()
		<-r.exec.Exited()
	}
	return r.state.Close()
}

func (r *Runtime) track(tok event.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.tokens[tok] = struct{}{}
	return true
}

func (r *Runtime) untrack(tok event.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tok]; !ok {
		return false
	}
	delete(r.tokens, tok)
	return true
}

// module builds the shim table.
func (r *Runtime) module(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":       r.luaOn,
		"off":      r.luaOff,
		"sessions": r.luaSessions,
		"catalog":  r.luaCatalog,
		"hooked":   r.luaHooked,
		"start":    r.luaStart,
		"stop":     r.luaStop,
		"restart":  r.luaRestart,
		"command":  r.luaCommand,
		"log":      r.luaLog,
		"notify":   r.luaNotify,
	})
}

// shim.on(type, fn [, {background=bool, priority=n}]) -> token
func (r *Runtime) luaOn(L *lua.LState) int {
	typ, ok := event.ParseType(L.CheckString(1))
	if !ok {
		L.ArgError(1, "unknown event type")
		return 0
	}
	fn := L.CheckFunction(2)

	var opts []event.SubscribeOption
	if t, ok := L.Get(3).(*lua.LTable); ok {
		if v := t.RawGetString("background"); v != lua.LNil {
			opts = append(opts, event.WithBackground(lua.LVAsBool(v)))
		}
		if n, ok := t.RawGetString("priority").(lua.LNumber); ok {
			opts = append(opts, event.WithPriority(int(n)))
		}
	}

	tok, err := r.deps.Bus.Subscribe(typ, r.handler(fn), opts...)
	if err != nil {
		L.RaiseError("subscribe: %v", err)
		return 0
	}
	if !r.track(tok) {
		_ = r.deps.Bus.Unsubscribe(tok)
		L.RaiseError("plugin is closing")
		return 0
	}
	L.Push(lua.LString(tok))
	return 1
}

// shim.off(token) -> bool
func (r *Runtime) luaOff(L *lua.LState) int {
	tok := event.Token(L.CheckString(1))
	if !r.untrack(tok) {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(r.deps.Bus.Unsubscribe(tok) == nil))
	return 1
}

// handler adapts a Lua callback to the bus. The callback runs on the
// executor goroutine; a Lua error becomes a handler fault.
func (r *Runtime) handler(fn *lua.LFunction) event.Handler {
	return event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		return r.exec.Do(ctx, func(s *State) error {
			return s.CallFunction(ctx, fn, eventTable(s.L, ev))
		})
	})
}

// eventTable converts ev to the table handed to Lua callbacks.
func eventTable(L *lua.LState, ev event.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(ev.Type().String()))
	t.RawSetString("session", lua.LString(event.SessionOf(ev)))
	switch e := ev.(type) {
	case *event.LogEvent:
		t.RawSetString("content", lua.LString(e.Content))
		t.RawSetString("ts", lua.LNumber(event.UnixSeconds(e.Timestamp)))
	case *event.ExitEvent:
		t.RawSetString("exit_code", lua.LNumber(e.ExitCode))
		t.RawSetString("ts", lua.LNumber(event.UnixSeconds(e.Timestamp)))
	}
	t.RawSetString("cancel", L.NewFunction(func(L *lua.LState) int {
		ev.Cancel()
		return 0
	}))
	return t
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	t := L.CreateTable(len(items), 0)
	for _, s := range items {
		t.Append(lua.LString(s))
	}
	return t
}

// shim.sessions() -> names of sessions currently hooked
func (r *Runtime) luaSessions(L *lua.LState) int {
	var names []string
	if r.deps.Registry != nil {
		names = r.deps.Registry.Names()
	}
	L.Push(stringList(L, names))
	return 1
}

// shim.catalog() -> names of configured sessions
func (r *Runtime) luaCatalog(L *lua.LState) int {
	var names []string
	if r.deps.Sessions != nil {
		names = r.deps.Sessions.Names()
	}
	L.Push(stringList(L, names))
	return 1
}

// shim.hooked(name) -> bool
func (r *Runtime) luaHooked(L *lua.LState) int {
	name := L.CheckString(1)
	ok := false
	if r.deps.Registry != nil {
		_, ok = r.deps.Registry.Get(name)
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (r *Runtime) luaStart(L *lua.LState) int {
	name := L.CheckString(1)
	return r.control(L, "start", name, func(c Controls) (*future.Future[struct{}], error) {
		return c.Start(name)
	})
}

func (r *Runtime) luaStop(L *lua.LState) int {
	name := L.CheckString(1)
	force := L.OptBool(2, false)
	return r.control(L, "stop", name, func(c Controls) (*future.Future[struct{}], error) {
		return c.Stop(name, force)
	})
}

func (r *Runtime) luaRestart(L *lua.LState) int {
	name := L.CheckString(1)
	return r.control(L, "restart", name, func(c Controls) (*future.Future[struct{}], error) {
		return c.Restart(name)
	})
}

func (r *Runtime) luaCommand(L *lua.LState) int {
	name := L.CheckString(1)
	line := L.CheckString(2)
	return r.control(L, "command", name, func(c Controls) (*future.Future[struct{}], error) {
		return c.Command(name, line)
	})
}

// control queues a session operation and returns true, or nil and a
// message when it could not be queued. Callbacks never wait on the UI
// goroutine, which may itself be waiting on this executor.
func (r *Runtime) control(L *lua.LState, op, name string, fn func(Controls) (*future.Future[struct{}], error)) int {
	if r.deps.Sessions == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("session control unavailable"))
		return 2
	}

	f, err := fn(r.deps.Sessions)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("%s %s: %v", op, name, err)))
		return 2
	}

	go func() {
		<-f.Done()
		if _, err := f.Result(); err != nil {
			r.log.Warn().Err(err).Str("op", op).Str("session", name).Msg("session operation failed")
		}
	}()
	L.Push(lua.LTrue)
	return 1
}

// shim.log(msg [, level])
func (r *Runtime) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	level, err := zerolog.ParseLevel(L.OptString(2, "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	r.log.WithLevel(level).Msg(msg)
	return 0
}

// shim.notify(msg [, level [, title]])
func (r *Runtime) luaNotify(L *lua.LState) int {
	msg := L.CheckString(1)
	level := adapter.Level(L.OptString(2, string(adapter.LevelInfo)))
	switch level {
	case adapter.LevelInfo, adapter.LevelWarning, adapter.LevelError:
	default:
		L.ArgError(2, "level must be info, warning or error")
		return 0
	}
	r.deps.Notifier.Notify(level, L.OptString(3, r.name), msg)
	return 0
}

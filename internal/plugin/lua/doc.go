// Package lua runs plugins written in Lua on top of gopher-lua.
//
// # State
//
// State is a sandboxed LState with only base, package, table, string and
// math opened. Every call runs under a deadline (WithExecutionTimeout), so a
// runaway loop is interrupted instead of wedging its goroutine.
//
// # Executor
//
// An LState must only be touched by one goroutine. Executor owns the state
// and runs every piece of Lua work on its Run goroutine; bus handlers firing
// on the UI goroutine and on pool workers hand their work over with Do.
//
// # Runtime
//
// Runtime is one loaded plugin. Its entry file sees a "shim" module, also
// available as a global:
//
//	local shim = require("shim")
//
//	shim.on("log", function(ev)
//	  if ev.content:find("Done") then
//	    shim.notify(ev.session .. " is ready")
//	  end
//	end)
//
//	shim.on("exit", function(ev)
//	  if ev.exit_code ~= 0 then
//	    shim.restart(ev.session)
//	  end
//	end, {background = false, priority = 10})
//
// Functions:
//
//	on(type, fn [, opts])    subscribe; opts.background, opts.priority
//	off(token)               unsubscribe, true if the token was live
//	sessions()               names of hooked sessions
//	catalog()                names of configured sessions
//	hooked(name)             whether name is hooked
//	start(name)              queue a start; returns true or nil, message
//	stop(name [, force])     queue a stop or kill
//	restart(name)            queue a restart
//	command(name, line)      queue a console line
//	log(msg [, level])       write to the host log
//	notify(msg [, level [, title]])
//
// Event tables carry type, session, ts, content (log) or exit_code (exit),
// and a cancel function that stops lower-priority inline handlers.
//
// Session controls never wait for the result. A handler may be running
// while the UI goroutine waits on it, so waiting on the UI from Lua would
// deadlock.
package lua

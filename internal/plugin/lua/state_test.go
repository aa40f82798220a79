package lua

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestState_DoStringAndCall(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, `function add(a, b) return a + b, "sum" end`))

	results, err := s.Call(ctx, "add", lua.LNumber(2), lua.LNumber(3))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, lua.LNumber(5), results[0])
	assert.Equal(t, lua.LString("sum"), results[1])

	// The stack is left balanced.
	assert.Equal(t, 0, s.L.GetTop())
}

func TestState_CallErrors(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, `notfn = 42; function bad() error("boom") end`))

	_, err := s.Call(ctx, "notfn")
	assert.ErrorIs(t, err, ErrNotFunction)
	_, err = s.Call(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFunction)

	_, err = s.Call(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestState_CallFunction(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, `got = nil; function set(v) got = v end`))
	fn, ok := s.L.GetGlobal("set").(*lua.LFunction)
	require.True(t, ok)

	require.NoError(t, s.CallFunction(ctx, fn, lua.LString("x")))
	assert.Equal(t, lua.LString("x"), s.L.GetGlobal("got"))
}

func TestState_Timeout(t *testing.T) {
	s := NewState(WithExecutionTimeout(50 * time.Millisecond))
	defer s.Close()

	start := time.Now()
	err := s.DoString(context.Background(), `while true do end`)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The state is still usable afterwards.
	assert.NoError(t, s.DoString(context.Background(), `x = 1`))
}

func TestState_CallerCancellation(t *testing.T) {
	s := NewState(WithExecutionTimeout(0))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.DoString(ctx, `while true do end`)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
}

func TestState_Closed(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())

	ctx := context.Background()
	assert.ErrorIs(t, s.DoString(ctx, `x = 1`), ErrStateClosed)
	assert.ErrorIs(t, s.DoFile(ctx, "x.lua"), ErrStateClosed)
	_, err := s.Call(ctx, "f")
	assert.ErrorIs(t, err, ErrStateClosed)
}

func TestState_UnsafeLibrariesClosed(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	for _, global := range []string{"io", "os", "debug", "dofile", "loadfile", "load", "loadstring"} {
		assert.Equal(t, lua.LNil, s.L.GetGlobal(global), global)
	}
	assert.NoError(t, s.DoString(ctx, `assert(string.upper("a") == "A")`))
	assert.NoError(t, s.DoString(ctx, `assert(math.max(1, 2) == 2)`))
	assert.NoError(t, s.DoString(ctx, `local t = {}; table.insert(t, 1); assert(#t == 1)`))
}

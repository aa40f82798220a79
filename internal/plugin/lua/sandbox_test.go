package lua

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestSandbox_Require(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	tests := []struct {
		module  string
		allowed bool
	}{
		{"string", true},
		{"table", true},
		{"math", true},
		{"io", false},
		{"os", false},
		{"debug", false},
		{"socket", false},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			err := s.DoString(ctx, `local m = require("`+tt.module+`")`)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "is not available")
		})
	}
}

func TestSandbox_AllowPreloaded(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	s.L.PreloadModule("extra", func(L *lua.LState) int {
		mod := L.NewTable()
		mod.RawSetString("value", lua.LNumber(7))
		L.Push(mod)
		return 1
	})

	assert.Error(t, s.DoString(ctx, `require("extra")`))
	assert.False(t, s.Sandbox().Allowed("extra"))

	s.Sandbox().Allow("extra")
	assert.True(t, s.Sandbox().Allowed("extra"))
	assert.NoError(t, s.DoString(ctx, `assert(require("extra").value == 7)`))
}

func TestSandbox_PackagePathCleared(t *testing.T) {
	s := NewState()
	defer s.Close()

	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LString(""), s.L.GetField(pkg, "path"))
	assert.Equal(t, lua.LString(""), s.L.GetField(pkg, "cpath"))
}

func TestSandbox_Print(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	// Without a sink print is a no-op.
	require.NoError(t, s.DoString(ctx, `print("dropped")`))

	var mu sync.Mutex
	var got []string
	s.Sandbox().SetPrint(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, s.DoString(ctx, `print("a", 1, true, nil)`))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a\t1\ttrue\tnil"}, got)
}

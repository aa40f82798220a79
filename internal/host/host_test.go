package host

import (
	"context"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/hook"
	"github.com/dshills/hostshim/internal/uithread"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

// runLoop runs loop on a background goroutine for the test's duration.
func runLoop(t *testing.T, loop *uithread.Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// launchOnUI invokes the host's factory on the UI goroutine.
func launchOnUI(t *testing.T, h *Host, name string) (any, error) {
	t.Helper()
	l, ok := h.Lookup(name)
	require.True(t, ok)

	ui := uithread.NewMarshaler(func() *uithread.Loop { return h.Loop() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ui.Call(ctx, func(ctx context.Context) (any, error) {
		return h.Slot().Invoke(ctx, l)
	})
}

// recorder collects notifications and checks they arrive on the UI goroutine.
type recorder struct {
	t    *testing.T
	loop *uithread.Loop

	mu    sync.Mutex
	lines []string
	exits []int
}

func (r *recorder) attach(p *Process) {
	p.OnLogOutput(func(ctx context.Context, line string) {
		assert.True(r.t, uithread.OnUIThread(ctx, r.loop), "log delivered off the UI goroutine")
		r.mu.Lock()
		r.lines = append(r.lines, line)
		r.mu.Unlock()
	})
	p.OnClosed(func(ctx context.Context, code int) {
		assert.True(r.t, uithread.OnUIThread(ctx, r.loop), "exit delivered off the UI goroutine")
		r.mu.Lock()
		r.exits = append(r.exits, code)
		r.mu.Unlock()
	})
}

func (r *recorder) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...), append([]int(nil), r.exits...)
}

func TestLaunch_RequiresUIThread(t *testing.T) {
	h := New(uithread.NewLoop(), []config.SessionSpec{{Name: "a", Command: "true"}}, zerolog.Nop())

	l, ok := h.Lookup("a")
	require.True(t, ok)
	_, err := h.Slot().Invoke(context.Background(), l)
	assert.ErrorIs(t, err, ErrNotUIThread)
}

func TestLaunch_Gated(t *testing.T) {
	requireShell(t)
	loop := uithread.NewLoop()
	runLoop(t, loop)
	h := New(loop, []config.SessionSpec{{Name: "g", Command: "sh", Args: []string{"-c", "exit 0"}, Gated: true}}, zerolog.Nop())
	defer h.Shutdown()

	result, err := launchOnUI(t, h, "g")
	require.NoError(t, err)
	gate, ok := result.(hook.Gate)
	require.True(t, ok)
	assert.Contains(t, gate.GateReason(), "g")

	require.NoError(t, h.Accept("g"))
	result, err = launchOnUI(t, h, "g")
	require.NoError(t, err)
	assert.IsType(t, &Process{}, result)

	assert.ErrorIs(t, h.Accept("missing"), ErrUnknownSession)
}

func TestLaunch_OneProcessPerSession(t *testing.T) {
	requireShell(t)
	loop := uithread.NewLoop()
	runLoop(t, loop)
	h := New(loop, []config.SessionSpec{{Name: "a", Command: "sh", Args: []string{"-c", "sleep 30"}}}, zerolog.Nop())
	defer h.Shutdown()

	result, err := launchOnUI(t, h, "a")
	require.NoError(t, err)
	p := result.(*Process)
	require.True(t, p.Running())
	firstPID := p.PID()

	_, err = launchOnUI(t, h, "a")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, firstPID, p.PID())

	require.NoError(t, p.Kill())
	require.Eventually(t, func() bool { return !p.Running() }, 5*time.Second, 10*time.Millisecond)

	// A stopped session starts again through the same handle.
	result, err = launchOnUI(t, h, "a")
	require.NoError(t, err)
	assert.Same(t, p, result)
	assert.True(t, p.Running())
	assert.NotEqual(t, firstPID, p.PID())

	h.mu.Lock()
	assert.Len(t, h.procs, 1)
	h.mu.Unlock()
}

func TestProcess_LongLineEndsDelivery(t *testing.T) {
	requireShell(t)
	loop := uithread.NewLoop()
	runLoop(t, loop)
	// 2 MiB without a newline exceeds the scanner limit; the process must
	// still be drained and reaped.
	script := `echo first; head -c 2097152 /dev/zero | tr '\0' x; echo; echo after; exit 4`
	h := New(loop, []config.SessionSpec{{Name: "big", Command: "sh", Args: []string{"-c", script}}}, zerolog.Nop())
	defer h.Shutdown()

	rec := &recorder{t: t, loop: loop}
	ui := uithread.NewMarshaler(func() *uithread.Loop { return loop })
	l, _ := h.Lookup("big")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ui.Call(ctx, func(ctx context.Context) (any, error) {
		p, err := h.Slot().Invoke(ctx, l)
		if err == nil {
			rec.attach(p.(*Process))
		}
		return p, err
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exits := rec.snapshot()
		return len(exits) == 1
	}, 10*time.Second, 10*time.Millisecond)
	lines, exits := rec.snapshot()
	assert.Equal(t, []string{"first"}, lines)
	assert.Equal(t, []int{4}, exits)
}

func TestCatalog(t *testing.T) {
	h := New(uithread.NewLoop(), []config.SessionSpec{
		{Name: "b", Command: "x"},
		{Name: "a", Command: "y"},
	}, zerolog.Nop())

	assert.Equal(t, []string{"b", "a"}, h.Names())
	l, ok := h.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", l.SessionName())
	_, ok = h.Lookup("zzz")
	assert.False(t, ok)
}

func TestProcess_OutputAndExit(t *testing.T) {
	requireShell(t)
	loop := uithread.NewLoop()
	runLoop(t, loop)
	h := New(loop, []config.SessionSpec{{Name: "p", Command: "sh", Args: []string{"-c", "echo one; echo two 1>&2; exit 3"}}}, zerolog.Nop())
	defer h.Shutdown()

	// Listeners are attached on the UI goroutine right after launch, before
	// any output can be delivered there.
	rec := &recorder{t: t, loop: loop}
	ui := uithread.NewMarshaler(func() *uithread.Loop { return loop })
	l, _ := h.Lookup("p")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := ui.Call(ctx, func(ctx context.Context) (any, error) {
		p, err := h.Slot().Invoke(ctx, l)
		if err == nil {
			rec.attach(p.(*Process))
		}
		return p, err
	})
	require.NoError(t, err)
	p := result.(*Process)

	require.Eventually(t, func() bool {
		_, exits := rec.snapshot()
		return len(exits) == 1
	}, 5*time.Second, 10*time.Millisecond)

	lines, exits := rec.snapshot()
	assert.ElementsMatch(t, []string{"one", "two"}, lines)
	assert.Equal(t, []int{3}, exits)
	assert.False(t, p.Running())
	code, exited := p.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 3, code)
	assert.NotZero(t, p.PID())
	assert.ErrorIs(t, p.Send("late"), ErrNotRunning)
}

func TestProcess_SendStopRestart(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not found")
	}
	loop := uithread.NewLoop()
	runLoop(t, loop)
	h := New(loop, []config.SessionSpec{{Name: "cat", Command: "cat"}}, zerolog.Nop())
	defer h.Shutdown()

	result, err := launchOnUI(t, h, "cat")
	require.NoError(t, err)
	p := result.(*Process)
	rec := &recorder{t: t, loop: loop}
	rec.attach(p)

	require.NoError(t, p.Send("hello"))
	require.Eventually(t, func() bool {
		lines, _ := rec.snapshot()
		return len(lines) == 1 && lines[0] == "hello"
	}, 5*time.Second, 10*time.Millisecond)

	firstPID := p.PID()
	require.NoError(t, p.Restart())
	require.Eventually(t, func() bool {
		_, exits := rec.snapshot()
		return len(exits) == 1 && p.Running()
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, firstPID, p.PID())

	require.NoError(t, p.Kill())
	require.Eventually(t, func() bool {
		_, exits := rec.snapshot()
		return len(exits) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, p.Running())
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
	assert.ErrorIs(t, p.Kill(), ErrNotRunning)
}

func TestProcess_StopCommand(t *testing.T) {
	requireShell(t)
	loop := uithread.NewLoop()
	runLoop(t, loop)
	script := `while read line; do if [ "$line" = "stop" ]; then exit 0; fi; done`
	h := New(loop, []config.SessionSpec{{Name: "srv", Command: "sh", Args: []string{"-c", script}, StopCommand: "stop"}}, zerolog.Nop())
	defer h.Shutdown()

	result, err := launchOnUI(t, h, "srv")
	require.NoError(t, err)
	p := result.(*Process)

	require.NoError(t, p.Stop())
	require.Eventually(t, func() bool { return !p.Running() }, 5*time.Second, 10*time.Millisecond)
	code, exited := p.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
}

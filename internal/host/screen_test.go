package host

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/core"
	"github.com/dshills/hostshim/internal/event"
	"github.com/dshills/hostshim/internal/uithread"
)

type screenFixture struct {
	sim    tcell.SimulationScreen
	screen *Screen
	core   *core.Core
	done   chan error
}

func startScreen(t *testing.T, specs []config.SessionSpec) screenFixture {
	t.Helper()
	sim := tcell.NewSimulationScreen("")
	loop := uithread.NewLoop(uithread.WithWaker(Waker(sim)))
	h := New(loop, specs, zerolog.Nop())

	c := core.New(&config.Config{Workers: 2}, zerolog.Nop(), core.WithHookTarget(h.Slot))
	c.AttachUI(loop)

	scr := NewScreen(sim, h, zerolog.Nop())
	sessions := adapter.New(c, h, h.Slot(), adapter.WithNotifier(scr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scr.Run(ctx, c.Bus(), sessions) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		loop.Close()
		h.Shutdown()
		_ = c.Close(context.Background())
	})
	return screenFixture{sim: sim, screen: scr, core: c, done: done}
}

// contents returns the rendered screen as text rows.
func contents(sim tcell.SimulationScreen) []string {
	cells, w, h := sim.GetContents()
	rows := make([]string, h)
	for y := 0; y < h; y++ {
		var b strings.Builder
		for x := 0; x < w; x++ {
			c := cells[y*w+x]
			if len(c.Runes) == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteString(string(c.Runes))
		}
		rows[y] = b.String()
	}
	return rows
}

func TestScreen_RendersEventsFromUIGoroutine(t *testing.T) {
	f := startScreen(t, []config.SessionSpec{{Name: "lobby", Command: "true"}})

	_, err := f.core.UI().Post(context.Background(), func(ctx context.Context) (any, error) {
		return nil, f.core.Bus().Emit(ctx, event.NewLogEvent("lobby", "Done (3.2s)!"))
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, l := range f.screen.Lines() {
			if l == "[lobby] Done (3.2s)!" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, row := range contents(f.sim) {
			if strings.Contains(row, "lobby") && strings.Contains(row, "stopped") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScreen_NotifyShowsNotice(t *testing.T) {
	f := startScreen(t, nil)

	f.screen.Notify(adapter.LevelWarning, "", "heads up")
	require.Eventually(t, func() bool {
		rows := contents(f.sim)
		return len(rows) > 0 && strings.Contains(rows[len(rows)-1], "[warning] heads up")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScreen_QuitKey(t *testing.T) {
	f := startScreen(t, nil)

	// Wait until the screen is running before injecting input.
	require.Eventually(t, func() bool {
		rows := contents(f.sim)
		return len(rows) > 0 && strings.Contains(rows[0], "hostshim")
	}, 2*time.Second, 10*time.Millisecond)

	f.sim.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case err := <-f.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("screen did not quit")
	}
}

func TestScreen_Selection(t *testing.T) {
	f := startScreen(t, []config.SessionSpec{
		{Name: "a", Command: "true"},
		{Name: "b", Command: "true"},
	})
	require.Eventually(t, func() bool {
		rows := contents(f.sim)
		return len(rows) > 0 && strings.Contains(rows[0], "hostshim")
	}, 2*time.Second, 10*time.Millisecond)

	f.sim.InjectKey(tcell.KeyDown, 0, tcell.ModNone)
	require.Eventually(t, func() bool {
		f.screen.mu.Lock()
		defer f.screen.mu.Unlock()
		return f.screen.selected == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.sim.InjectKey(tcell.KeyDown, 0, tcell.ModNone)
	require.Eventually(t, func() bool {
		f.screen.mu.Lock()
		defer f.screen.mu.Unlock()
		return f.screen.selected == 0
	}, 2*time.Second, 10*time.Millisecond)
}

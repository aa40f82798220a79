package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/event"
)

const (
	maxLogLines  = 1000
	sidebarWidth = 24
)

// quitSignal is posted as interrupt data to end Run.
type quitSignal struct{}

// Waker returns a loop waker that schedules a Drain on the tcell event loop.
func Waker(s tcell.Screen) func() {
	return func() {
		// A full event queue already holds a pending interrupt.
		_ = s.PostEvent(tcell.NewEventInterrupt(nil))
	}
}

// Screen is the terminal UI. Its Run method is the UI goroutine: it polls
// tcell events and drains the UI loop whenever the waker fires.
type Screen struct {
	screen tcell.Screen
	host   *Host
	log    zerolog.Logger

	mu       sync.Mutex
	lines    []string
	notice   string
	selected int
}

// NewScreen creates the UI on s.
func NewScreen(s tcell.Screen, h *Host, log zerolog.Logger) *Screen {
	return &Screen{
		screen: s,
		host:   h,
		log:    log.With().Str("component", "screen").Logger(),
	}
}

// Notify implements adapter.Notifier by showing the notice in the status
// line. It may be called from any goroutine.
func (s *Screen) Notify(level adapter.Level, title, message string) {
	text := message
	if title != "" {
		text = title + ": " + message
	}
	s.mu.Lock()
	s.notice = fmt.Sprintf("[%s] %s", level, text)
	s.mu.Unlock()
	Waker(s.screen)()
}

// Lines returns a copy of the log pane contents.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *Screen) appendLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	if over := len(s.lines) - maxLogLines; over > 0 {
		s.lines = append(s.lines[:0], s.lines[over:]...)
	}
}

// Run takes over the calling goroutine as the UI goroutine until the user
// quits or ctx is done. The screen must not have been initialized.
func (s *Screen) Run(ctx context.Context, bus *event.Bus, sessions *adapter.Sessions) error {
	if err := s.screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer s.screen.Fini()

	tokens := s.subscribe(bus)
	defer func() {
		for _, t := range tokens {
			_ = bus.Unsubscribe(t)
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.screen.PostEvent(tcell.NewEventInterrupt(quitSignal{}))
		case <-stop:
		}
	}()

	uiCtx := s.host.loop.Bind(ctx)
	s.host.loop.Drain(ctx)
	s.draw(uiCtx, sessions)

	for {
		ev := s.screen.PollEvent()
		if ev == nil {
			return nil
		}
		switch e := ev.(type) {
		case *tcell.EventInterrupt:
			if _, quit := e.Data().(quitSignal); quit {
				return ctx.Err()
			}
			s.host.loop.Drain(ctx)
		case *tcell.EventResize:
			s.screen.Sync()
		case *tcell.EventKey:
			if s.handleKey(e, sessions) {
				return nil
			}
		}
		s.draw(uiCtx, sessions)
	}
}

// subscribe mirrors session events into the log pane. Events are emitted
// on the UI goroutine, so the handlers run inline.
func (s *Screen) subscribe(bus *event.Bus) []event.Token {
	var tokens []event.Token
	logTok, err := bus.Subscribe(event.TypeLog, event.Typed(func(ctx context.Context, ev *event.LogEvent) error {
		s.appendLine(fmt.Sprintf("[%s] %s", ev.SessionName, ev.Content))
		return nil
	}), event.Inline(), event.WithPriority(-100))
	if err == nil {
		tokens = append(tokens, logTok)
	}
	exitTok, err := bus.Subscribe(event.TypeExit, event.Typed(func(ctx context.Context, ev *event.ExitEvent) error {
		s.appendLine(fmt.Sprintf("[%s] exited with code %d", ev.SessionName, ev.ExitCode))
		return nil
	}), event.Inline(), event.WithPriority(-100))
	if err == nil {
		tokens = append(tokens, exitTok)
	}
	return tokens
}

// handleKey applies one key press. It returns true to quit.
func (s *Screen) handleKey(e *tcell.EventKey, sessions *adapter.Sessions) bool {
	names := s.host.Names()

	switch e.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		s.move(-1, len(names))
		return false
	case tcell.KeyDown:
		s.move(1, len(names))
		return false
	case tcell.KeyRune:
	default:
		return false
	}

	if e.Rune() == 'q' {
		return true
	}
	if len(names) == 0 {
		return false
	}

	s.mu.Lock()
	name := names[s.selected]
	s.mu.Unlock()

	var err error
	switch e.Rune() {
	case 'k':
		s.move(-1, len(names))
	case 'j':
		s.move(1, len(names))
	case 's':
		_, err = sessions.Start(name)
	case 'x':
		_, err = sessions.Stop(name, false)
	case 'K':
		_, err = sessions.Stop(name, true)
	case 'r':
		_, err = sessions.Restart(name)
	case 'a':
		if err = s.host.Accept(name); err == nil {
			s.Notify(adapter.LevelInfo, "", fmt.Sprintf("accepted terms for %s", name))
		}
	}
	if err != nil {
		s.Notify(adapter.LevelError, "", err.Error())
	}
	return false
}

func (s *Screen) move(delta, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = (s.selected + delta + n) % n
}

// draw renders the whole screen. It runs on the UI goroutine, so session
// status reads run in place.
func (s *Screen) draw(uiCtx context.Context, sessions *adapter.Sessions) {
	s.screen.Clear()
	w, h := s.screen.Size()

	header := tcell.StyleDefault.Reverse(true)
	s.fill(0, 0, w, header)
	s.text(0, 0, w, header, " hostshim  s:start x:stop K:kill r:restart a:accept q:quit")

	s.mu.Lock()
	selected := s.selected
	notice := s.notice
	lines := s.lines
	s.mu.Unlock()

	for i, name := range s.host.Names() {
		y := i + 1
		if y >= h-1 {
			break
		}
		state := adapter.StateStopped
		if st, err := sessions.SessionStatus(uiCtx, name); err == nil {
			state = st.State
		}
		style := tcell.StyleDefault
		switch state {
		case adapter.StateRunning:
			style = style.Foreground(tcell.ColorGreen)
		case adapter.StateCrashed:
			style = style.Foreground(tcell.ColorRed)
		}
		if i == selected {
			style = style.Reverse(true)
		}
		s.text(0, y, sidebarWidth-1, style, fmt.Sprintf(" %-14s %s", name, state))
	}

	paneX := sidebarWidth
	paneH := h - 2
	if paneH > 0 && w > paneX {
		start := 0
		if len(lines) > paneH {
			start = len(lines) - paneH
		}
		for i, line := range lines[start:] {
			s.text(paneX, i+1, w-paneX, tcell.StyleDefault, line)
		}
	}

	if h > 1 {
		s.text(0, h-1, w, tcell.StyleDefault.Dim(true), notice)
	}
	s.screen.Show()
}

func (s *Screen) fill(x, y, width int, style tcell.Style) {
	for i := 0; i < width; i++ {
		s.screen.SetContent(x+i, y, ' ', nil, style)
	}
}

// text draws str at (x, y), clipped to width cells.
func (s *Screen) text(x, y, width int, style tcell.Style, str string) {
	end := x + width
	gr := uniseg.NewGraphemes(str)
	for gr.Next() {
		runes := gr.Runes()
		cw := gr.Width()
		if x+cw > end {
			return
		}
		s.screen.SetContent(x, y, runes[0], runes[1:], style)
		x += cw
	}
}

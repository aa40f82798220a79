package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/uithread"
)

// Process is a session handle backed by an OS process. Output lines and the
// exit code are delivered to listeners on the UI goroutine.
type Process struct {
	spec config.SessionSpec
	ui   *uithread.Marshaler
	log  zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	running  bool
	pid      int
	exitCode int
	exited   bool
	restart  bool
	gen      uint64

	onLog   []func(ctx context.Context, line string)
	onClose []func(ctx context.Context, exitCode int)
}

func newProcess(spec config.SessionSpec, ui *uithread.Marshaler, log zerolog.Logger) *Process {
	return &Process{
		spec: spec,
		ui:   ui,
		log:  log.With().Str("session", spec.Name).Logger(),
	}
}

// Name returns the session name.
func (p *Process) Name() string { return p.spec.Name }

// OnLogOutput registers fn for every output line.
func (p *Process) OnLogOutput(fn func(ctx context.Context, line string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLog = append(p.onLog, fn)
}

// OnClosed registers fn for process exit.
func (p *Process) OnClosed(fn func(ctx context.Context, exitCode int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

// Running reports whether the process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PID returns the OS process id of the current or last run.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// ExitCode returns the exit code of the last run.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// start launches the process. stdout and stderr are merged.
func (p *Process) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	cmd := exec.Command(p.spec.Command, p.spec.Args...)
	cmd.Dir = p.spec.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}

	p.gen++
	p.cmd = cmd
	p.stdin = stdin
	p.running = true
	p.exited = false
	p.exitCode = 0
	p.pid = cmd.Process.Pid

	pumped := make(chan struct{})
	go p.pump(p.gen, pr, pumped)
	go p.wait(p.gen, cmd, pw, pumped)

	p.log.Info().Int("pid", p.pid).Msg("process started")
	return nil
}

// pump forwards output lines to the UI goroutine.
func (p *Process) pump(gen uint64, r io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.post(func(ctx context.Context) {
			p.deliverLog(ctx, gen, line)
		})
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn().Err(err).Msg("output no longer delivered")
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// wait reaps the process and reports its exit after all output was posted.
func (p *Process) wait(gen uint64, cmd *exec.Cmd, pw *io.PipeWriter, pumped <-chan struct{}) {
	err := cmd.Wait()
	_ = pw.Close()
	<-pumped

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.post(func(ctx context.Context) {
		p.deliverExit(ctx, gen, code)
	})
}

func (p *Process) post(fn func(ctx context.Context)) {
	_, err := p.ui.Post(context.Background(), func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	})
	if err != nil {
		p.log.Debug().Err(err).Msg("notification dropped")
	}
}

func (p *Process) deliverLog(ctx context.Context, gen uint64, line string) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	listeners := p.onLog
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, line)
	}
}

func (p *Process) deliverExit(ctx context.Context, gen uint64, code int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.exited = true
	p.exitCode = code
	p.cmd = nil
	p.stdin = nil
	restart := p.restart
	p.restart = false
	listeners := p.onClose
	p.mu.Unlock()

	p.log.Info().Int("exit_code", code).Msg("process exited")
	for _, fn := range listeners {
		fn(ctx, code)
	}

	if restart {
		if err := p.start(); err != nil {
			p.log.Error().Err(err).Msg("restart failed")
		}
	}
}

// Send writes line to the process's stdin.
func (p *Process) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stdin == nil {
		return ErrNotRunning
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

// Stop asks the process to exit, using the configured stop command when
// there is one.
func (p *Process) Stop() error {
	if p.spec.StopCommand != "" {
		return p.Send(p.spec.StopCommand)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.cmd == nil {
		return ErrNotRunning
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.cmd == nil {
		return ErrNotRunning
	}
	return p.cmd.Process.Kill()
}

// Restart kills a running process and starts it again once its exit has
// been delivered. A stopped process is started right away.
func (p *Process) Restart() error {
	p.mu.Lock()
	if !p.running || p.cmd == nil {
		p.mu.Unlock()
		return p.start()
	}
	p.restart = true
	proc := p.cmd.Process
	p.mu.Unlock()

	return proc.Kill()
}

package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T) (*Executor, *State) {
	t.Helper()
	state := NewState()
	exec := NewExecutor(state, zerolog.Nop(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	go exec.Run(ctx)
	t.Cleanup(func() {
		exec.Close()
		cancel()
		<-exec.Exited()
		state.Close()
	})
	return exec, state
}

func TestExecutor_DefaultQueueSize(t *testing.T) {
	exec := NewExecutor(NewState(), zerolog.Nop(), 0)
	assert.Equal(t, 100, cap(exec.queue))
	assert.False(t, exec.IsClosed())
}

func TestExecutor_DoSerializesConcurrentCallers(t *testing.T) {
	exec, _ := startExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Do(ctx, func(s *State) error {
		return s.DoString(ctx, `counter = 0`)
	}))

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, exec.Do(ctx, func(s *State) error {
				return s.DoString(ctx, `counter = counter + 1`)
			}))
		}()
	}
	wg.Wait()

	var got lua.LValue
	require.NoError(t, exec.Do(ctx, func(s *State) error {
		got = s.L.GetGlobal("counter")
		return nil
	}))
	assert.Equal(t, lua.LNumber(callers), got)
}

func TestExecutor_DoReturnsError(t *testing.T) {
	exec, _ := startExecutor(t)
	want := errors.New("nope")

	err := exec.Do(context.Background(), func(*State) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestExecutor_PanicRecovered(t *testing.T) {
	exec, _ := startExecutor(t)
	ctx := context.Background()

	err := exec.Do(ctx, func(*State) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// Still serving.
	assert.NoError(t, exec.Do(ctx, func(*State) error { return nil }))
}

func TestExecutor_Post(t *testing.T) {
	exec, _ := startExecutor(t)
	ran := make(chan struct{})

	require.NoError(t, exec.Post(func(*State) error {
		close(ran)
		return errors.New("logged only")
	}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted call did not run")
	}
}

func TestExecutor_PostQueueFull(t *testing.T) {
	exec := NewExecutor(NewState(), zerolog.Nop(), 1)
	defer exec.Close()

	// Not running, so the second post finds the queue full.
	require.NoError(t, exec.Post(func(*State) error { return nil }))
	assert.ErrorIs(t, exec.Post(func(*State) error { return nil }), ErrQueueFull)
}

func TestExecutor_ContextCancelledWhileWaiting(t *testing.T) {
	exec, _ := startExecutor(t)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = exec.Do(context.Background(), func(*State) error {
			<-release
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := exec.Do(ctx, func(*State) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_Closed(t *testing.T) {
	exec, _ := startExecutor(t)
	exec.Close()
	exec.Close()

	assert.True(t, exec.IsClosed())
	assert.ErrorIs(t, exec.Do(context.Background(), func(*State) error { return nil }), ErrExecutorClosed)
	assert.ErrorIs(t, exec.Post(func(*State) error { return nil }), ErrExecutorClosed)

	select {
	case <-exec.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestExecutor_QueuedCallsFailOnClose(t *testing.T) {
	state := NewState()
	defer state.Close()
	exec := NewExecutor(state, zerolog.Nop(), 10)

	started := make(chan struct{})
	release := make(chan struct{})
	go exec.Run(context.Background())

	go func() {
		_ = exec.Do(context.Background(), func(*State) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- exec.Do(context.Background(), func(*State) error { return nil })
	}()
	// Give the second call time to enter the queue.
	time.Sleep(20 * time.Millisecond)

	exec.Close()
	close(release)

	select {
	case err := <-queued:
		assert.ErrorIs(t, err, ErrExecutorClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("queued call never completed")
	}
}

package core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hostshim/internal/config"
	"github.com/dshills/hostshim/internal/event"
	"github.com/dshills/hostshim/internal/hook"
	"github.com/dshills/hostshim/internal/uithread"
	"github.com/dshills/hostshim/internal/worker"
)

func newCore(t *testing.T, opts ...Option) *Core {
	t.Helper()
	c := New(&config.Config{Workers: 2}, zerolog.Nop(), opts...)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestNew_Wiring(t *testing.T) {
	c := newCore(t)

	assert.Equal(t, 2, c.Pool().Workers())
	assert.NotNil(t, c.Bus())
	assert.NotNil(t, c.Sessions())
	assert.NotNil(t, c.UI())
	assert.NotNil(t, c.Hooks())
	assert.True(t, c.Headless())
}

func TestNew_NilConfig(t *testing.T) {
	c := New(nil, zerolog.Nop())
	defer c.Close(context.Background())

	assert.Equal(t, config.Default().Workers, c.Pool().Workers())
}

func TestHeadless_MarshalerFails(t *testing.T) {
	c := newCore(t)

	_, err := c.UI().Call(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, uithread.ErrNoUIContext)
	assert.False(t, c.Hooks().Install())
}

func TestAttachUI(t *testing.T) {
	c := newCore(t)
	loop := uithread.NewLoop()
	c.AttachUI(loop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	fut, err := worker.Go(c.Pool(), func(ctx context.Context) (int, error) {
		return uithread.Invoke(ctx, c.UI(), func(ctx context.Context) (int, error) {
			return 42, nil
		})
	})
	require.NoError(t, err)

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	v, err := fut.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Same(t, loop, c.Loop())
	assert.False(t, c.Headless())
}

type launcher string

func (l launcher) SessionName() string { return string(l) }

type handle struct{ id int }

func TestHookTarget_CaptureIntoBus(t *testing.T) {
	slot := hook.NewSlot(func(ctx context.Context, l hook.Launcher) (any, error) {
		return &handle{id: 1}, nil
	})
	c := newCore(t, WithHookTarget(func() *hook.Slot { return slot }))

	require.True(t, c.Hooks().Install())
	result, err := slot.Invoke(context.Background(), launcher("lobby"))
	require.NoError(t, err)

	got, ok := c.Sessions().Get("lobby")
	require.True(t, ok)
	assert.Same(t, result, got)
}

func TestWithBusOptions(t *testing.T) {
	faults := make(chan *event.HandlerError, 1)
	c := newCore(t, WithBusOptions(event.WithFaultHandler(func(h *event.HandlerError) { faults <- h })))

	_, err := c.Bus().Subscribe(event.TypeLog, event.HandlerFunc(func(context.Context, event.Event) error {
		panic("boom")
	}), event.Inline())
	require.NoError(t, err)
	require.NoError(t, c.Bus().Emit(context.Background(), event.NewLogEvent("s", "x")))

	select {
	case h := <-faults:
		assert.ErrorIs(t, h, event.ErrHandlerPanic)
	default:
		t.Fatal("fault handler not called")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(nil, zerolog.Nop())
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	_, err := c.Pool().Submit(func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, worker.ErrPoolClosed)
}

func TestClose_LogsSummary(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	c := New(nil, log)
	require.NoError(t, c.Close(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"message":"core closed"`)
	assert.Contains(t, out, `"captured":0`)
	assert.Contains(t, out, `"ui_attached":false`)
	assert.NotContains(t, out, `"ui_executed"`)
}

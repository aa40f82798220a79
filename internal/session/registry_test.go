package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ id int }

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	h1, h2 := &fakeHandle{1}, &fakeHandle{2}

	r.Register("s1", h1)
	r.Register("s1", h2)

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, h2, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()
	got, ok := r.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &fakeHandle{})

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"charlie", "alpha", "bravo"} {
		r.Register(n, &fakeHandle{})
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.Names())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("s%d", i%8)
			for j := 0; j < 100; j++ {
				r.Register(name, &fakeHandle{j})
				_, _ = r.Get(name)
				_ = r.Names()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, r.Len())
}

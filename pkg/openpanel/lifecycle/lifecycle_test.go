package lifecycle_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/openpanel/pkg/openpanel/lifecycle"
)

func TestTracker_SingleScene(t *testing.T) {
	tr := lifecycle.NewTracker()

	assert.True(t, tr.Foreground("main"))
	assert.False(t, tr.Foreground("main"), "already active")
	assert.True(t, tr.Background("main"))
	assert.False(t, tr.Background("main"), "already inactive")
	assert.True(t, tr.Foreground("main"), "reopened")
}

func TestTracker_MultipleScenes(t *testing.T) {
	tr := lifecycle.NewTracker()

	assert.True(t, tr.Foreground("a"))
	assert.False(t, tr.Foreground("b"))
	assert.Equal(t, 2, tr.Active())

	assert.False(t, tr.Background("a"))
	assert.True(t, tr.Background("b"))
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_UnknownBackground(t *testing.T) {
	tr := lifecycle.NewTracker()
	assert.False(t, tr.Background("ghost"))
}

func TestTracker_Concurrent(t *testing.T) {
	tr := lifecycle.NewTracker()

	var mu sync.Mutex
	opened := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Foreground("main") {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
}

func TestHooks_InvokesCallbacksInOrder(t *testing.T) {
	h := lifecycle.NewHooks()

	var got []string
	h.OnForeground(func(s string) { got = append(got, "fg1:"+s) })
	h.OnForeground(func(s string) { got = append(got, "fg2:"+s) })
	h.OnBackground(func(s string) { got = append(got, "bg:"+s) })

	h.Foreground("win")
	h.Background("win")

	assert.Equal(t, []string{"fg1:win", "fg2:win", "bg:win"}, got)
}

func TestHooks_CallbackMayRegister(t *testing.T) {
	h := lifecycle.NewHooks()

	calls := 0
	h.OnForeground(func(string) {
		calls++
		h.OnForeground(func(string) { calls++ })
	})

	h.Foreground("x")
	assert.Equal(t, 1, calls, "callbacks added during a pass run from the next one")

	h.Foreground("x")
	assert.Equal(t, 3, calls)

	var _ lifecycle.Registrar = h
}

func TestHooks_NoCallbacks(t *testing.T) {
	h := lifecycle.NewHooks()
	assert.NotPanics(t, func() {
		h.Foreground("x")
		h.Background("x")
	})
}

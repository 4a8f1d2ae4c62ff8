// Package lifecycle reports when the host application becomes active or
// inactive.
//
// A host may have several scenes (windows, sessions, connections) that go to
// the foreground and background independently. Tracker collapses those into
// a single opened/closed signal for the application as a whole.
package lifecycle

import "sync"

// Registrar accepts callbacks for scene transitions.
type Registrar interface {
	OnForeground(fn func(scene string))
	OnBackground(fn func(scene string))
}

// Hooks is a Registrar the host drives directly.
type Hooks struct {
	mu         sync.Mutex
	foreground []func(string)
	background []func(string)
}

// NewHooks creates an empty Hooks.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnForeground registers fn for foreground transitions.
func (h *Hooks) OnForeground(fn func(scene string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.foreground = append(h.foreground, fn)
}

// OnBackground registers fn for background transitions.
func (h *Hooks) OnBackground(fn func(scene string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.background = append(h.background, fn)
}

// Foreground notifies every foreground callback synchronously.
func (h *Hooks) Foreground(scene string) {
	for _, fn := range h.snapshot(true) {
		fn(scene)
	}
}

// Background notifies every background callback synchronously.
func (h *Hooks) Background(scene string) {
	for _, fn := range h.snapshot(false) {
		fn(scene)
	}
}

func (h *Hooks) snapshot(fg bool) []func(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.background
	if fg {
		src = h.foreground
	}
	return append([]func(string){}, src...)
}

// Tracker counts active scenes.
type Tracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewTracker creates a Tracker with no active scenes.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]struct{})}
}

// Foreground marks scene active and reports whether it is the first active
// scene. Repeated calls for an already active scene report false.
func (t *Tracker) Foreground(scene string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[scene]; ok {
		return false
	}
	t.active[scene] = struct{}{}
	return len(t.active) == 1
}

// Background marks scene inactive and reports whether no scene remains
// active. Unknown scenes report false.
func (t *Tracker) Background(scene string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[scene]; !ok {
		return false
	}
	delete(t.active, scene)
	return len(t.active) == 0
}

// Active returns the number of active scenes.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

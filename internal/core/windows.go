package core

import "github.com/vovakirdan/wirestatus/internal/proto"

// Windows tracks the attention level of every known conversation window,
// in the order the windows were first seen.
type Windows struct {
	levels map[proto.Window]int
	order  []proto.Window
}

// NewWindows constructs an empty window table.
func NewWindows() *Windows {
	return &Windows{levels: make(map[proto.Window]int)}
}

// Set records the level of w. Returns true if w was not known before.
func (t *Windows) Set(w proto.Window, level int) bool {
	_, exists := t.levels[w]
	t.levels[w] = level
	if !exists {
		t.order = append(t.order, w)
	}
	return !exists
}

// Remove forgets w. Returns true if it was known.
func (t *Windows) Remove(w proto.Window) bool {
	if _, exists := t.levels[w]; !exists {
		return false
	}
	delete(t.levels, w)
	for i, cur := range t.order {
		if cur == w {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Level returns the recorded level of w.
func (t *Windows) Level(w proto.Window) (int, bool) {
	level, ok := t.levels[w]
	return level, ok
}

// Len returns the number of known windows.
func (t *Windows) Len() int {
	return len(t.order)
}

// Events returns one window_level event per known window, in first-seen order.
func (t *Windows) Events() []proto.EventWindowLevel {
	out := make([]proto.EventWindowLevel, 0, len(t.order))
	for _, w := range t.order {
		out = append(out, proto.EventWindowLevel{Window: w, Level: t.levels[w]})
	}
	return out
}

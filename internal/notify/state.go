// Package notify is a headless status consumer: it tracks window levels from
// the server and turns message events into merged notifications.
package notify

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vovakirdan/wirestatus/internal/proto"
)

// LevelNames maps an attention level to its display name.
var LevelNames = [...]string{"none", "none", "message", "hilight"}

// ErrDisconnectNotice is returned when the server announces it is dropping us.
var ErrDisconnectNotice = errors.New("server sent a disconnect notice")

// ErrBadLevel is returned for a level outside LevelNames.
var ErrBadLevel = errors.New("level out of range")

// State is the client's view of every window that needs attention.
// It is not safe for concurrent use.
type State struct {
	windows map[proto.Window]int
}

// NewState returns an empty state.
func NewState() *State {
	return &State{windows: make(map[proto.Window]int)}
}

// Handle applies a server frame. Messages are ignored here.
func (s *State) Handle(m proto.Message) error {
	switch v := m.(type) {
	case proto.Reset:
		s.Reset()
	case proto.EventWindowLevel:
		return s.Set(v.Window, v.Level)
	case proto.DisconnectNotice:
		return ErrDisconnectNotice
	}
	return nil
}

// Set records a window's level. Level 0 forgets the window.
func (s *State) Set(w proto.Window, level int) error {
	if level < 0 || level >= len(LevelNames) {
		return fmt.Errorf("%w: %d for %s", ErrBadLevel, level, w)
	}
	if level == 0 {
		delete(s.windows, w)
		return nil
	}
	s.windows[w] = level
	return nil
}

// Reset forgets every window.
func (s *State) Reset() {
	clear(s.windows)
}

// Level returns a window's level, 0 when unknown.
func (s *State) Level(w proto.Window) int {
	return s.windows[w]
}

// MaxLevel is the highest level across all windows.
func (s *State) MaxLevel() int {
	top := 0
	for _, l := range s.windows {
		if l > top {
			top = l
		}
	}
	return top
}

// LevelName is the display name of MaxLevel.
func (s *State) LevelName() string {
	return LevelNames[s.MaxLevel()]
}

// Len is the number of windows with a non-zero level.
func (s *State) Len() int {
	return len(s.windows)
}

// Windows lists the tracked windows, highest level first, then by name.
func (s *State) Windows() []proto.Window {
	out := make([]proto.Window, 0, len(s.windows))
	for w := range s.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := s.windows[out[i]], s.windows[out[j]]
		if li != lj {
			return li > lj
		}
		return out[i].String() < out[j].String()
	})
	return out
}

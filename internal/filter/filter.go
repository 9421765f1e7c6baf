// Package filter decides whether a window event is relevant to clients.
package filter

import (
	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/settings"
)

// Allow reports whether ev passes the policy in s. A notify override wins
// over an ignore override for the same name.
func Allow(s *settings.Snapshot, ev proto.Event) bool {
	if s == nil || ev == nil {
		return false
	}
	return AllowWindow(s, ev.Target())
}

// AllowWindow applies the policy to a bare window.
func AllowWindow(s *settings.Snapshot, w proto.Window) bool {
	if s == nil || !w.Valid() {
		return false
	}

	def := s.DefaultChannels
	if w.Kind == proto.WindowQuery {
		def = s.DefaultQueries
	}

	switch {
	case s.NotifyOverride(w.Name):
		return true
	case s.IgnoreOverride(w.Name):
		return false
	default:
		return def == settings.Notify
	}
}

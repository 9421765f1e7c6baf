package core

import (
	"github.com/vovakirdan/wirestatus/internal/proto"
)

// WindowLevel records a window's attention level and broadcasts it.
// Returns whether the event passed the filter.
func (h *Hub) WindowLevel(w proto.Window, level int) (bool, error) {
	if !w.Valid() {
		return false, coreError(ErrCodeInvalidWindow, ErrInvalidWindow, "window needs a channel or query name")
	}
	if level < 0 {
		return false, coreError(ErrCodeBadRequest, ErrBadRequest, "level must not be negative")
	}
	ev := proto.EventWindowLevel{Window: w, Level: level}
	if err := h.checkSize(ev); err != nil {
		return false, err
	}
	h.windows.Set(w, level)
	return h.Update(ev), nil
}

// WindowDestroyed forgets a window and broadcasts level 0 for it.
func (h *Hub) WindowDestroyed(w proto.Window) (bool, error) {
	if !w.Valid() {
		return false, coreError(ErrCodeInvalidWindow, ErrInvalidWindow, "window needs a channel or query name")
	}
	ev := proto.EventWindowLevel{Window: w, Level: 0}
	if err := h.checkSize(ev); err != nil {
		return false, err
	}
	h.windows.Remove(w)
	return h.Update(ev), nil
}

// PrivateMessage broadcasts a query message from nick.
func (h *Hub) PrivateMessage(server, nick, text string) (bool, error) {
	w := proto.Window{Kind: proto.WindowQuery, Name: nick, Server: server}
	if !w.Valid() {
		return false, coreError(ErrCodeInvalidWindow, ErrInvalidWindow, "private message needs a nick")
	}
	ev := proto.EventMessage{Window: w, Nick: nick, Text: text}
	if err := h.checkSize(ev); err != nil {
		return false, err
	}
	return h.Update(ev), nil
}

// PublicMessage broadcasts a channel message from nick. Callers decide
// whether the line concerns the local user.
func (h *Hub) PublicMessage(server, channel, nick, text string) (bool, error) {
	w := proto.Window{Kind: proto.WindowChannel, Name: channel, Server: server}
	if !w.Valid() {
		return false, coreError(ErrCodeInvalidWindow, ErrInvalidWindow, "public message needs a channel")
	}
	if nick == "" {
		return false, coreError(ErrCodeBadRequest, ErrBadRequest, "public message needs a nick")
	}
	ev := proto.EventMessage{Window: w, Nick: nick, Text: text}
	if err := h.checkSize(ev); err != nil {
		return false, err
	}
	return h.Update(ev), nil
}

// checkSize rejects events that could not be framed for a session.
func (h *Hub) checkSize(ev proto.Event) error {
	if err := proto.Fits(ev, h.limits.BufferLimit); err != nil {
		return coreError(ErrCodeBadRequest, ErrBadRequest, "event too large: "+err.Error())
	}
	return nil
}

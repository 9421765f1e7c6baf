package core

import (
	"github.com/vovakirdan/wirestatus/internal/filter"
	"github.com/vovakirdan/wirestatus/internal/proto"
)

// clientRecv applies a client command. Other message kinds are ignored.
func (h *Hub) clientRecv(s *Session, m proto.Message) {
	switch msg := m.(type) {
	case proto.Settings:
		s.wantsMessages = msg.SendMessages
		s.logger.Debug().Bool("send_messages", msg.SendMessages).Msg("settings")
	case proto.ResetRequest:
		h.clientReset(s)
	}
}

func (h *Hub) clientReset(s *Session) {
	s.send(proto.Reset{})
	h.sendSnapshot(s)
}

// sendSnapshot queues one window_level event per known window that passes
// the filter, in first-seen order.
func (h *Hub) sendSnapshot(s *Session) {
	for _, ev := range h.windows.Events() {
		if !s.live() {
			return
		}
		if !filter.Allow(h.settings, ev) {
			continue
		}
		s.send(ev)
	}
}

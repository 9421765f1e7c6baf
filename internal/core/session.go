package core

import (
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/reactor"
	"github.com/vovakirdan/wirestatus/internal/transport/unixsock"
	"github.com/vovakirdan/wirestatus/internal/utils"
)

// Conn is the transport a session drives. Read and Write never block and
// report unixsock.ErrWouldBlock when the socket is not ready.
type Conn interface {
	Fd() int
	Peer() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Shutdown() error
	Close() error
}

// SessionState is the lifecycle phase of a session.
type SessionState int

const (
	// StateAccepted is a connection that has not been started yet.
	StateAccepted SessionState = iota
	// StateActive is a registered session exchanging frames.
	StateActive
	// StateDraining is a dropped session holding its socket open so the
	// peer can read the disconnect notice.
	StateDraining
	// StateClosed is a released session.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	timerRecv  = "recv"
	timerSend  = "send"
	timerClose = "close"
)

// Session is the server side of one client connection.
type Session struct {
	ID          string
	Peer        string
	ConnectedAt time.Time

	hub    *Hub
	conn   Conn
	logger zerolog.Logger

	state         SessionState
	wantsMessages bool

	recv    proto.Decoder
	sendBuf []byte

	recvWatch reactor.WatchID
	errWatch  reactor.WatchID
	sendWatch reactor.WatchID
}

func newSession(h *Hub, conn Conn) *Session {
	id := utils.NewID()
	return &Session{
		ID:          id,
		Peer:        conn.Peer(),
		ConnectedAt: h.loop.Now(),
		hub:         h,
		conn:        conn,
		logger:      h.logger.With().Str("session_id", utils.ShortID(id)).Logger(),
	}
}

// State returns the session's lifecycle phase.
func (s *Session) State() SessionState { return s.state }

// WantsMessages reports whether message events are forwarded to this session.
func (s *Session) WantsMessages() bool { return s.wantsMessages }

// Buffered returns the number of queued, unsent bytes.
func (s *Session) Buffered() int { return len(s.sendBuf) }

func (s *Session) live() bool {
	return s.state == StateActive
}

func (s *Session) timerKey() string  { return "session/" + s.ID }
func (s *Session) lingerKey() string { return "linger/" + s.ID }

// start registers the session's watches and timers and queues the snapshot.
func (s *Session) start() {
	loop := s.hub.loop
	fd := s.conn.Fd()

	s.recvWatch = loop.Watch(fd, reactor.Readable, s.onReadable)
	s.errWatch = loop.Watch(fd, reactor.Error|reactor.Hangup, s.onError)
	s.state = StateActive

	s.setRecvTimeout(s.hub.limits.Heartbeat, "RECV Timeout (HB, F)")
	s.armHeartbeat()
	s.hub.sendSnapshot(s)
}

func (s *Session) onReadable(_ int, _ reactor.Cond) {
	if !s.live() {
		return
	}

	buf := s.hub.readBuf
	n, err := s.conn.Read(buf)
	switch {
	case errors.Is(err, unixsock.ErrWouldBlock):
		return
	case errors.Is(err, io.EOF):
		s.drop(fault(FaultHangup, "RECV failed (EOF)", nil))
		return
	case err != nil:
		s.drop(fault(FaultTransport, "RECV IO Error", err))
		return
	}
	_, _ = s.recv.Write(buf[:n])

	for {
		obj, ok, err := s.recv.Next()
		if err != nil {
			s.logger.Debug().Err(err).Msg("bad frame")
			s.drop(fault(FaultFraming, "RECV BAD JSON", err))
			return
		}
		if !ok {
			break
		}
		s.hub.metrics.FrameReceived()
		if err := s.dispatch(obj); err != nil {
			s.logger.Debug().Err(err).Msg("bad frame")
			s.drop(fault(FaultFraming, "RECV BAD JSON", err))
			return
		}
		if !s.live() {
			return
		}
	}

	// Only bytes left over after framing count against the limit, so a chunk
	// that completes a frame is accepted even if it briefly exceeds it.
	residual := s.recv.Buffered()
	if residual > s.hub.limits.BufferLimit {
		s.drop(fault(FaultRecvOverflow, "RECV Buffer Overflow", nil))
		return
	}
	if residual > 0 {
		s.setRecvTimeout(s.hub.limits.TxRx, "RECV Timeout (RX)")
	} else {
		s.setRecvTimeout(s.hub.limits.Heartbeat, "RECV Timeout (HB)")
	}
}

func (s *Session) dispatch(obj proto.Object) error {
	kind, err := proto.TypeOf(obj)
	if err != nil {
		return err
	}
	switch kind {
	case proto.TypeSettings, proto.TypeResetRequest:
		msg, err := proto.Parse(obj)
		if err != nil {
			return err
		}
		s.hub.clientRecv(s, msg)
	default:
		s.logger.Debug().Str("type", kind).Msg("ignoring frame")
	}
	return nil
}

func (s *Session) onError(_ int, cond reactor.Cond) {
	if !s.live() {
		return
	}
	if cond&reactor.Error != 0 {
		s.drop(fault(FaultTransport, "IO Error", nil))
		return
	}
	s.drop(fault(FaultHangup, "IO Hangup", nil))
}

func (s *Session) onWritable(_ int, _ reactor.Cond) {
	if !s.live() {
		return
	}
	if len(s.sendBuf) == 0 {
		s.unwatchSend()
		return
	}
	s.flush(false)
}

// send frames m and queues it.
func (s *Session) send(m proto.Message) {
	if !s.live() {
		return
	}
	s.enqueue(proto.EncodeLimit(m, s.hub.limits.BufferLimit))
}

func (s *Session) enqueue(frame []byte) {
	s.hub.metrics.FrameSent()

	if len(s.sendBuf) != 0 {
		s.sendBuf = append(s.sendBuf, frame...)
		if len(s.sendBuf) > s.hub.limits.BufferLimit {
			s.drop(fault(FaultSendOverflow, "SEND Buffer Overflow", nil))
		}
		return
	}

	s.sendBuf = append(s.sendBuf[:0], frame...)
	s.flush(true)
}

// flush writes as much of the send buffer as the socket takes. On the
// initial attempt after the buffer was empty a would-block is tolerated.
func (s *Session) flush(initial bool) {
	n, err := s.conn.Write(s.sendBuf)
	switch {
	case err != nil && initial && errors.Is(err, unixsock.ErrWouldBlock):
		n = 0
	case err != nil:
		s.drop(fault(FaultTransport, "SEND IO Error", err))
		return
	case n == 0 && !initial:
		s.drop(fault(FaultTransport, "SEND IO Error", io.ErrShortWrite))
		return
	}

	rest := copy(s.sendBuf, s.sendBuf[n:])
	s.sendBuf = s.sendBuf[:rest]

	if rest > 0 {
		s.hub.loop.SetTimer(s.timerKey(), timerSend, s.hub.limits.TxRx, func() {
			s.drop(fault(FaultTimeout, "SEND Timeout (TX)", nil))
		})
		if s.sendWatch == 0 {
			s.sendWatch = s.hub.loop.Watch(s.conn.Fd(), reactor.Writable, s.onWritable)
		}
		return
	}

	s.unwatchSend()
	s.armHeartbeat()
}

func (s *Session) armHeartbeat() {
	s.hub.loop.SetTimer(s.timerKey(), timerSend, s.hub.limits.Heartbeat, s.sendHeartbeat)
}

func (s *Session) sendHeartbeat() {
	if !s.live() || len(s.sendBuf) != 0 {
		return
	}
	s.enqueue(proto.Heartbeat)
}

func (s *Session) setRecvTimeout(d time.Duration, reason string) {
	s.hub.loop.SetTimer(s.timerKey(), timerRecv, d, func() {
		s.drop(fault(FaultTimeout, reason, nil))
	})
}

func (s *Session) unwatchSend() {
	if s.sendWatch != 0 {
		s.hub.loop.Unwatch(s.sendWatch)
		s.sendWatch = 0
	}
}

// drop removes the session from the hub. Faults that notify get a
// disconnect notice when nothing else is queued, and the socket lingers
// so the peer can read it. Dropping twice is a no-op.
func (s *Session) drop(f Fault) {
	if s.state != StateActive && s.state != StateAccepted {
		return
	}

	loop := s.hub.loop
	loop.CancelTimers(s.timerKey())
	loop.Unwatch(s.recvWatch)
	loop.Unwatch(s.errWatch)
	s.unwatchSend()
	s.recv.Reset()
	s.hub.forget(s, f)

	if f.Notify() && len(s.sendBuf) == 0 {
		notice := proto.EncodeLimit(proto.DisconnectNotice{}, s.hub.limits.BufferLimit)
		if n, err := s.conn.Write(notice); err == nil && n == len(notice) {
			s.state = StateDraining
			s.hub.lingering[s.ID] = s
			loop.SetTimer(s.lingerKey(), timerClose, s.hub.limits.Linger, s.close)
			return
		}
	}
	s.close()
}

// close shuts the socket down in both directions and releases it.
func (s *Session) close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.hub.loop.CancelTimers(s.lingerKey())
	delete(s.hub.lingering, s.ID)

	if err := s.conn.Shutdown(); err != nil {
		s.logger.Debug().Err(err).Msg("shutdown failed")
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close failed")
	}
}

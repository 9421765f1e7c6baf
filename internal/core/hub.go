package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/config"
	"github.com/vovakirdan/wirestatus/internal/filter"
	"github.com/vovakirdan/wirestatus/internal/metrics"
	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/reactor"
	"github.com/vovakirdan/wirestatus/internal/settings"
	"github.com/vovakirdan/wirestatus/internal/transport/unixsock"
)

// Loop is the part of the reactor the hub drives. All hub methods must be
// called from the loop goroutine.
type Loop interface {
	Now() time.Time
	Watch(fd int, cond reactor.Cond, fn reactor.Handler) reactor.WatchID
	Unwatch(id reactor.WatchID)
	SetTimer(key, name string, d time.Duration, fn func())
	CancelTimers(key string)
}

// Limits are the per-session timeouts and buffer caps.
type Limits struct {
	Heartbeat   time.Duration
	TxRx        time.Duration
	Linger      time.Duration
	BufferLimit int
	ReadChunk   int
}

// DefaultLimits returns the protocol defaults.
func DefaultLimits() Limits {
	return Limits{
		Heartbeat:   10 * time.Minute,
		TxRx:        time.Minute,
		Linger:      10 * time.Second,
		BufferLimit: proto.MaxFrameSize,
		ReadChunk:   1024,
	}
}

// LimitsFromConfig overlays configured values on the defaults.
func LimitsFromConfig(cfg config.Config) Limits {
	l := DefaultLimits()
	if cfg.HeartbeatInterval > 0 {
		l.Heartbeat = cfg.HeartbeatInterval
	}
	if cfg.TxRxTimeout > 0 {
		l.TxRx = cfg.TxRxTimeout
	}
	if cfg.DropNotifyLinger > 0 {
		l.Linger = cfg.DropNotifyLinger
	}
	if cfg.BufferLimit > 0 {
		l.BufferLimit = cfg.BufferLimit
	}
	return l
}

// HubOptions carries the hub's optional collaborators.
type HubOptions struct {
	Limits  Limits
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Last is a recent-activity record.
type Last struct {
	Key  string    `json:"key"`
	Info string    `json:"info"`
	At   time.Time `json:"at"`
}

// Hub owns the listening socket, the session table and the window table,
// and fans events out to sessions.
type Hub struct {
	loop     Loop
	logger   *zerolog.Logger
	metrics  *metrics.Metrics
	limits   Limits
	settings *settings.Snapshot
	windows  *Windows

	sessions  map[string]*Session
	order     []*Session
	lingering map[string]*Session

	listener    *unixsock.Listener
	listenWatch reactor.WatchID

	lasts   map[string]Last
	readBuf []byte
}

// NewHub creates a hub driven by loop and filtering with snap.
func NewHub(loop Loop, snap *settings.Snapshot, opts HubOptions) *Hub {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Limits.ReadChunk <= 0 {
		opts.Limits.ReadChunk = DefaultLimits().ReadChunk
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if snap == nil {
		snap = settings.New(settings.Notify, settings.Notify, nil, nil, "")
	}
	return &Hub{
		loop:      loop,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		limits:    opts.Limits,
		settings:  snap,
		windows:   NewWindows(),
		sessions:  make(map[string]*Session),
		lingering: make(map[string]*Session),
		lasts:     make(map[string]Last),
		readBuf:   make([]byte, opts.Limits.ReadChunk),
	}
}

// Listen binds the client socket at path, replacing any stale file, and
// starts accepting connections.
func (h *Hub) Listen(path string) error {
	if h.listener != nil {
		return fmt.Errorf("hub already listening on %s", h.listener.Path())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("socket dir: %w", err)
	}
	l, err := unixsock.Listen(path, unixsock.DefaultBacklog)
	if err != nil {
		return err
	}
	h.listener = l
	h.listenWatch = h.loop.Watch(l.Fd(), reactor.Readable, h.onAcceptable)
	h.logger.Info().Str("socket", path).Msg("listening")
	return nil
}

// Listening reports whether new connections are still accepted.
func (h *Hub) Listening() bool {
	return h.listener != nil
}

func (h *Hub) onAcceptable(_ int, _ reactor.Cond) {
	if h.listener == nil {
		return
	}
	conn, err := h.listener.Accept()
	if errors.Is(err, unixsock.ErrWouldBlock) {
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("accept failed, no further clients will be accepted")
		h.closeListener(false)
		return
	}
	h.Attach(conn)
}

func (h *Hub) closeListener(remove bool) {
	if h.listener == nil {
		return
	}
	h.loop.Unwatch(h.listenWatch)
	h.listenWatch = 0
	if err := h.listener.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("close listener")
	}
	if remove {
		if err := h.listener.Remove(); err != nil {
			h.logger.Warn().Err(err).Msg("remove socket file")
		}
	}
	h.listener = nil
}

// Attach starts a session on an accepted connection.
func (h *Hub) Attach(conn Conn) *Session {
	s := newSession(h, conn)
	h.setLast("connect", s.Peer)
	h.sessions[s.ID] = s
	h.order = append(h.order, s)
	h.metrics.SessionAccepted()
	s.logger.Info().Str("peer", s.Peer).Msg("client connected")

	s.start()
	return s
}

func (h *Hub) forget(s *Session, f Fault) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	for i, cur := range h.order {
		if cur == s {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.setLast("drop", f.Reason)
	h.metrics.SessionDropped(f.Kind.String())

	ev := s.logger.Info().Str("reason", f.Reason).Str("kind", f.Kind.String())
	if f.Err != nil {
		ev = ev.Err(f.Err)
	}
	ev.Msg("dropping client")
}

// Session returns a live session by ID.
func (h *Hub) Session(id string) (*Session, bool) {
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns the live sessions in connection order.
func (h *Hub) Sessions() []*Session {
	out := make([]*Session, len(h.order))
	copy(out, h.order)
	return out
}

// Windows exposes the window table.
func (h *Hub) Windows() *Windows {
	return h.windows
}

// Settings returns the installed settings snapshot.
func (h *Hub) Settings() *settings.Snapshot {
	return h.settings
}

// Update broadcasts ev to every live session if it passes the filter.
// Message events only reach sessions that asked for them. Returns whether
// the event passed the filter.
func (h *Hub) Update(ev proto.Event) bool {
	if !filter.Allow(h.settings, ev) {
		h.metrics.EventFiltered()
		return false
	}
	h.metrics.EventBroadcast(ev.Type())
	h.logger.Debug().Str("type", ev.Type()).Str("window", ev.Target().String()).Msg("update")

	_, isMessage := ev.(proto.EventMessage)
	for _, s := range h.Sessions() {
		if isMessage && !s.wantsMessages {
			continue
		}
		s.send(ev)
	}
	return true
}

// LoadSettings installs a rebuilt settings snapshot. The socket path is
// only honoured at startup.
func (h *Hub) LoadSettings(snap *settings.Snapshot) {
	if snap == nil {
		return
	}
	if h.listener != nil && snap.Socket != "" && snap.Socket != h.listener.Path() {
		h.logger.Warn().Str("socket", snap.Socket).Str("listening", h.listener.Path()).
			Msg("socket path changed, restart to apply")
	}
	h.settings = snap
	h.metrics.SettingsReloaded()
	h.logger.Info().
		Str("default_channels", snap.DefaultChannels.String()).
		Str("default_queries", snap.DefaultQueries.String()).
		Strs("override_notify", snap.NotifyNames()).
		Strs("override_ignore", snap.IgnoreNames()).
		Msg("settings loaded")
}

func (h *Hub) setLast(key, info string) {
	h.lasts[key] = Last{Key: key, Info: info, At: h.loop.Now()}
}

// Status is a point-in-time summary of the hub.
type Status struct {
	Clients         int      `json:"clients"`
	Lingering       int      `json:"lingering"`
	ListenerOK      bool     `json:"listener_ok"`
	Socket          string   `json:"socket"`
	Windows         int      `json:"windows"`
	DefaultChannels string   `json:"default_channels"`
	DefaultQueries  string   `json:"default_queries"`
	OverrideNotify  []string `json:"override_notify"`
	OverrideIgnore  []string `json:"override_ignore"`
	Lasts           []Last   `json:"lasts"`
}

// Status reports connected clients, listener health and recent activity.
func (h *Hub) Status() Status {
	st := Status{
		Clients:         len(h.sessions),
		Lingering:       len(h.lingering),
		ListenerOK:      h.listener != nil,
		Socket:          h.settings.Socket,
		Windows:         h.windows.Len(),
		DefaultChannels: h.settings.DefaultChannels.String(),
		DefaultQueries:  h.settings.DefaultQueries.String(),
		OverrideNotify:  h.settings.NotifyNames(),
		OverrideIgnore:  h.settings.IgnoreNames(),
		Lasts:           make([]Last, 0, len(h.lasts)),
	}
	if h.listener != nil {
		st.Socket = h.listener.Path()
	}
	for _, l := range h.lasts {
		st.Lasts = append(st.Lasts, l)
	}
	sort.Slice(st.Lasts, func(i, j int) bool { return st.Lasts[i].Key < st.Lasts[j].Key })
	return st
}

// Shutdown drops every session with a notice, closes lingering sockets at
// once and removes the socket file.
func (h *Hub) Shutdown() {
	for _, s := range h.Sessions() {
		s.drop(fault(FaultShutdown, "Server Shutdown", nil))
	}
	for _, s := range h.lingering {
		s.close()
	}
	h.closeListener(true)
}

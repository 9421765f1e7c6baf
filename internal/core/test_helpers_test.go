package core

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/reactor"
	"github.com/vovakirdan/wirestatus/internal/settings"
	"github.com/vovakirdan/wirestatus/internal/transport/unixsock"
)

// fakeConn is a scripted transport. Reads pop queued chunks, then report
// would-block (or EOF once eof is set). Each Write accepts at most the next
// entry of accept bytes; a negative entry means would-block. With no
// entries left every write is taken whole.
type fakeConn struct {
	reads    [][]byte
	eof      bool
	accept   []int
	writeErr error

	written  bytes.Buffer
	chunks   [][]byte
	shutdown bool
	closed   bool
}

func (c *fakeConn) Fd() int      { return -1 }
func (c *fakeConn) Peer() string { return "UNIX Socket" }

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.reads) > 0 {
		n := copy(p, c.reads[0])
		if n < len(c.reads[0]) {
			c.reads[0] = c.reads[0][n:]
		} else {
			c.reads = c.reads[1:]
		}
		return n, nil
	}
	if c.eof {
		return 0, io.EOF
	}
	return 0, unixsock.ErrWouldBlock
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, unixsock.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if len(c.accept) > 0 {
		limit := c.accept[0]
		c.accept = c.accept[1:]
		if limit < 0 {
			return 0, unixsock.ErrWouldBlock
		}
		if limit < n {
			n = limit
		}
	}
	c.written.Write(p[:n])
	c.chunks = append(c.chunks, append([]byte(nil), p[:n]...))
	return n, nil
}

func (c *fakeConn) Shutdown() error {
	c.shutdown = true
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// feed queues data and runs the session's read handler once per chunk.
func (c *fakeConn) feed(s *Session, chunks ...string) {
	for _, chunk := range chunks {
		c.reads = append(c.reads, []byte(chunk))
		s.onReadable(-1, reactor.Readable)
	}
}

type testEnv struct {
	hub     *Hub
	reactor *reactor.Reactor
	clock   *clock.Mock
	start   time.Time
}

func newTestEnv(t testing.TB, limits Limits, snap *settings.Snapshot) *testEnv {
	t.Helper()

	clk := clock.NewMock()
	r, err := reactor.New(clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	if snap == nil {
		snap = settings.New(settings.Notify, settings.Notify, nil, nil, "")
	}
	return &testEnv{
		hub:     NewHub(r, snap, HubOptions{Limits: limits}),
		reactor: r,
		clock:   clk,
		start:   clk.Now(),
	}
}

// advance moves the clock and runs one non-blocking reactor step so due
// timers fire.
func (e *testEnv) advance(t testing.TB, d time.Duration) {
	t.Helper()
	e.clock.Add(d)
	require.NoError(t, e.reactor.Step(0))
}

func (e *testEnv) lastDrop() string {
	return e.hub.lasts["drop"].Info
}

// frameTypes decodes data and returns each frame's type; heartbeats show up as "".
func frameTypes(t testing.TB, data []byte) []string {
	t.Helper()

	var out []string
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		require.Equal(t, byte('\n'), line[len(line)-1], "unterminated frame %q", line)
		if len(line) == 1 {
			out = append(out, "")
			continue
		}
		var dec proto.Decoder
		_, _ = dec.Write(line)
		obj, ok, err := dec.Next()
		require.NoError(t, err)
		require.True(t, ok)
		kind, err := proto.TypeOf(obj)
		require.NoError(t, err)
		out = append(out, kind)
	}
	return out
}

func channel(name string) proto.Window {
	return proto.Window{Kind: proto.WindowChannel, Name: name, Server: "libera"}
}

func query(name string) proto.Window {
	return proto.Window{Kind: proto.WindowQuery, Name: name, Server: "libera"}
}

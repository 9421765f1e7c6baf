package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirestatus/internal/core"
	"github.com/vovakirdan/wirestatus/internal/metrics"
	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/reactor"
	"github.com/vovakirdan/wirestatus/internal/settings"
	"github.com/vovakirdan/wirestatus/internal/transport/unixsock"
)

// inlinePoster runs posted work immediately on the calling goroutine.
type inlinePoster struct{}

func (inlinePoster) Post(fn func()) { fn() }

// deadPoster drops posted work, like a closed reactor.
type deadPoster struct{}

func (deadPoster) Post(func()) {}

type testServer struct {
	reactor *reactor.Reactor
	hub     *core.Hub
	handler http.Handler
	peer    *unixsock.Conn
	reloads int
}

func newTestServer(t *testing.T, reloadErr error) *testServer {
	t.Helper()

	r, err := reactor.New(clock.NewMock(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	reg := prometheus.NewRegistry()
	snap := settings.New(settings.Ignore, settings.Notify, []string{"#go"}, nil, "")
	hub := core.NewHub(r, snap, core.HubOptions{Metrics: metrics.New(reg)})

	server, client, err := unixsock.Pair()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	hub.Attach(server)

	ts := &testServer{reactor: r, hub: hub, peer: client}
	reload := func() error {
		ts.reloads++
		return reloadErr
	}
	ts.handler = NewRouter(NewAdminHandlers(inlinePoster{}, hub, reload, nil), reg, nil)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) received(t *testing.T) string {
	t.Helper()

	buf := make([]byte, 4096)
	n, err := ts.peer.Read(buf)
	if errors.Is(err, unixsock.ErrWouldBlock) {
		return ""
	}
	require.NoError(t, err)
	return string(buf[:n])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestSetWindowLevelBroadcasts(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/v1/windows", `{"wtype":"channel","name":"#go","server":"libera","level":2}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"passed":true}`, resp.Body.String())
	assert.Equal(t, `{"type":"window_level","wtype":"channel","channel":"#go","server":"libera","level":2}`+"\n", ts.received(t))

	resp = ts.do(t, http.MethodPost, "/v1/windows", `{"wtype":"channel","name":"#rust","server":"libera","level":3}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"passed":false}`, resp.Body.String())
	assert.Empty(t, ts.received(t))

	level, ok := ts.hub.Windows().Level(proto.Window{Kind: proto.WindowChannel, Name: "#rust", Server: "libera"})
	assert.True(t, ok)
	assert.Equal(t, 3, level)
}

func TestDestroyWindow(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/windows", `{"wtype":"query","name":"alice","server":"libera","level":3}`)
	ts.received(t)

	resp := ts.do(t, http.MethodDelete, "/v1/windows", `{"wtype":"query","name":"alice","server":"libera"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `{"type":"window_level","wtype":"query","nick":"alice","server":"libera","level":0}`+"\n", ts.received(t))
	assert.Zero(t, ts.hub.Windows().Len())
}

func TestPostMessageNeedsSubscription(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/v1/messages", `{"wtype":"query","name":"alice","server":"libera","message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"passed":true}`, resp.Body.String())
	assert.Empty(t, ts.received(t))

	s := ts.hub.Sessions()[0]
	_, err := ts.peer.Write(proto.Encode(proto.Settings{SendMessages: true}))
	require.NoError(t, err)
	for i := 0; i < 100 && !s.WantsMessages(); i++ {
		require.NoError(t, ts.reactor.Step(10*time.Millisecond))
	}
	require.True(t, s.WantsMessages())

	resp = ts.do(t, http.MethodPost, "/v1/messages", `{"wtype":"channel","name":"#go","server":"libera","nick":"bob","message":"alice: hey"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `{"type":"message","wtype":"channel","channel":"#go","nick":"bob","server":"libera","message":"alice: hey"}`+"\n", ts.received(t))
}

func TestIngestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/v1/windows", `{"wtype":"dcc","name":"x","level":1}`},
		{http.MethodPost, "/v1/windows", `{"wtype":"query","name":"x"}`},
		{http.MethodPost, "/v1/windows", `{"wtype":"query","name":"x","level":-1}`},
		{http.MethodPost, "/v1/windows", `not json`},
		{http.MethodDelete, "/v1/windows", `{"wtype":"query"}`},
		{http.MethodPost, "/v1/messages", `{"wtype":"channel","name":"#go","message":"no nick"}`},
	}
	for _, tc := range cases {
		resp := ts.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.Code, "%s %s %s", tc.method, tc.path, tc.body)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Error)
		assert.Equal(t, core.ErrCodeBadRequest, body.Code)
	}
}

func TestIngestRejectsOversizedFields(t *testing.T) {
	ts := newTestServer(t, nil)
	long := strings.Repeat("n", 300)

	cases := []struct {
		path, body string
	}{
		{"/v1/windows", `{"wtype":"query","name":"` + long + `","server":"libera","level":1}`},
		{"/v1/windows", `{"wtype":"query","name":"alice","server":"` + long + `","level":1}`},
		{"/v1/messages", `{"wtype":"channel","name":"#go","nick":"` + long + `","message":"hi"}`},
		{"/v1/messages", `{"wtype":"query","name":"alice","message":"` + strings.Repeat("m", 5000) + `"}`},
		// Within the field limits, but escaping pushes the frame past the buffer limit.
		{"/v1/messages", `{"wtype":"query","name":"alice","server":"libera","message":"` + strings.Repeat(`\u0001`, 4000) + `"}`},
	}
	for _, tc := range cases {
		resp := ts.do(t, http.MethodPost, tc.path, tc.body)
		require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, core.ErrCodeBadRequest, body.Code)
	}

	assert.Zero(t, ts.hub.Windows().Len())
	assert.Empty(t, ts.received(t))
	assert.Equal(t, core.StateActive, ts.hub.Sessions()[0].State())
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Clients)
	assert.False(t, st.ListenerOK)
	assert.Equal(t, "ignore", st.DefaultChannels)
	assert.Equal(t, []string{"#go"}, st.OverrideNotify)
	assert.NotZero(t, st.Process.PID)
}

func TestStatusWithStalledLoop(t *testing.T) {
	ts := newTestServer(t, nil)
	h := NewAdminHandlers(deadPoster{}, ts.hub, nil, nil)
	h.callTimeout = 20 * time.Millisecond

	resp := httptest.NewRecorder()
	NewRouter(h, nil, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), core.ErrCodeUnavailable)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ts.reloads)

	failing := newTestServer(t, errors.New("bad yaml"))
	resp = failing.do(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "bad yaml")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/windows", `{"wtype":"query","name":"alice","server":"libera","level":1}`)

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.True(t, strings.Contains(body, "wirestatus_sessions_active 1"), body)
	assert.Contains(t, body, `wirestatus_events_broadcast_total{type="window_level"} 1`)
}

package app

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirestatus/internal/config"
	"github.com/vovakirdan/wirestatus/internal/core"
	"github.com/vovakirdan/wirestatus/internal/log"
	"github.com/vovakirdan/wirestatus/internal/proto"
	"github.com/vovakirdan/wirestatus/internal/settings"
)

func newTestApp(t *testing.T) (*App, config.Config, string) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := config.Default()
	cfg.Socket = filepath.Join(dir, "rstatus_sock")
	cfg.ShutdownTimeout = time.Second
	require.NoError(t, os.WriteFile(cfgPath, []byte("socket: "+cfg.Socket+"\n"), 0o600))

	a, err := New(cfg, cfgPath, log.Nop())
	require.NoError(t, err)
	return a, cfg, cfgPath
}

// onLoop runs fn on the event loop and waits for it.
func onLoop(t *testing.T, a *App, fn func(hub *core.Hub)) {
	t.Helper()
	done := make(chan struct{})
	a.Post(func(hub *core.Hub) {
		fn(hub)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not run posted work")
	}
}

func TestRunServesClientsAndShutsDown(t *testing.T) {
	a, cfg, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	onLoop(t, a, func(hub *core.Hub) {
		_, err := hub.WindowLevel(proto.Window{Kind: proto.WindowQuery, Name: "alice", Server: "libera"}, 3)
		assert.NoError(t, err)
	})

	conn, err := net.Dial("unix", cfg.Socket)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"nick":"alice"`)

	_, err = conn.Write(proto.Encode(proto.ResetRequest{}))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"type":"reset"}`+"\n", line)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"type":"disconnect_notice"}`+"\n", line)

	_, err = os.Stat(cfg.Socket)
	assert.True(t, os.IsNotExist(err))
}

func TestReloadInstallsNewSettings(t *testing.T) {
	a, cfg, cfgPath := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	body := "socket: " + cfg.Socket + "\ndefault_queries: ignore\noverride_notify: Alice\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	require.NoError(t, a.Reload())

	var snap *settings.Snapshot
	onLoop(t, a, func(hub *core.Hub) { snap = hub.Settings() })
	assert.Equal(t, settings.Ignore, snap.DefaultQueries)
	assert.True(t, snap.NotifyOverride("alice"))
}

func TestReloadWithoutConfigFile(t *testing.T) {
	cfg := config.Default()
	cfg.Socket = filepath.Join(t.TempDir(), "sock")
	a, err := New(cfg, "", log.Nop())
	require.NoError(t, err)
	defer a.hub.Shutdown()
	defer a.reactor.Close()

	assert.Error(t, a.Reload())
}

func TestNewFailsWhenSocketCannotBind(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "child"), 0o755))

	cfg := config.Default()
	cfg.Socket = blocker
	_, err := New(cfg, "", log.Nop())
	assert.Error(t, err)
}

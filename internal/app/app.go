package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/config"
	"github.com/vovakirdan/wirestatus/internal/core"
	"github.com/vovakirdan/wirestatus/internal/metrics"
	"github.com/vovakirdan/wirestatus/internal/reactor"
	"github.com/vovakirdan/wirestatus/internal/settings"
	transporthttp "github.com/vovakirdan/wirestatus/internal/transport/http"
)

// App wires together the reactor, the hub and the optional admin server.
type App struct {
	reactor         *reactor.Reactor
	hub             *core.Hub
	server          *stdhttp.Server
	registry        *prometheus.Registry
	configPath      string
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application and binds the client socket. configPath
// may be empty, in which case reloads are unavailable.
func New(cfg config.Config, configPath string, logger *zerolog.Logger) (*App, error) {
	r, err := reactor.New(clock.New(), logger)
	if err != nil {
		return nil, fmt.Errorf("init reactor: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	snap := settings.FromConfig(cfg, logger)
	hub := core.NewHub(r, snap, core.HubOptions{
		Limits:  core.LimitsFromConfig(cfg),
		Logger:  logger,
		Metrics: metrics.New(registry),
	})
	if err := hub.Listen(snap.Socket); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	a := &App{
		reactor:         r,
		hub:             hub,
		registry:        registry,
		configPath:      configPath,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.AdminAddr != "" {
		handlers := transporthttp.NewAdminHandlers(r, hub, a.Reload, logger)
		a.server = transporthttp.NewServer(cfg.AdminAddr, handlers, registry, logger)
	}

	return a, nil
}

// Reload re-reads the config file and installs the rebuilt settings on the
// event loop.
func (a *App) Reload() error {
	if a.configPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := config.Reload(a.configPath)
	if err != nil {
		return err
	}
	snap := settings.FromConfig(cfg, a.log)
	a.reactor.Post(func() { a.hub.LoadSettings(snap) })
	return nil
}

// Post runs fn on the event loop.
func (a *App) Post(fn func(hub *core.Hub)) {
	a.reactor.Post(func() { fn(a.hub) })
}

// Run drives the event loop and the admin server until ctx is cancelled or
// either of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	watcher := a.watchConfig()
	stopSignals := a.reloadOnSIGHUP()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.reactor.Run(loopCtx)
	}()

	serverErr := make(chan error, 1)
	if a.server != nil {
		a.log.Info().Str("addr", a.server.Addr).Msg("admin http listening")
		go func() {
			if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	var runErr error
	loopDone := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("admin http: %w", err)
	case err := <-loopErr:
		runErr = err
		loopDone = true
	}

	a.log.Info().Msg("shutting down")
	stopSignals()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close config watcher")
		}
	}

	// The admin server goes first so in-flight requests can still reach the loop.
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
		cancel()
	}

	stopLoop()
	if !loopDone {
		if err := <-loopErr; err != nil && runErr == nil {
			runErr = err
		}
	}

	// The loop goroutine has exited; the hub is ours now.
	a.hub.Shutdown()
	if err := a.reactor.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close reactor")
	}
	return runErr
}

func (a *App) watchConfig() *config.Watcher {
	if a.configPath == "" {
		return nil
	}
	w, err := config.Watch(a.log, a.configPath, func(string) {
		if err := a.Reload(); err != nil {
			a.log.Warn().Err(err).Msg("config reload failed")
		}
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("config watcher unavailable")
		return nil
	}
	return w
}

func (a *App) reloadOnSIGHUP() func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-hup:
				a.log.Info().Msg("SIGHUP, reloading settings")
				if err := a.Reload(); err != nil {
					a.log.Warn().Err(err).Msg("config reload failed")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(hup)
		close(done)
	}
}

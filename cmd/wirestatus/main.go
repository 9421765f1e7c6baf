package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirestatus/internal/config"
	"github.com/vovakirdan/wirestatus/internal/log"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	socket     string
	logLevel   string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "wirestatus",
		Short: "Window activity status over a local Unix socket",
		Long: `wirestatus publishes chat window activity levels and mentions to
subscribers connected to a local Unix socket, using newline-delimited JSON.

Run "wirestatus serve" for the daemon, and "wirestatus client",
"wirestatus notify" or "wirestatus relay" to consume it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.wirestatus/config.yaml)")
	pf.StringVar(&flags.socket, "socket", "", "status socket path (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		serveCmd(&flags),
		clientCmd(&flags),
		relayCmd(&flags),
		notifyCmd(&flags),
		statusCmd(&flags),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file, applies flag overrides and builds the logger.
func loadConfig(flags *globalFlags) (config.Config, string, *zerolog.Logger, error) {
	bootLevel := flags.logLevel
	if bootLevel == "" {
		bootLevel = "info"
	}
	logger := log.New(bootLevel, os.Stderr)

	cfg, path, err := config.Load(logger, flags.configPath)
	if err != nil {
		return cfg, path, logger, err
	}
	cfg.UpdateFrom(config.Config{Socket: flags.socket, LogLevel: flags.logLevel})

	return cfg, path, log.New(cfg.LogLevel, os.Stderr), nil
}

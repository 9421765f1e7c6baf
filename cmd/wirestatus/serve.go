package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirestatus/internal/app"
	"github.com/vovakirdan/wirestatus/internal/config"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status server",
		Long: `Listen on the status socket and publish window levels to every
connected client. Settings reload on config file changes and on SIGHUP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{AdminAddr: adminAddr})

			application, err := app.New(cfg, path, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("version", version).Str("socket", cfg.SocketPath()).Msg("starting wirestatus")
			if err := application.Run(cmd.Context()); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address (overrides config)")

	return cmd
}

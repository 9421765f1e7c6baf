package main

import (
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirestatus/internal/client"
	"github.com/vovakirdan/wirestatus/internal/notify"
	"github.com/vovakirdan/wirestatus/internal/proto"
)

func notifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Headless notifier",
		Long: `Subscribe to the status socket, print a level badge whenever the overall
attention level changes and render merged message notifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}

			conn, err := client.Dial(cmd.Context(), cfg.SocketPath(), client.Options{
				Heartbeat: cfg.HeartbeatInterval,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			n := notify.NewNotifier(clock.New(), cmd.OutOrStdout(), logger)
			if err := conn.Send(proto.Settings{SendMessages: true}); err != nil {
				return err
			}

			err = conn.Run(cmd.Context(), n.Handle)
			if err != nil {
				logger.Error().Err(err).Msg("notifier stopped")
			}
			return err
		},
	}
}

package main

import (
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirestatus/internal/client"
)

func relayCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Relay stdin/stdout to the status socket",
		Long: `Copy stdin to the status socket and the socket to stdout, so a remote
consumer can reach the socket over ssh. Exits when either side closes or
the socket stays idle past the heartbeat interval plus leeway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}

			var d net.Dialer
			nc, err := d.DialContext(cmd.Context(), "unix", cfg.SocketPath())
			if err != nil {
				return err
			}
			defer nc.Close()

			err = client.Relay(cmd.Context(), nc, os.Stdin, os.Stdout, client.RelayOptions{
				Idle:         cfg.HeartbeatInterval + client.DefaultLeeway,
				WriteTimeout: cfg.TxRxTimeout,
			})
			if err != nil {
				logger.Debug().Err(err).Msg("relay stopped")
			}
			return err
		},
	}
}

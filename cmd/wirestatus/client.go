package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirestatus/internal/client"
	"github.com/vovakirdan/wirestatus/internal/proto"
)

func clientCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Interactive debugging client",
		Long: `Connect to the status socket, subscribe to messages and print every
frame received. Commands on stdin: "reset" requests a fresh snapshot,
"msgs" toggles the message subscription.`,
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

			if err := conn.Send(proto.Settings{SendMessages: true}); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				defer cancel()
				readCommands(os.Stdin, os.Stderr, conn, logger)
			}()

			out := cmd.OutOrStdout()
			return conn.Run(ctx, func(m proto.Message) error {
				_, err := out.Write(proto.Encode(m))
				return err
			})
		},
	}
}

// readCommands turns stdin lines into client frames until in is exhausted.
func readCommands(in io.Reader, help io.Writer, conn *client.Conn, logger *zerolog.Logger) {
	messages := true
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var m proto.Message
		switch strings.TrimSpace(scanner.Text()) {
		case "reset":
			m = proto.ResetRequest{}
		case "msgs":
			messages = !messages
			m = proto.Settings{SendMessages: messages}
		default:
			fmt.Fprintln(help, "Commands: reset, msgs")
			continue
		}
		if err := conn.Send(m); err != nil {
			logger.Error().Err(err).Msg("send failed")
			return
		}
	}
}

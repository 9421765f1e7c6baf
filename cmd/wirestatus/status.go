package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status from the admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.AdminAddr
			}
			if addr == "" {
				return fmt.Errorf("admin_addr is not configured; pass --addr")
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "http://"+addr+"/v1/status", nil)
			if err != nil {
				return err
			}
			httpClient := &http.Client{Timeout: 10 * time.Second}
			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status: %s: %s", resp.Status, bytes.TrimSpace(body))
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				return err
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "admin HTTP address (default from config)")

	return cmd
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vovakirdan/wirestatus/internal/client"
	"github.com/vovakirdan/wirestatus/internal/config"
	"github.com/vovakirdan/wirestatus/internal/proto"
)

var errDone = errors.New("done")

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	socket := flag.String("socket", "~/.wirestatus/rstatus_sock", "status socket path")
	admin := flag.String("admin", "", "admin HTTP address; when set, a window level is injected and expected back")
	nick := flag.String("nick", "smoke", "query nick used for the injected window")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := client.Dial(ctx, config.ExpandHome(*socket), client.Options{})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(proto.Settings{SendMessages: true}); err != nil {
		return fmt.Errorf("send settings: %w", err)
	}
	if err := conn.Send(proto.ResetRequest{}); err != nil {
		return fmt.Errorf("send reset_request: %w", err)
	}

	if *admin != "" {
		body := fmt.Sprintf(`{"wtype":"query","name":%q,"server":"smoke","level":3}`, *nick)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+*admin+"/v1/windows", strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("inject window: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("inject window: %s", resp.Status)
		}
	}

	sawReset := false
	err = conn.Run(ctx, func(m proto.Message) error {
		fmt.Printf("Received: %s", proto.Encode(m))

		switch v := m.(type) {
		case proto.Reset:
			sawReset = true
			if *admin == "" {
				return errDone
			}
		case proto.EventWindowLevel:
			if sawReset && v.Window.Name == *nick && v.Level == 3 {
				return errDone
			}
		case proto.DisconnectNotice:
			return errors.New("server sent a disconnect notice")
		}
		return nil
	})
	if errors.Is(err, errDone) {
		fmt.Println("smoke: ok")
		return nil
	}
	return err
}

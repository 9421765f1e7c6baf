package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// ErrIdleTimeout reports that the socket stayed silent longer than the relay's idle limit.
var ErrIdleTimeout = errors.New("relay idle timeout")

// RelayOptions bounds how long the relay waits on the socket.
type RelayOptions struct {
	// Idle is the longest the socket may stay silent.
	Idle time.Duration
	// WriteTimeout bounds each write to the socket.
	WriteTimeout time.Duration
}

// Relay copies in to nc and nc to out until either direction stops. A clean
// end of in or of the socket returns nil. The goroutine reading in may
// outlive the call until its next read returns.
func Relay(ctx context.Context, nc net.Conn, in io.Reader, out io.Writer, opts RelayOptions) error {
	if opts.Idle <= 0 {
		opts.Idle = DefaultHeartbeat + DefaultLeeway
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Now())
	})
	defer stop()

	errc := make(chan error, 2)

	go func() {
		buf := make([]byte, 1024)
		for {
			if err := nc.SetReadDeadline(time.Now().Add(opts.Idle)); err != nil {
				errc <- err
				return
			}
			n, err := nc.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					errc <- fmt.Errorf("write output: %w", werr)
					return
				}
			}
			if err != nil {
				errc <- relayErr(err)
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if derr := nc.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)); derr != nil {
					errc <- derr
					return
				}
				if _, werr := nc.Write(buf[:n]); werr != nil {
					errc <- fmt.Errorf("write socket: %w", werr)
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					errc <- nil
				} else {
					errc <- fmt.Errorf("read input: %w", err)
				}
				return
			}
		}
	}()

	select {
	case err := <-errc:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func relayErr(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrIdleTimeout
	default:
		return fmt.Errorf("read socket: %w", err)
	}
}

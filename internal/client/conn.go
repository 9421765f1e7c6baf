// Package client implements the consumer side of the status socket: a
// blocking connection that heartbeats and decodes frames, and a byte relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/proto"
)

const (
	// DefaultHeartbeat matches the server's heartbeat interval.
	DefaultHeartbeat = 10 * time.Minute
	// DefaultLeeway is subtracted from the heartbeat when sending and added
	// to it when waiting for the server.
	DefaultLeeway = time.Minute
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = time.Minute
)

var (
	// ErrHeartbeatTimeout reports that the server stayed silent past heartbeat+leeway.
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
	// ErrDisconnected reports that the server closed the connection.
	ErrDisconnected = errors.New("server closed the connection")
)

// Options tunes a Conn. Zero values select the defaults.
type Options struct {
	Heartbeat    time.Duration
	Leeway       time.Duration
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.Leeway <= 0 || o.Leeway >= o.Heartbeat {
		o.Leeway = DefaultLeeway
		if o.Leeway >= o.Heartbeat {
			o.Leeway = o.Heartbeat / 2
		}
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Conn is a client connection to the status socket.
type Conn struct {
	nc   net.Conn
	opts Options
	log  *zerolog.Logger

	wmu sync.Mutex
}

// Dial connects to the status socket at path.
func Dial(ctx context.Context, path string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(nc, opts), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{nc: nc, opts: opts, log: opts.Logger}
}

// Send writes one framed message.
func (c *Conn) Send(m proto.Message) error {
	c.log.Debug().Str("type", m.Type()).Msg("sending frame")
	return c.write(proto.Encode(m))
}

// Heartbeat writes an empty keepalive frame.
func (c *Conn) Heartbeat() error {
	return c.write(proto.Heartbeat)
}

func (c *Conn) write(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.nc.Write(p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Run reads frames and passes each parsed message to handle until ctx is
// done, the server goes away, or handle returns an error. It also sends a
// heartbeat every heartbeat-leeway.
func (c *Conn) Run(ctx context.Context, handle func(proto.Message) error) error {
	ctx, cancel := context.WithCancel(ctx)

	ticker := c.opts.Clock.Ticker(c.opts.Heartbeat - c.opts.Leeway)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Heartbeat(); err != nil {
					c.log.Warn().Err(err).Msg("heartbeat failed")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-hbDone
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetReadDeadline(time.Now())
	})
	defer stop()

	var dec proto.Decoder
	buf := make([]byte, 1024)
	for {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.Heartbeat + c.opts.Leeway)); err != nil {
			return err
		}
		// A cancellation that raced the deadline above must still end the read.
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.nc.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])
			if herr := c.drain(&dec, handle); herr != nil {
				return herr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classify(err)
		}
	}
}

func (c *Conn) drain(dec *proto.Decoder, handle func(proto.Message) error) error {
	for {
		obj, ok, err := dec.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		m, err := proto.Parse(obj)
		if err != nil {
			return fmt.Errorf("%w: %v", proto.ErrFraming, err)
		}
		if err := handle(m); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

func classify(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrDisconnected
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrHeartbeatTimeout
	}
	return err
}

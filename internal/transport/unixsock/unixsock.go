// Package unixsock provides non-blocking AF_UNIX stream sockets as raw
// descriptors, so they can be driven by the reactor instead of the Go netpoller.
package unixsock

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that the operation could not proceed without blocking.
var ErrWouldBlock = errors.New("operation would block")

// ErrClosed is returned by operations on a closed socket.
var ErrClosed = errors.New("socket closed")

// DefaultBacklog is the listen queue length.
const DefaultBacklog = 5

// Listener is a bound, listening AF_UNIX stream socket.
type Listener struct {
	fd   int
	path string
}

// RemoveStale deletes a leftover socket file at path. A missing file is fine.
func RemoveStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// Listen removes any stale file at path, then binds and listens there.
func Listen(path string, backlog int) (*Listener, error) {
	if err := RemoveStale(path); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Listener{fd: fd, path: path}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Path returns the filesystem path the listener is bound to.
func (l *Listener) Path() string { return l.path }

// Accept takes one pending connection. It returns ErrWouldBlock when none is queued.
func (l *Listener) Accept() (*Conn, error) {
	if l.fd < 0 {
		return nil, ErrClosed
	}
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return NewConn(nfd, peerName(sa)), nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, ErrWouldBlock
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
}

// Close closes the listening descriptor. The socket file is left in place.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Remove unlinks the socket file.
func (l *Listener) Remove() error {
	return RemoveStale(l.path)
}

func peerName(sa unix.Sockaddr) string {
	// Unnamed peers come back as "" or, from the abstract-namespace rewrite, "@".
	if su, ok := sa.(*unix.SockaddrUnix); ok && su.Name != "" && su.Name != "@" {
		return su.Name
	}
	return "UNIX Socket"
}

// Conn is one non-blocking connected stream socket.
type Conn struct {
	fd   int
	peer string
}

// NewConn wraps an already connected, non-blocking descriptor.
func NewConn(fd int, peer string) *Conn {
	return &Conn{fd: fd, peer: peer}
}

// Pair returns two connected non-blocking sockets.
func Pair() (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return NewConn(fds[0], "UNIX Socket"), NewConn(fds[1], "UNIX Socket"), nil
}

// Fd returns the connection descriptor, or -1 once closed.
func (c *Conn) Fd() int { return c.fd }

// Peer describes the remote end.
func (c *Conn) Peer() string { return c.peer }

// Read reads whatever is available. An orderly peer shutdown yields io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

// Write writes as much of p as the socket accepts without blocking.
// MSG_NOSIGNAL keeps a vanished peer from raising SIGPIPE.
func (c *Conn) Write(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.SendmsgN(c.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("write: %w", err)
		}
	}
}

// Shutdown stops both directions. A peer that already went away is not an error.
func (c *Conn) Shutdown() error {
	if c.fd < 0 {
		return nil
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the descriptor. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

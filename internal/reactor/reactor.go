// Package reactor runs a single-goroutine readiness loop over raw descriptors.
//
// One Step blocks in poll(2) for at most the time until the nearest timer,
// dispatches every ready watch in registration order and then fires expired
// timers. Watches and timers are only touched from the loop goroutine; Post is
// the one entry point safe to call from elsewhere.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/vovakirdan/wirestatus/internal/timer"
)

// Cond is a set of readiness conditions.
type Cond uint8

const (
	Readable Cond = 1 << iota
	Writable
	Error
	Hangup
)

func (c Cond) String() string {
	s := ""
	for _, p := range []struct {
		bit  Cond
		name string
	}{{Readable, "in"}, {Writable, "out"}, {Error, "err"}, {Hangup, "hup"}} {
		if c&p.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Handler is called with the subset of the watch's conditions that are ready.
type Handler func(fd int, cond Cond)

// WatchID identifies a registration. The zero value is never issued.
type WatchID uint64

type watch struct {
	id   WatchID
	fd   int
	cond Cond
	fn   Handler
	dead bool
}

// Reactor owns the poll loop, the watch table and the timer wheel.
type Reactor struct {
	log    *zerolog.Logger
	timers *timer.Wheel

	watches []*watch
	byID    map[WatchID]*watch
	nextID  WatchID

	mu     sync.Mutex
	posted []func()
	wakeR  int
	wakeW  int
	closed bool
}

// New creates a reactor with its wake pipe.
func New(clk clock.Clock, logger *zerolog.Logger) (*Reactor, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reactor{
		log:    logger,
		timers: timer.New(clk),
		byID:   make(map[WatchID]*watch),
		wakeR:  p[0],
		wakeW:  p[1],
	}, nil
}

// Close releases the wake pipe. Registered descriptors are left to their owners.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(unix.Close(r.wakeR), unix.Close(r.wakeW))
}

// Now returns the reactor clock's current time.
func (r *Reactor) Now() time.Time {
	return r.timers.Now()
}

// Watch registers fn for cond on fd. Several watches may share one fd.
func (r *Reactor) Watch(fd int, cond Cond, fn Handler) WatchID {
	r.nextID++
	w := &watch{id: r.nextID, fd: fd, cond: cond, fn: fn}
	r.watches = append(r.watches, w)
	r.byID[w.id] = w
	return w.id
}

// Unwatch removes a registration. Unknown or already removed IDs are ignored.
func (r *Reactor) Unwatch(id WatchID) {
	w, ok := r.byID[id]
	if !ok {
		return
	}
	w.dead = true
	delete(r.byID, id)
	for i, cur := range r.watches {
		if cur == w {
			r.watches = append(r.watches[:i], r.watches[i+1:]...)
			break
		}
	}
}

// Watches returns the number of live registrations.
func (r *Reactor) Watches() int {
	return len(r.watches)
}

// SetTimer installs or replaces the timer (key, name).
func (r *Reactor) SetTimer(key, name string, d time.Duration, fn func()) {
	r.timers.Set(key, name, d, fn)
}

// CancelTimers removes every timer under key.
func (r *Reactor) CancelTimers(key string) {
	r.timers.CancelAll(key)
}

// NextDeadline returns the earliest deadline among key's timers.
func (r *Reactor) NextDeadline(key string) (time.Time, bool) {
	return r.timers.NextDeadline(key)
}

// PendingTimer returns the deadline of (key, name).
func (r *Reactor) PendingTimer(key, name string) (time.Time, bool) {
	return r.timers.Pending(key, name)
}

// Post queues fn to run on the loop goroutine and wakes the loop.
// It is safe for concurrent use.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.posted = append(r.posted, fn)
	r.mu.Unlock()
	r.wake()
}

func (r *Reactor) wake() {
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(r.wakeW, []byte{0})
}

// Run steps the loop until ctx is done.
func (r *Reactor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.wake)
	defer stop()

	for ctx.Err() == nil {
		if err := r.Step(-1); err != nil {
			return err
		}
	}
	return nil
}

// Step runs posted work, polls once for at most maxWait (negative means until
// the next timer, or forever when none is pending), dispatches ready watches
// and fires expired timers.
func (r *Reactor) Step(maxWait time.Duration) error {
	r.runPosted()

	fds, owners := r.pollSet()
	n, err := unix.Poll(fds, r.pollTimeout(maxWait))
	if err != nil && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("poll: %w", err)
	}

	if n > 0 {
		if fds[0].Revents != 0 {
			r.drainWake()
		}
		for i := 1; i < len(fds); i++ {
			if fds[i].Revents == 0 {
				continue
			}
			ready := condFromRevents(fds[i].Revents)
			for _, w := range owners[i] {
				if w.dead {
					continue
				}
				if c := w.cond & ready; c != 0 {
					w.fn(w.fd, c)
				}
			}
		}
	}

	r.timers.Fire()
	return nil
}

func (r *Reactor) runPosted() {
	r.mu.Lock()
	work := r.posted
	r.posted = nil
	r.mu.Unlock()

	for _, fn := range work {
		if fn != nil {
			fn()
		}
	}
}

// pollSet builds the pollfd slice. Index 0 is always the wake pipe; every
// other index groups the live watches of one descriptor in registration order.
func (r *Reactor) pollSet() ([]unix.PollFd, [][]*watch) {
	fds := []unix.PollFd{{Fd: int32(r.wakeR), Events: unix.POLLIN}}
	owners := [][]*watch{nil}
	index := make(map[int]int, len(r.watches))

	for _, w := range r.watches {
		i, ok := index[w.fd]
		if !ok {
			i = len(fds)
			index[w.fd] = i
			fds = append(fds, unix.PollFd{Fd: int32(w.fd)})
			owners = append(owners, nil)
		}
		fds[i].Events |= eventsFromCond(w.cond)
		owners[i] = append(owners[i], w)
	}
	return fds, owners
}

func (r *Reactor) pollTimeout(maxWait time.Duration) int {
	r.mu.Lock()
	pending := len(r.posted) > 0
	r.mu.Unlock()
	if pending {
		return 0
	}

	wait := maxWait
	if next, ok := r.timers.Next(); ok {
		d := next.Sub(r.timers.Now())
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return -1
	}

	// Round up so a sub-millisecond deadline does not spin.
	ms := (wait + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

func (r *Reactor) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func eventsFromCond(c Cond) int16 {
	var ev int16
	if c&Readable != 0 {
		ev |= unix.POLLIN
	}
	if c&Writable != 0 {
		ev |= unix.POLLOUT
	}
	// POLLERR and POLLHUP are always reported; asking for them is harmless.
	if c&Error != 0 {
		ev |= unix.POLLERR
	}
	if c&Hangup != 0 {
		ev |= unix.POLLHUP
	}
	return ev
}

func condFromRevents(ev int16) Cond {
	var c Cond
	if ev&unix.POLLIN != 0 {
		c |= Readable
	}
	if ev&unix.POLLOUT != 0 {
		c |= Writable
	}
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		c |= Error
	}
	if ev&unix.POLLHUP != 0 {
		c |= Hangup
	}
	return c
}

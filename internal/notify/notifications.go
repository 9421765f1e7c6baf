package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirestatus/internal/proto"
)

const (
	// MaxLines is how many message lines a notification keeps.
	MaxLines = 5
	// PruneAfter is how long a notification lives after its last update.
	PruneAfter = 20 * time.Second
)

// Key identifies a notification. Channel messages are keyed per sender, so
// Nick is empty for queries where Name already is the sender.
type Key struct {
	Server string
	Kind   proto.WindowKind
	Name   string
	Nick   string
}

// Notification is a merged view of recent messages from one source.
type Notification struct {
	Key     Key
	Title   string
	Lines   []string
	Updated time.Time
}

// Body joins the kept lines.
func (n Notification) Body() string {
	return strings.Join(n.Lines, "\n")
}

type entry struct {
	n     Notification
	timer *clock.Timer
}

// Notifications merges message events into per-source notifications and
// prunes each one PruneAfter its last update. It is safe for concurrent use.
type Notifications struct {
	clock clock.Clock

	mu    sync.Mutex
	items map[Key]*entry
}

// NewNotifications creates an empty set driven by clk.
func NewNotifications(clk clock.Clock) *Notifications {
	if clk == nil {
		clk = clock.New()
	}
	return &Notifications{clock: clk, items: make(map[Key]*entry)}
}

// KeyOf returns the key and title for a message event.
func KeyOf(ev proto.EventMessage) (Key, string) {
	w := ev.Window
	if w.Kind == proto.WindowQuery {
		return Key{Server: w.Server, Kind: w.Kind, Name: w.Name}, fmt.Sprintf("%s (%s)", w.Name, w.Server)
	}
	return Key{Server: w.Server, Kind: w.Kind, Name: w.Name, Nick: ev.Nick},
		fmt.Sprintf("%s in %s (%s)", ev.Nick, w.Name, w.Server)
}

// Add merges ev into its notification, creating it if needed, and returns
// the updated notification.
func (ns *Notifications) Add(ev proto.EventMessage) Notification {
	key, title := KeyOf(ev)
	now := ns.clock.Now()

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.items[key]
	if ok {
		e.timer.Stop()
	} else {
		e = &entry{n: Notification{Key: key, Title: title}}
		ns.items[key] = e
	}

	e.n.Lines = append(e.n.Lines, ev.Text)
	if len(e.n.Lines) > MaxLines {
		e.n.Lines = append([]string(nil), e.n.Lines[len(e.n.Lines)-MaxLines:]...)
	}
	e.n.Updated = now

	cur := e
	e.timer = ns.clock.AfterFunc(PruneAfter, func() { ns.prune(key, cur) })

	return e.n.copy()
}

func (ns *Notifications) prune(key Key, e *entry) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	// A timer stopped too late may still fire; only prune if not refreshed since.
	if cur, ok := ns.items[key]; ok && cur == e && !ns.clock.Now().Before(e.n.Updated.Add(PruneAfter)) {
		delete(ns.items, key)
	}
}

// Get returns the live notification for key.
func (ns *Notifications) Get(key Key) (Notification, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	e, ok := ns.items[key]
	if !ok {
		return Notification{}, false
	}
	return e.n.copy(), true
}

// Len is the number of live notifications.
func (ns *Notifications) Len() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.items)
}

func (n Notification) copy() Notification {
	n.Lines = append([]string(nil), n.Lines...)
	return n
}

package notify

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirestatus/internal/proto"
)

func query(nick string) proto.Window {
	return proto.Window{Kind: proto.WindowQuery, Name: nick, Server: "libera"}
}

func channel(name string) proto.Window {
	return proto.Window{Kind: proto.WindowChannel, Name: name, Server: "libera"}
}

func TestStateLevels(t *testing.T) {
	s := NewState()
	assert.Equal(t, "none", s.LevelName())

	require.NoError(t, s.Handle(proto.EventWindowLevel{Window: channel("#go"), Level: 2}))
	require.NoError(t, s.Handle(proto.EventWindowLevel{Window: query("alice"), Level: 3}))
	assert.Equal(t, 3, s.MaxLevel())
	assert.Equal(t, "hilight", s.LevelName())
	assert.Equal(t, []proto.Window{query("alice"), channel("#go")}, s.Windows())

	require.NoError(t, s.Handle(proto.EventWindowLevel{Window: query("alice"), Level: 0}))
	assert.Equal(t, 0, s.Level(query("alice")))
	assert.Equal(t, "message", s.LevelName())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Handle(proto.Reset{}))
	assert.Zero(t, s.Len())
	assert.Equal(t, 0, s.MaxLevel())
}

func TestStateErrors(t *testing.T) {
	s := NewState()
	assert.ErrorIs(t, s.Set(channel("#go"), 4), ErrBadLevel)
	assert.ErrorIs(t, s.Set(channel("#go"), -1), ErrBadLevel)
	assert.ErrorIs(t, s.Handle(proto.DisconnectNotice{}), ErrDisconnectNotice)
	assert.NoError(t, s.Handle(proto.EventMessage{Window: query("bob"), Nick: "bob", Text: "hi"}))
	assert.Zero(t, s.Len())
}

func TestNotificationsMergeAndTrim(t *testing.T) {
	ns := NewNotifications(clock.NewMock())

	for i := 0; i < 7; i++ {
		ns.Add(proto.EventMessage{Window: query("alice"), Nick: "alice", Text: fmt.Sprintf("line %d", i)})
	}
	n := ns.Add(proto.EventMessage{Window: channel("#go"), Nick: "bob", Text: "alice: ping"})
	assert.Equal(t, "bob in #go (libera)", n.Title)

	got, ok := ns.Get(Key{Server: "libera", Kind: proto.WindowQuery, Name: "alice"})
	require.True(t, ok)
	assert.Equal(t, "alice (libera)", got.Title)
	assert.Equal(t, []string{"line 2", "line 3", "line 4", "line 5", "line 6"}, got.Lines)
	assert.Equal(t, "line 2\nline 3\nline 4\nline 5\nline 6", got.Body())
	assert.Equal(t, 2, ns.Len())
}

func TestNotificationsChannelKeyedPerSender(t *testing.T) {
	ns := NewNotifications(clock.NewMock())
	ns.Add(proto.EventMessage{Window: channel("#go"), Nick: "bob", Text: "a"})
	ns.Add(proto.EventMessage{Window: channel("#go"), Nick: "carol", Text: "b"})
	assert.Equal(t, 2, ns.Len())
}

func TestNotificationsPrune(t *testing.T) {
	mock := clock.NewMock()
	ns := NewNotifications(mock)
	key := Key{Server: "libera", Kind: proto.WindowQuery, Name: "alice"}

	ns.Add(proto.EventMessage{Window: query("alice"), Nick: "alice", Text: "one"})
	mock.Add(15 * time.Second)
	ns.Add(proto.EventMessage{Window: query("alice"), Nick: "alice", Text: "two"})

	// The first prune deadline has passed but the entry was refreshed.
	mock.Add(10 * time.Second)
	_, ok := ns.Get(key)
	assert.True(t, ok)

	mock.Add(10 * time.Second)
	assert.Eventually(t, func() bool {
		_, ok := ns.Get(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBadge(t *testing.T) {
	assert.Contains(t, Badge(3), "hilight")
	assert.Contains(t, Badge(2), "message")
	assert.Contains(t, Badge(1), "none")
	assert.Contains(t, Badge(9), "none")
}

func TestNotifierHandle(t *testing.T) {
	var out bytes.Buffer
	n := NewNotifier(clock.NewMock(), &out, nil)

	require.NoError(t, n.Handle(proto.EventWindowLevel{Window: channel("#go"), Level: 2}))
	assert.Contains(t, out.String(), "message")

	out.Reset()
	require.NoError(t, n.Handle(proto.EventWindowLevel{Window: channel("#rust"), Level: 1}))
	assert.Empty(t, out.String(), "no badge when the overall level is unchanged")

	require.NoError(t, n.Handle(proto.EventMessage{Window: channel("#go"), Nick: "bob", Text: "alice: hey"}))
	assert.Contains(t, out.String(), "bob in #go (libera)")
	assert.Contains(t, out.String(), "alice: hey")
	assert.Equal(t, 1, n.Notifications().Len())

	out.Reset()
	require.NoError(t, n.Handle(proto.Reset{}))
	assert.Contains(t, out.String(), "none")
	assert.Zero(t, n.State().Len())

	assert.ErrorIs(t, n.Handle(proto.DisconnectNotice{}), ErrDisconnectNotice)
}

package proto

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "channel level",
			msg:  EventWindowLevel{Window: Window{Kind: WindowChannel, Name: "#go", Server: "libera"}, Level: 2},
			want: `{"type":"window_level","wtype":"channel","channel":"#go","server":"libera","level":2}`,
		},
		{
			name: "query level zero is kept",
			msg:  EventWindowLevel{Window: Window{Kind: WindowQuery, Name: "bob", Server: "oftc"}},
			want: `{"type":"window_level","wtype":"query","nick":"bob","server":"oftc","level":0}`,
		},
		{
			name: "channel message",
			msg:  EventMessage{Window: Window{Kind: WindowChannel, Name: "#go", Server: "libera"}, Nick: "alice", Text: "hi <you>"},
			want: `{"type":"message","wtype":"channel","channel":"#go","nick":"alice","server":"libera","message":"hi <you>"}`,
		},
		{
			name: "query message uses window name as nick",
			msg:  EventMessage{Window: Window{Kind: WindowQuery, Name: "bob", Server: "oftc"}, Text: "ping"},
			want: `{"type":"message","wtype":"query","nick":"bob","server":"oftc","message":"ping"}`,
		},
		{name: "reset", msg: Reset{}, want: `{"type":"reset"}`},
		{name: "disconnect notice", msg: DisconnectNotice{}, want: `{"type":"disconnect_notice"}`},
		{name: "settings", msg: Settings{SendMessages: true}, want: `{"type":"settings","send_messages":true}`},
		{name: "reset request", msg: ResetRequest{}, want: `{"type":"reset_request"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want+"\n", string(Encode(tt.msg)))
		})
	}
}

func TestEncodeEscapesNewlines(t *testing.T) {
	frame := Encode(EventMessage{
		Window: Window{Kind: WindowQuery, Name: "bob", Server: "x"},
		Text:   "line one\nline two",
	})
	assert.Equal(t, 1, strings.Count(string(frame), "\n"))
	assert.True(t, strings.HasSuffix(string(frame), "\n"))
}

func TestEncodePanicsOnOversizedPayload(t *testing.T) {
	msg := EventMessage{
		Window: Window{Kind: WindowQuery, Name: "bob", Server: "x"},
		Text:   strings.Repeat("a", MaxFrameSize),
	}
	assert.Panics(t, func() { Encode(msg) })
	assert.Panics(t, func() { EncodeLimit(Reset{}, len(`{"type":"reset"}`)) })
	assert.NotPanics(t, func() { EncodeLimit(Reset{}, len(`{"type":"reset"}`)+1) })
}

func TestFitsReportsOversizedPayload(t *testing.T) {
	msg := EventMessage{
		Window: Window{Kind: WindowQuery, Name: "bob", Server: "x"},
		Text:   strings.Repeat("a", MaxFrameSize),
	}
	assert.ErrorIs(t, Fits(msg, MaxFrameSize), ErrTooLarge)
	assert.ErrorIs(t, Fits(Reset{}, len(`{"type":"reset"}`)), ErrTooLarge)
	assert.NoError(t, Fits(Reset{}, len(`{"type":"reset"}`)+1))

	// Control characters are escaped, so the encoded size is what counts.
	escaped := EventMessage{
		Window: Window{Kind: WindowQuery, Name: "bob", Server: "x"},
		Text:   strings.Repeat("\x01", 2000),
	}
	assert.ErrorIs(t, Fits(escaped, MaxFrameSize), ErrTooLarge)
}

func TestDecoderSkipsHeartbeats(t *testing.T) {
	var d Decoder
	_, _ = d.Write([]byte("\n\n{\"type\":\"reset\"}\n\n"))

	obj, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	msg, err := Parse(obj)
	require.NoError(t, err)
	assert.Equal(t, Reset{}, msg)

	_, ok, err = d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, d.Buffered())
}

func TestDecoderKeepsPartialFrame(t *testing.T) {
	var d Decoder
	_, _ = d.Write([]byte(`{"type":"res`))

	_, ok, err := d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, len(`{"type":"res`), d.Buffered())

	_, _ = d.Write([]byte("et\"}\n"))
	obj, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"reset"`, string(obj["type"]))
}

func TestDecoderRejectsNonObjects(t *testing.T) {
	for _, frame := range []string{"garbage", "[1,2]", "null", "42", `"str"`, "{} {}", " "} {
		t.Run(frame, func(t *testing.T) {
			var d Decoder
			_, _ = d.Write([]byte(frame + "\n" + `{"type":"reset"}` + "\n"))

			_, ok, err := d.Next()
			require.ErrorIs(t, err, ErrFraming)
			assert.False(t, ok)

			// The bad frame is consumed; the following one is intact.
			_, ok, err = d.Next()
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestDecoderSplitInsensitive(t *testing.T) {
	var stream []byte
	msgs := []Message{
		EventWindowLevel{Window: Window{Kind: WindowChannel, Name: "#a", Server: "s"}, Level: 3},
		Settings{SendMessages: true},
		EventMessage{Window: Window{Kind: WindowChannel, Name: "#b", Server: "s"}, Nick: "n", Text: strings.Repeat("x", 300)},
		ResetRequest{},
	}
	for _, m := range msgs {
		stream = append(stream, Encode(m)...)
		stream = append(stream, Heartbeat...)
	}

	whole := decodeAll(t, [][]byte{stream})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			if n > 64 {
				n = 1 + rng.Intn(64)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		require.Equal(t, whole, decodeAll(t, chunks))
	}
	assert.Equal(t, msgs, whole)
}

func decodeAll(t *testing.T, chunks [][]byte) []Message {
	t.Helper()

	var (
		d   Decoder
		out []Message
	)
	for _, c := range chunks {
		_, _ = d.Write(c)
		for {
			obj, ok, err := d.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			msg, err := Parse(obj)
			require.NoError(t, err)
			out = append(out, msg)
		}
	}
	return out
}

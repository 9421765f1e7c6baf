package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire message types.
const (
	TypeWindowLevel      = "window_level"
	TypeMessage          = "message"
	TypeReset            = "reset"
	TypeDisconnectNotice = "disconnect_notice"
	TypeSettings         = "settings"
	TypeResetRequest     = "reset_request"
)

// WindowKind distinguishes channel windows from private queries.
type WindowKind string

const (
	WindowChannel WindowKind = "channel"
	WindowQuery   WindowKind = "query"
)

// Window identifies a conversation surface on a given server tag.
// Name is the channel name for channels and the peer nick for queries.
type Window struct {
	Kind   WindowKind
	Name   string
	Server string
}

// Valid reports whether the window names a real channel or query.
// The zero Window is the "no such window" sentinel.
func (w Window) Valid() bool {
	if w.Name == "" {
		return false
	}
	return w.Kind == WindowChannel || w.Kind == WindowQuery
}

func (w Window) String() string {
	return fmt.Sprintf("%s/%s/%s", w.Server, w.Kind, w.Name)
}

// Message is any frame that can travel over the wire.
type Message interface {
	Type() string
}

// Event is a window-scoped message broadcast from server to clients.
type Event interface {
	Message
	Target() Window
}

// EventWindowLevel reports the attention level of a window. Level 0 means the
// window no longer needs attention.
type EventWindowLevel struct {
	Window Window
	Level  int
}

// EventMessage is a chat line directed at or mentioning the local user.
// Nick is the sender; for queries it equals the window name.
type EventMessage struct {
	Window Window
	Nick   string
	Text   string
}

// Reset precedes a fresh snapshot.
type Reset struct{}

// DisconnectNotice tells the client the server is closing the connection.
type DisconnectNotice struct{}

// Settings toggles per-client subscription preferences.
type Settings struct {
	SendMessages bool
}

// ResetRequest asks the server to resend the full snapshot.
type ResetRequest struct{}

// Unknown carries a well-formed frame whose type is not part of the catalogue.
type Unknown struct {
	Kind string
}

func (EventWindowLevel) Type() string { return TypeWindowLevel }
func (EventMessage) Type() string     { return TypeMessage }
func (Reset) Type() string            { return TypeReset }
func (DisconnectNotice) Type() string { return TypeDisconnectNotice }
func (Settings) Type() string         { return TypeSettings }
func (ResetRequest) Type() string     { return TypeResetRequest }
func (u Unknown) Type() string        { return u.Kind }

func (e EventWindowLevel) Target() Window { return e.Window }
func (e EventMessage) Target() Window     { return e.Window }

type channelLevel struct {
	Type    string `json:"type"`
	WType   string `json:"wtype"`
	Channel string `json:"channel"`
	Server  string `json:"server"`
	Level   int    `json:"level"`
}

type queryLevel struct {
	Type   string `json:"type"`
	WType  string `json:"wtype"`
	Nick   string `json:"nick"`
	Server string `json:"server"`
	Level  int    `json:"level"`
}

type channelMessage struct {
	Type    string `json:"type"`
	WType   string `json:"wtype"`
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	Server  string `json:"server"`
	Message string `json:"message"`
}

type queryMessage struct {
	Type    string `json:"type"`
	WType   string `json:"wtype"`
	Nick    string `json:"nick"`
	Server  string `json:"server"`
	Message string `json:"message"`
}

type marker struct {
	Type string `json:"type"`
}

type settingsFrame struct {
	Type         string `json:"type"`
	SendMessages bool   `json:"send_messages"`
}

// MarshalJSON renders the window under "channel" or "nick" depending on its kind.
func (e EventWindowLevel) MarshalJSON() ([]byte, error) {
	if e.Window.Kind == WindowQuery {
		return json.Marshal(queryLevel{
			Type:   TypeWindowLevel,
			WType:  string(WindowQuery),
			Nick:   e.Window.Name,
			Server: e.Window.Server,
			Level:  e.Level,
		})
	}
	return json.Marshal(channelLevel{
		Type:    TypeWindowLevel,
		WType:   string(e.Window.Kind),
		Channel: e.Window.Name,
		Server:  e.Window.Server,
		Level:   e.Level,
	})
}

func (e EventMessage) MarshalJSON() ([]byte, error) {
	if e.Window.Kind == WindowQuery {
		nick := e.Nick
		if nick == "" {
			nick = e.Window.Name
		}
		return json.Marshal(queryMessage{
			Type:    TypeMessage,
			WType:   string(WindowQuery),
			Nick:    nick,
			Server:  e.Window.Server,
			Message: e.Text,
		})
	}
	return json.Marshal(channelMessage{
		Type:    TypeMessage,
		WType:   string(e.Window.Kind),
		Channel: e.Window.Name,
		Nick:    e.Nick,
		Server:  e.Window.Server,
		Message: e.Text,
	})
}

func (Reset) MarshalJSON() ([]byte, error)            { return json.Marshal(marker{Type: TypeReset}) }
func (DisconnectNotice) MarshalJSON() ([]byte, error) { return json.Marshal(marker{Type: TypeDisconnectNotice}) }
func (ResetRequest) MarshalJSON() ([]byte, error)     { return json.Marshal(marker{Type: TypeResetRequest}) }

func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsFrame{Type: TypeSettings, SendMessages: s.SendMessages})
}

func (u Unknown) MarshalJSON() ([]byte, error) { return json.Marshal(marker{Type: u.Kind}) }

var (
	// ErrMissingField is returned when a frame lacks a field its type requires.
	ErrMissingField = errors.New("missing field")
	// ErrBadField is returned when a field has the wrong JSON type.
	ErrBadField = errors.New("bad field")
)

// TypeOf returns the mandatory type field of a frame.
func TypeOf(obj Object) (string, error) {
	var kind string
	if err := field(obj, "type", &kind); err != nil {
		return "", err
	}
	return kind, nil
}

// Parse converts a decoded frame object into its typed message.
// Frames with an unrecognised type parse to Unknown.
func Parse(obj Object) (Message, error) {
	var kind string
	if err := field(obj, "type", &kind); err != nil {
		return nil, err
	}

	switch kind {
	case TypeReset:
		return Reset{}, nil
	case TypeDisconnectNotice:
		return DisconnectNotice{}, nil
	case TypeResetRequest:
		return ResetRequest{}, nil
	case TypeSettings:
		raw, ok := obj["send_messages"]
		if !ok {
			return nil, fmt.Errorf("settings: %w: send_messages", ErrMissingField)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("settings: %w: send_messages", ErrBadField)
		}
		return Settings{SendMessages: truthy(v)}, nil
	case TypeWindowLevel:
		win, err := parseWindow(obj)
		if err != nil {
			return nil, fmt.Errorf("window_level: %w", err)
		}
		var level int
		if err := field(obj, "level", &level); err != nil {
			return nil, fmt.Errorf("window_level: %w", err)
		}
		return EventWindowLevel{Window: win, Level: level}, nil
	case TypeMessage:
		win, err := parseWindow(obj)
		if err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		var nick, text string
		if err := field(obj, "nick", &nick); err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		if err := field(obj, "message", &text); err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		return EventMessage{Window: win, Nick: nick, Text: text}, nil
	default:
		return Unknown{Kind: kind}, nil
	}
}

func parseWindow(obj Object) (Window, error) {
	var wtype, server string
	if err := field(obj, "wtype", &wtype); err != nil {
		return Window{}, err
	}
	if err := field(obj, "server", &server); err != nil {
		return Window{}, err
	}

	win := Window{Kind: WindowKind(wtype), Server: server}
	switch win.Kind {
	case WindowChannel:
		if err := field(obj, "channel", &win.Name); err != nil {
			return Window{}, err
		}
	case WindowQuery:
		if err := field(obj, "nick", &win.Name); err != nil {
			return Window{}, err
		}
	default:
		return Window{}, fmt.Errorf("%w: wtype %q", ErrBadField, wtype)
	}
	return win, nil
}

func field(obj Object, name string, dst any) error {
	raw, ok := obj[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s", ErrBadField, name)
	}
	return nil
}

// truthy follows JSON-permissive truthiness: false, 0, "", null, [] and {} are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

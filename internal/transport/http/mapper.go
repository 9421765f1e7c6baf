package http

import (
	"github.com/vovakirdan/wirestatus/internal/proto"
)

// WindowRequest names a channel or query window.
type WindowRequest struct {
	WType  string `json:"wtype" binding:"required,oneof=channel query"`
	Name   string `json:"name" binding:"required,max=256"`
	Server string `json:"server" binding:"max=256"`
}

// Window converts the request into a protocol window.
func (r WindowRequest) Window() proto.Window {
	return proto.Window{Kind: proto.WindowKind(r.WType), Name: r.Name, Server: r.Server}
}

// WindowLevelRequest sets a window's attention level.
type WindowLevelRequest struct {
	WindowRequest
	Level *int `json:"level" binding:"required,min=0"`
}

// MessageRequest carries one chat line. For queries Name is the peer and
// Nick may be left empty; for channels Name is the channel and Nick the sender.
type MessageRequest struct {
	WType   string `json:"wtype" binding:"required,oneof=channel query"`
	Name    string `json:"name" binding:"required,max=256"`
	Server  string `json:"server" binding:"max=256"`
	Nick    string `json:"nick" binding:"max=256"`
	Message string `json:"message" binding:"max=4096"`
}

// Sender returns the nick a query message comes from.
func (r MessageRequest) Sender() string {
	if r.Nick != "" {
		return r.Nick
	}
	return r.Name
}

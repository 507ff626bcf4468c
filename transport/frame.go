// Package transport serves bridge sessions to script runtimes living outside
// the host process.
//
// A remote runtime, such as a browser page on a WebSocket or a child process on
// stdio, exchanges JSON frames with the host. Every connection gets its own
// scriptbridge.Session whose script channel writes inject frames back to the
// runtime.
package transport

import (
	"context"
	"errors"
)

// Frame types.
const (
	FrameCall     = "call"
	FrameRegister = "register"
	FrameModal    = "modal"
	FrameResponse = "response"
	FrameInject   = "inject"
)

// ErrMalformedFrame is wrapped by read errors for frames that are not valid
// JSON. The connection stays usable.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one message between host and runtime. Which fields are set depends
// on Type.
type Frame struct {
	Type string `json:"type"`

	// call and response
	Payload string `json:"payload,omitempty"`

	// register
	Event   string `json:"event,omitempty"`
	Handler string `json:"handler,omitempty"`

	// modal
	ID      int64   `json:"id,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Message string  `json:"message,omitempty"`
	Default *string `json:"default,omitempty"`

	// inject
	Code string `json:"code,omitempty"`
}

// Conn carries frames. WriteFrame must be safe for concurrent use; ReadFrame
// is only called from one goroutine.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// remoteChannel is the script channel of a remote runtime.
type remoteChannel struct {
	conn Conn
}

func (c *remoteChannel) Inject(code string) error {
	return c.conn.WriteFrame(Frame{Type: FrameInject, Code: code})
}

// Package modal runs blocking, user mediated interactions on behalf of a script.
//
// A script that triggers an alert, confirm or prompt is suspended by its
// engine. The Bridge acknowledges the request straight away, queues it behind
// any interaction still in front of the user, asks the InputService on its one
// worker goroutine and finally resumes the suspended script call through the
// interaction's Completion.
package modal

import (
	"context"
	"errors"
)

var (
	// ErrInterrupted is returned by an InputService that was interrupted while
	// waiting for the user.
	ErrInterrupted = errors.New("interaction interrupted")
	// ErrClosed is returned once the bridge has been closed.
	ErrClosed = errors.New("modal bridge closed")
)

// DefaultTitle is the dialog title used when none is configured.
const DefaultTitle = "javaScript dialog"

// Kind is the type of interaction.
type Kind int

const (
	Alert Kind = iota
	Confirm
	Prompt
)

func (k Kind) String() string {
	switch k {
	case Alert:
		return "alert"
	case Confirm:
		return "confirm"
	case Prompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// ParseKind converts the wire name of a kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "alert":
		return Alert, true
	case "confirm":
		return Confirm, true
	case "prompt":
		return Prompt, true
	default:
		return 0, false
	}
}

// Request describes one interaction.
type Request struct {
	Kind         Kind
	Title        string
	Message      string
	DefaultValue *string
	Cancellable  bool
}

// Buttons returns the buttons shown for the request.
func (r Request) Buttons() []string {
	if r.Cancellable {
		return []string{"ok", "cancel"}
	}
	return []string{"ok"}
}

// NewAlert builds an alert. Alerts cannot be cancelled.
func NewAlert(title, message string) Request {
	return Request{Kind: Alert, Title: title, Message: message}
}

// NewConfirm builds a confirm interaction.
func NewConfirm(title, message string) Request {
	return Request{Kind: Confirm, Title: title, Message: message, Cancellable: true}
}

// NewPrompt builds a prompt interaction with an optional default value.
func NewPrompt(title, message string, defaultValue *string) Request {
	return Request{Kind: Prompt, Title: title, Message: message, DefaultValue: defaultValue, Cancellable: true}
}

// Outcome is the result handed back to the suspended script call.
type Outcome struct {
	Confirmed bool    `json:"confirmed"`
	Value     *string `json:"value,omitempty"`
}

// Completion resumes exactly one suspended script call. Implementations must
// not block.
type Completion interface {
	Confirm(value *string)
	Cancel()
}

// CompletionFunc adapts a function receiving the Outcome to Completion.
type CompletionFunc func(Outcome)

func (f CompletionFunc) Confirm(value *string) { f(Outcome{Confirmed: true, Value: value}) }
func (f CompletionFunc) Cancel()               { f(Outcome{}) }

// InputService shows dialogs to the user. Every method may block until the
// user answers and should return ErrInterrupted once ctx is done.
type InputService interface {
	PromptAlert(ctx context.Context, title, message string) error
	PromptConfirm(ctx context.Context, title, message string) (bool, error)
	PromptInput(ctx context.Context, title, message string, defaultValue *string) (*string, error)
}

// State is the lifecycle position of an interaction.
type State int

const (
	Requested State = iota
	Submitted
	AwaitingUser
	Resolved
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Submitted:
		return "submitted"
	case AwaitingUser:
		return "awaiting_user"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

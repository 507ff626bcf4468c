// Package capability holds the host-side operations a script may invoke by name.
//
// A Capability is registered once in a Manager and then resolved by the
// dispatcher for every incoming call. The Manager owns arity checking, optional
// parameter defaults and JSON schema validation of the positional arguments, so
// individual capabilities only see well-shaped input.
package capability

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrArity is returned when a call carries too few or too many arguments.
	ErrArity = errors.New("wrong number of arguments")
	// ErrInvalidParams is returned when arguments fail schema validation.
	ErrInvalidParams = errors.New("invalid params")
)

// HandlerFunc executes a capability with already validated positional arguments.
type HandlerFunc func(ctx context.Context, args []json.RawMessage) (interface{}, error)

// Capability is a single named host operation.
type Capability interface {
	GetName() string
	GetArity() Arity
	Invoke(ctx context.Context, args []json.RawMessage) (interface{}, error)
}

// Registry resolves names to capabilities and invokes them.
type Registry interface {
	Resolve(name string) (Capability, bool)
	Invoke(ctx context.Context, c Capability, args []json.RawMessage) (interface{}, error)
}

// Arity is the accepted argument count range of a capability. Max < 0 means variadic.
type Arity struct {
	Min int
	Max int
}

// Accepts reports whether n arguments fit the range.
func (a Arity) Accepts(n int) bool {
	if n < a.Min {
		return false
	}
	return a.Max < 0 || n <= a.Max
}

// Param describes one positional parameter.
type Param struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Definition is the usual way to declare a capability.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Params      []Param         `json:"params,omitempty"`
	Variadic    bool            `json:"variadic,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Handler     HandlerFunc     `json:"-"`
}

// GetName returns the capability name.
func (d Definition) GetName() string { return d.Name }

// GetArity derives the accepted argument range from Params.
func (d Definition) GetArity() Arity {
	required := 0
	for _, p := range d.Params {
		if !p.Optional {
			required++
		}
	}
	if d.Variadic {
		return Arity{Min: required, Max: -1}
	}
	return Arity{Min: required, Max: len(d.Params)}
}

// Invoke runs the handler.
func (d Definition) Invoke(ctx context.Context, args []json.RawMessage) (interface{}, error) {
	return d.Handler(ctx, args)
}

// fillDefaults pads args with the defaults of missing trailing optional params.
func (d Definition) fillDefaults(args []json.RawMessage) []json.RawMessage {
	if len(args) >= len(d.Params) {
		return args
	}
	filled := make([]json.RawMessage, len(args), len(d.Params))
	copy(filled, args)
	for _, p := range d.Params[len(args):] {
		if len(p.Default) > 0 {
			filled = append(filled, p.Default)
		} else {
			filled = append(filled, json.RawMessage("null"))
		}
	}
	return filled
}

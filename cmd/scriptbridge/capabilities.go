package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaharia-lab/scriptbridge/capability"
	"github.com/shaharia-lab/scriptbridge/journal"
)

type publishFunc func(ctx context.Context, name string, data json.RawMessage) error

// capabilityInfo is what listCapabilities reports per capability.
type capabilityInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Params      []capability.Param `json:"params,omitempty"`
	Arity       string             `json:"arity"`
}

// newRegistry registers the capabilities the stock host offers to scripts.
func newRegistry(publish publishFunc, calls journal.Journal) (*capability.Manager, error) {
	m, err := capability.NewManager()
	if err != nil {
		return nil, err
	}

	defs := []capability.Definition{
		{
			Name:        "ping",
			Description: "Returns pong",
			Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
				return "pong", nil
			},
		},
		{
			Name:        "echo",
			Description: "Returns its argument",
			Params:      []capability.Param{{Name: "value"}},
			Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
				return args[0], nil
			},
		},
		{
			Name:        "now",
			Description: "Returns the host time formatted with an optional Go layout",
			Params: []capability.Param{
				{Name: "layout", Optional: true, Default: json.RawMessage(`"2006-01-02T15:04:05Z07:00"`)},
			},
			Schema: json.RawMessage(`{"type": "array", "items": [{"type": "string", "minLength": 1}]}`),
			Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
				var layout string
				if err := json.Unmarshal(args[0], &layout); err != nil {
					return nil, err
				}
				return time.Now().Format(layout), nil
			},
		},
		{
			Name:        "postEvent",
			Description: "Broadcasts a host event to every session",
			Params: []capability.Param{
				{Name: "name"},
				{Name: "data", Optional: true},
			},
			Schema: json.RawMessage(`{"type": "array", "items": [{"type": "string", "minLength": 1}, {}]}`),
			Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
				var name string
				if err := json.Unmarshal(args[0], &name); err != nil {
					return nil, err
				}
				if err := publish(ctx, name, args[1]); err != nil {
					return nil, fmt.Errorf("failed to post event %s: %w", name, err)
				}
				return true, nil
			},
		},
		{
			Name:        "callHistory",
			Description: "Lists the calls recorded for a session",
			Params:      []capability.Param{{Name: "sessionId"}},
			Schema:      json.RawMessage(`{"type": "array", "items": [{"type": "string"}]}`),
			Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
				var sessionID string
				if err := json.Unmarshal(args[0], &sessionID); err != nil {
					return nil, err
				}
				return calls.List(ctx, sessionID)
			},
		},
	}
	for _, d := range defs {
		if err := m.Register(d); err != nil {
			return nil, err
		}
	}

	err = m.Register(capability.Definition{
		Name:        "listCapabilities",
		Description: "Lists the capabilities scripts may call",
		Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
			var infos []capabilityInfo
			for _, c := range m.List() {
				info := capabilityInfo{Name: c.GetName(), Arity: c.GetArity().String()}
				if d, ok := c.(capability.Definition); ok {
					info.Description = d.Description
					info.Params = d.Params
				}
				infos = append(infos, info)
			}
			return infos, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

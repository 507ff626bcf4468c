package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaProvider is implemented by capabilities that validate their arguments
// against a JSON schema describing the positional params array.
type SchemaProvider interface {
	GetSchema() json.RawMessage
}

// GetSchema returns the params schema of the definition.
func (d Definition) GetSchema() json.RawMessage { return d.Schema }

type defaulter interface {
	fillDefaults(args []json.RawMessage) []json.RawMessage
}

// Manager is the in-process Registry implementation.
type Manager struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	schemas      map[string]*gojsonschema.Schema
}

// NewManager creates a Manager and registers caps.
func NewManager(caps ...Capability) (*Manager, error) {
	m := &Manager{
		capabilities: make(map[string]Capability),
		schemas:      make(map[string]*gojsonschema.Schema),
	}
	for _, c := range caps {
		if err := m.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds c, replacing any capability with the same name.
func (m *Manager) Register(c Capability) error {
	if err := validateCapability(c); err != nil {
		return err
	}

	var schema *gojsonschema.Schema
	if sp, ok := c.(SchemaProvider); ok && len(sp.GetSchema()) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(sp.GetSchema()))
		if err != nil {
			return fmt.Errorf("invalid params schema for %s: %w", c.GetName(), err)
		}
		schema = compiled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities[c.GetName()] = c
	if schema != nil {
		m.schemas[c.GetName()] = schema
	} else {
		delete(m.schemas, c.GetName())
	}
	return nil
}

// Unregister removes the capability called name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.capabilities, name)
	delete(m.schemas, name)
}

// Resolve looks up a capability by name.
func (m *Manager) Resolve(name string) (Capability, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.capabilities[name]
	return c, ok
}

// Invoke checks arity, fills defaults, validates against the schema and calls c.
func (m *Manager) Invoke(ctx context.Context, c Capability, args []json.RawMessage) (interface{}, error) {
	arity := c.GetArity()
	if !arity.Accepts(len(args)) {
		return nil, fmt.Errorf("%w: %s expects %s, got %d", ErrArity, c.GetName(), arity, len(args))
	}

	if d, ok := c.(defaulter); ok {
		args = d.fillDefaults(args)
	}

	m.mu.RLock()
	schema := m.schemas[c.GetName()]
	m.mu.RUnlock()

	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			return nil, err
		}
	}

	return c.Invoke(ctx, args)
}

// List returns all registered capabilities ordered by name.
func (m *Manager) List() []Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.capabilities))
	for name := range m.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	caps := make([]Capability, 0, len(names))
	for _, name := range names {
		caps = append(caps, m.capabilities[name])
	}
	return caps
}

func (a Arity) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("at least %d", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	default:
		return fmt.Sprintf("%d to %d", a.Min, a.Max)
	}
}

func validateArgs(schema *gojsonschema.Schema, args []json.RawMessage) error {
	if args == nil {
		args = []json.RawMessage{}
	}
	doc, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if result.Valid() {
		return nil
	}

	var errMsgs []string
	for _, desc := range result.Errors() {
		errMsgs = append(errMsgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errMsgs, "; "))
}

func validateCapability(c Capability) error {
	if c == nil {
		return fmt.Errorf("capability cannot be nil")
	}
	if c.GetName() == "" {
		return fmt.Errorf("capability name cannot be empty")
	}

	d, ok := c.(Definition)
	if !ok {
		return nil
	}
	if d.Handler == nil {
		return fmt.Errorf("capability %s: handler cannot be nil", d.Name)
	}
	seenOptional := false
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("capability %s: param name cannot be empty", d.Name)
		}
		if p.Optional {
			seenOptional = true
		} else if seenOptional {
			return fmt.Errorf("capability %s: required param %s follows an optional one", d.Name, p.Name)
		}
		if len(p.Default) > 0 && !json.Valid(p.Default) {
			return fmt.Errorf("capability %s: default of %s is not valid JSON", d.Name, p.Name)
		}
	}
	return nil
}

var _ Registry = (*Manager)(nil)

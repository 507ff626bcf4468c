package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaharia-lab/scriptbridge/capability"
	"github.com/shaharia-lab/scriptbridge/journal"
	"github.com/shaharia-lab/scriptbridge/observability"
)

// Dispatcher resolves requests against a capability registry and always
// produces exactly one Response per Request.
type Dispatcher struct {
	registry  capability.Registry
	logger    observability.Logger
	journal   journal.Journal
	sessionID string
}

// DispatcherOption is a function that modifies a Dispatcher
type DispatcherOption func(*Dispatcher)

// UseLogger sets the logger
func UseLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// UseJournal records every handled call in j
func UseJournal(j journal.Journal) DispatcherOption {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

// UseSessionID tags log lines and journal entries with the owning session
func UseSessionID(id string) DispatcherOption {
	return func(d *Dispatcher) {
		d.sessionID = id
	}
}

// NewDispatcher creates a Dispatcher backed by registry.
func NewDispatcher(registry capability.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = observability.OrNull(d.logger)
	return d
}

// Serve decodes raw, handles it and returns the encoded response. It returns
// false when the envelope was dropped because no id could be recovered.
func (d *Dispatcher) Serve(ctx context.Context, raw []byte) ([]byte, bool) {
	d.logger.Debugf("Received: %s", raw)

	req, err := Decode(raw)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) && decodeErr.ID != nil {
			d.logger.WithErr(err).Warn("Rejected malformed request")
			return EncodeError(*decodeErr.ID, err), true
		}
		d.logger.WithErr(err).Warn("Dropped malformed request without id")
		return nil, false
	}

	resp := d.Handle(ctx, *req)
	b, err := json.Marshal(resp)
	if err != nil {
		return EncodeError(req.ID, fmt.Errorf("failed to serialize result: %w", err)), true
	}
	return b, true
}

// Handle executes req. It never panics and never returns an error outward.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	ctx, span := observability.StartSpan(ctx, "rpc.Dispatcher.Handle",
		trace.WithAttributes(
			attribute.String("rpc.method", req.Method),
			attribute.Int64("rpc.id", req.ID),
		),
	)
	started := time.Now()
	logger := d.logger.WithFields(map[string]interface{}{
		observability.SessionIDLogField: d.sessionID,
		observability.RequestIDLogField: req.ID,
		observability.MethodLogField:    req.Method,
	})

	defer func() {
		var spanErr error
		if resp.IsError() {
			spanErr = errors.New(resp.Error)
		}
		observability.EndSpan(span, spanErr)
		d.record(ctx, req, resp, started, logger)
	}()

	c, ok := d.registry.Resolve(req.Method)
	if !ok {
		return Response{ID: req.ID, Error: UnknownRPC}
	}

	result, err := d.invoke(ctx, c, req.Params)
	if err != nil {
		logger.WithErr(err).Error("Invocation error.")
		return Response{ID: req.ID, Error: describe(err)}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		logger.WithErr(err).Error("Failed to serialize result")
		return Response{ID: req.ID, Error: fmt.Sprintf("failed to serialize result: %v", err)}
	}
	return Response{ID: req.ID, Result: encoded}
}

func (d *Dispatcher) invoke(ctx context.Context, c capability.Capability, args []json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", c.GetName(), r)
		}
	}()
	return d.registry.Invoke(ctx, c, args)
}

func (d *Dispatcher) record(ctx context.Context, req Request, resp Response, started time.Time, logger observability.Logger) {
	if d.journal == nil {
		return
	}

	params, err := json.Marshal(req.Params)
	if err != nil {
		params = json.RawMessage("[]")
	}
	entry := journal.Entry{
		ID:        uuid.NewString(),
		SessionID: d.sessionID,
		RequestID: req.ID,
		Method:    req.Method,
		Params:    params,
		Result:    resp.Result,
		Error:     resp.Error,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
	}
	if err := d.journal.Record(ctx, entry); err != nil {
		logger.WithErr(err).Warn("Failed to record call in journal")
	}
}

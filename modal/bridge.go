package modal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// TransitionFunc observes interaction state changes. It must not call back
// into the Bridge.
type TransitionFunc func(id string, kind Kind, state State)

type interaction struct {
	id         string
	req        Request
	completion Completion
}

// Bridge serializes interactions through a single worker goroutine.
type Bridge struct {
	input        InputService
	logger       observability.Logger
	onTransition TransitionFunc

	mu      sync.Mutex
	queue   []*interaction
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	// resolveMu is held while a completion runs so Close can wait it out.
	resolveMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// BridgeOption is a function that modifies a Bridge
type BridgeOption func(*Bridge)

// UseLogger sets the logger
func UseLogger(logger observability.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// UseTransitionFunc registers fn to be called on every state change
func UseTransitionFunc(fn TransitionFunc) BridgeOption {
	return func(b *Bridge) {
		b.onTransition = fn
	}
}

// NewBridge starts the worker that asks input for every submitted interaction.
func NewBridge(input InputService, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		input:   input,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = observability.OrNull(b.logger)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	go b.loop()
	return b
}

// Submit queues req and returns at once. It returns true when the request was
// accepted and completion will be resolved later, false when the bridge is
// closed, in which case completion is never used.
func (b *Bridge) Submit(req Request, completion Completion) bool {
	it := &interaction{id: uuid.NewString(), req: req, completion: completion}
	b.transition(it, Requested)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.transition(it, Submitted)
	b.queue = append(b.queue, it)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	b.mu.Unlock()
	return true
}

// Pending returns the number of interactions waiting for the worker.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close drops queued interactions, interrupts the one in front of the user
// and waits for the worker to exit. No completion is resolved once Close has
// started.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.stopped
		return
	}
	b.closed = true
	dropped := len(b.queue)
	b.queue = nil
	b.mu.Unlock()

	b.cancel()
	close(b.wake)

	b.resolveMu.Lock()
	b.resolveMu.Unlock()

	<-b.stopped
	if dropped > 0 {
		b.logger.Debugf("Dropped %d queued interactions on close", dropped)
	}
}

func (b *Bridge) loop() {
	defer close(b.stopped)
	for range b.wake {
		for {
			it, ok := b.next()
			if !ok {
				break
			}
			b.run(it)
		}
	}
}

func (b *Bridge) next() (*interaction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) == 0 {
		return nil, false
	}
	it := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return it, true
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) run(it *interaction) {
	ctx, span := observability.StartSpan(b.ctx, "modal.Bridge.run",
		trace.WithAttributes(
			attribute.String("modal.kind", it.req.Kind.String()),
			attribute.String("modal.interaction_id", it.id),
		),
	)
	logger := b.logger.WithFields(map[string]interface{}{
		observability.InteractionIDLogField: it.id,
	})

	b.transition(it, AwaitingUser)
	outcome, err := b.ask(ctx, it.req)
	observability.EndSpan(span, err)

	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			logger.WithErr(err).Warn("Interaction interrupted, cancelling")
		} else {
			logger.WithErr(err).Error("Interaction failed, cancelling")
		}
		outcome = Outcome{}
	}

	b.resolveMu.Lock()
	defer b.resolveMu.Unlock()
	if b.isClosed() {
		logger.Debug("Dropped interaction outcome after close")
		return
	}
	b.resolve(it, outcome, logger)
	b.transition(it, Resolved)
}

func (b *Bridge) resolve(it *interaction, outcome Outcome, logger observability.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Completion panicked: %v", r)
		}
	}()
	if outcome.Confirmed {
		it.completion.Confirm(outcome.Value)
		return
	}
	it.completion.Cancel()
}

// ask calls the input service for req. Panics become errors.
func (b *Bridge) ask(ctx context.Context, req Request) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("input service panicked: %v", r)
		}
	}()

	switch req.Kind {
	case Alert:
		if err := b.input.PromptAlert(ctx, req.Title, req.Message); err != nil {
			return Outcome{}, err
		}
		return Outcome{Confirmed: true}, nil
	case Confirm:
		ok, err := b.input.PromptConfirm(ctx, req.Title, req.Message)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Confirmed: ok}, nil
	case Prompt:
		value, err := b.input.PromptInput(ctx, req.Title, req.Message, req.DefaultValue)
		if err != nil {
			return Outcome{}, err
		}
		if value == nil {
			return Outcome{}, nil
		}
		return Outcome{Confirmed: true, Value: value}, nil
	default:
		return Outcome{}, fmt.Errorf("unsupported interaction kind %d", req.Kind)
	}
}

func (b *Bridge) transition(it *interaction, state State) {
	if b.onTransition != nil {
		b.onTransition(it.id, it.req.Kind, state)
	}
}

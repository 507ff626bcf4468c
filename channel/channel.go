// Package channel drives a script channel from a single owning goroutine.
//
// A ScriptChannel injects code into the script execution context and must never
// be called from two goroutines at once. Owner is the one goroutine allowed to
// call it: every other component hands code to Owner.Post, which queues it in
// FIFO order. After Stop no further code reaches the channel; anything still
// queued is dropped. Close also waits for the goroutine and releases the
// channel.
package channel

import (
	"errors"
	"io"
	"sync"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// ErrClosed is returned by Post once the owner is closed.
var ErrClosed = errors.New("script channel closed")

// ScriptChannel injects code into the script context. Implementations need
// not be safe for concurrent use.
type ScriptChannel interface {
	Inject(code string) error
}

// Owner serializes every injection onto one goroutine.
type Owner struct {
	ch     ScriptChannel
	logger observability.Logger

	mu      sync.Mutex
	queue   []string
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

// NewOwner starts the owning goroutine for ch.
func NewOwner(ch ScriptChannel, logger observability.Logger) *Owner {
	o := &Owner{
		ch:      ch,
		logger:  observability.OrNull(logger),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go o.loop()
	return o
}

// Post queues code for injection. It never blocks on the channel itself.
func (o *Owner) Post(code string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.queue = append(o.queue, code)
	// wake is only closed after closed is set under mu.
	select {
	case o.wake <- struct{}{}:
	default:
	}
	o.mu.Unlock()
	return nil
}

// Stop refuses further code and drops whatever is still queued. An injection
// already in progress still runs to completion. It is safe to call more than
// once.
func (o *Owner) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	dropped := len(o.queue)
	o.queue = nil
	o.mu.Unlock()

	close(o.wake)
	if dropped > 0 {
		o.logger.Debugf("Dropped %d pending injections on stop", dropped)
	}
}

// Close stops the owner, waits for an in-progress injection to return and
// then releases the channel if it is an io.Closer. The channel is released
// once; later calls return the same error.
func (o *Owner) Close() error {
	o.Stop()
	<-o.stopped
	o.releaseOnce.Do(func() {
		if closer, ok := o.ch.(io.Closer); ok {
			o.releaseErr = closer.Close()
		}
	})
	return o.releaseErr
}

func (o *Owner) loop() {
	defer close(o.stopped)
	for range o.wake {
		for {
			code, ok := o.next()
			if !ok {
				break
			}
			if err := o.ch.Inject(code); err != nil {
				o.logger.WithErr(err).Warn("Failed to inject code into script channel")
			}
		}
	}
}

func (o *Owner) next() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.queue) == 0 {
		return "", false
	}
	code := o.queue[0]
	o.queue[0] = ""
	o.queue = o.queue[1:]
	return code, true
}

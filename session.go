// Package scriptbridge connects a sandboxed script runtime to host capabilities.
//
// A Session owns one script channel. Scripts call host capabilities with JSON
// request envelopes, subscribe to host events and trigger blocking dialogs,
// and the Session routes each of these to the rpc, events and modal packages.
//
// Example:
//
//	registry, _ := capability.NewManager(capability.Definition{
//		Name: "getBattery",
//		Handler: func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
//			return 85, nil
//		},
//	})
//
//	session, err := scriptbridge.NewSession(webView,
//		scriptbridge.UseRegistry(registry),
//		scriptbridge.UseEventSource(broadcaster),
//		scriptbridge.UseInputService(modal.NewConsoleInput(os.Stdin, os.Stdout)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	response, ok := session.Call(ctx, `{"id":1,"method":"getBattery","params":[]}`)
package scriptbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaharia-lab/scriptbridge/capability"
	"github.com/shaharia-lab/scriptbridge/channel"
	"github.com/shaharia-lab/scriptbridge/events"
	"github.com/shaharia-lab/scriptbridge/journal"
	"github.com/shaharia-lab/scriptbridge/modal"
	"github.com/shaharia-lab/scriptbridge/observability"
	"github.com/shaharia-lab/scriptbridge/rpc"
)

// ErrSessionClosed is returned by operations on a closed Session.
var ErrSessionClosed = errors.New("session closed")

// SessionConfig holds the collaborators and settings of a Session
type SessionConfig struct {
	id          string
	logger      observability.Logger
	registry    capability.Registry
	source      events.Source
	input       modal.InputService
	journal     journal.Journal
	forgetCalls bool
	rateLimit   float64
	rateBurst   int
	bootstrap   Bootstrap
	preamble    string
	dialogTitle string
}

// SessionOption is a function that modifies SessionConfig
type SessionOption func(*SessionConfig)

// UseLogger sets the logger
func UseLogger(logger observability.Logger) SessionOption {
	return func(c *SessionConfig) {
		c.logger = logger
	}
}

// UseSessionID overrides the generated session id
func UseSessionID(id string) SessionOption {
	return func(c *SessionConfig) {
		c.id = id
	}
}

// UseRegistry sets the capabilities scripts may call
func UseRegistry(registry capability.Registry) SessionOption {
	return func(c *SessionConfig) {
		c.registry = registry
	}
}

// UseEventSource subscribes the session to source
func UseEventSource(source events.Source) SessionOption {
	return func(c *SessionConfig) {
		c.source = source
	}
}

// UseInputService sets the service that shows dialogs
func UseInputService(input modal.InputService) SessionOption {
	return func(c *SessionConfig) {
		c.input = input
	}
}

// UseJournal records every dispatched call
func UseJournal(j journal.Journal) SessionOption {
	return func(c *SessionConfig) {
		c.journal = j
	}
}

// UseForgetCallsOnClose drops the session's journal entries when it closes
func UseForgetCallsOnClose(forget bool) SessionOption {
	return func(c *SessionConfig) {
		c.forgetCalls = forget
	}
}

// UseEventRateLimit throttles event deliveries per second
func UseEventRateLimit(limit float64, burst int) SessionOption {
	return func(c *SessionConfig) {
		c.rateLimit = limit
		c.rateBurst = burst
	}
}

// UseBootstrap overrides the bootstrap binding names
func UseBootstrap(b Bootstrap) SessionOption {
	return func(c *SessionConfig) {
		c.bootstrap = b
	}
}

// UsePreamble injects code ahead of the bootstrap
func UsePreamble(code string) SessionOption {
	return func(c *SessionConfig) {
		c.preamble = code
	}
}

// UseDialogTitle sets the title of every dialog
func UseDialogTitle(title string) SessionOption {
	return func(c *SessionConfig) {
		c.dialogTitle = title
	}
}

// Session is the bridge between one script channel and the host.
type Session struct {
	config     SessionConfig
	logger     observability.Logger
	owner      *channel.Owner
	dispatcher *rpc.Dispatcher
	router     *events.Router
	modal      *modal.Bridge

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession wires a session around ch, subscribes it to the configured event
// source and injects the bootstrap code.
func NewSession(ch channel.ScriptChannel, opts ...SessionOption) (*Session, error) {
	if ch == nil {
		return nil, fmt.Errorf("script channel cannot be nil")
	}

	config := SessionConfig{
		id:          uuid.NewString(),
		bootstrap:   DefaultBootstrap(),
		dialogTitle: modal.DefaultTitle,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.bootstrap.Validate(); err != nil {
		return nil, err
	}
	if config.registry == nil {
		registry, err := capability.NewManager()
		if err != nil {
			return nil, err
		}
		config.registry = registry
	}
	if config.input == nil {
		config.input = modal.HeadlessInput{}
	}

	logger := observability.OrNull(config.logger).WithFields(map[string]interface{}{
		observability.SessionIDLogField: config.id,
	})

	s := &Session{config: config, logger: logger}
	s.owner = channel.NewOwner(ch, logger)

	dispatcherOpts := []rpc.DispatcherOption{rpc.UseLogger(logger), rpc.UseSessionID(config.id)}
	if config.journal != nil {
		dispatcherOpts = append(dispatcherOpts, rpc.UseJournal(config.journal))
	}
	s.dispatcher = rpc.NewDispatcher(config.registry, dispatcherOpts...)
	s.router = events.NewRouter(s.owner,
		events.UseLogger(config.logger),
		events.UseSessionID(config.id),
		events.UseRateLimit(config.rateLimit, config.rateBurst),
	)
	s.modal = modal.NewBridge(config.input, modal.UseLogger(logger))

	if config.preamble != "" {
		if err := s.owner.Post(config.preamble); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to inject preamble: %w", err)
		}
	}
	if err := s.owner.Post(config.bootstrap.Code()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to inject bootstrap: %w", err)
	}

	if config.source != nil {
		config.source.AddObserver(s.router)
	}

	logger.Debug("Session started")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.config.id
}

// Bootstrap returns the binding names in use.
func (s *Session) Bootstrap() Bootstrap {
	return s.config.bootstrap
}

// Call handles one request envelope and returns the response envelope. It
// returns false when there is nothing to send back: the envelope had no
// recoverable id, or the session was closed before the call completed.
func (s *Session) Call(ctx context.Context, request string) (string, bool) {
	if s.isClosed() {
		return "", false
	}

	out, ok := s.dispatcher.Serve(ctx, []byte(request))
	if !ok {
		return "", false
	}
	if s.isClosed() {
		s.logger.Debug("Dropped response after session close")
		return "", false
	}
	return string(out), true
}

// RegisterEventCallback runs handler in the script every time name fires.
func (s *Session) RegisterEventCallback(name, handler string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.router.Register(name, handler); err != nil {
		if errors.Is(err, events.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Deliver pushes a host event to this session only.
func (s *Session) Deliver(name string, payload json.RawMessage) error {
	if err := s.router.Deliver(name, payload); err != nil {
		if errors.Is(err, events.ErrClosed) || errors.Is(err, channel.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Inject runs code in the script context.
func (s *Session) Inject(code string) error {
	if err := s.owner.Post(code); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// OnAlert shows message and resolves completion once the user dismissed it.
// It returns false when the session can no longer handle dialogs.
func (s *Session) OnAlert(message string, completion modal.Completion) bool {
	return s.submit(modal.NewAlert(s.config.dialogTitle, message), completion)
}

// OnConfirm asks the user to confirm message.
func (s *Session) OnConfirm(message string, completion modal.Completion) bool {
	return s.submit(modal.NewConfirm(s.config.dialogTitle, message), completion)
}

// OnPrompt asks the user for a value.
func (s *Session) OnPrompt(message string, defaultValue *string, completion modal.Completion) bool {
	return s.submit(modal.NewPrompt(s.config.dialogTitle, message, defaultValue), completion)
}

func (s *Session) submit(req modal.Request, completion modal.Completion) bool {
	if s.isClosed() {
		return false
	}
	return s.modal.Submit(req, completion)
}

// ResumeCompletion returns a Completion that resumes the interaction parked
// under id in the script by injecting <Constructor>.resume(id, outcome).
func (s *Session) ResumeCompletion(id int64) modal.Completion {
	return modal.CompletionFunc(func(outcome modal.Outcome) {
		if s.isClosed() {
			s.logger.Debug("Dropped modal resumption after session close")
			return
		}
		code, err := s.config.bootstrap.ResumeCode(id, outcome)
		if err != nil {
			s.logger.WithErr(err).Error("Failed to render modal resumption")
			return
		}
		if err := s.owner.Post(code); err != nil {
			s.logger.WithErr(err).Debug("Dropped modal resumption")
		}
	})
}

// Close tears the session down. Pending injections are dropped at once, then
// event delivery stops, the modal worker is cancelled and finally the script
// channel is released.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		// Nothing queued from here on may reach the script.
		s.owner.Stop()

		if s.config.source != nil {
			s.config.source.RemoveObserver(s.router)
		}
		s.router.Close()
		s.modal.Close()
		s.closeErr = s.owner.Close()

		if s.config.journal != nil && s.config.forgetCalls {
			if err := s.config.journal.Forget(context.Background(), s.config.id); err != nil {
				s.logger.WithErr(err).Warn("Failed to forget session calls")
			}
		}

		s.logger.Debug("Session closed")
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

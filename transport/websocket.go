package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// WebSocketConn carries frames as WebSocket text messages.
type WebSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketConn wraps an established connection.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// ReadFrame reads the next message. Closing the conn unblocks it.
func (c *WebSocketConn) ReadFrame(ctx context.Context) (Frame, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}

	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// WriteFrame sends f. Writes are serialized.
func (c *WebSocketConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

// Close closes the connection.
func (c *WebSocketConn) Close() error {
	return c.conn.Close()
}

// WebSocketHandler upgrades requests and serves one session per connection.
type WebSocketHandler struct {
	newSession SessionFactory
	upgrader   websocket.Upgrader
	logger     observability.Logger
	baseCtx    context.Context
}

// HandlerOption is a function that modifies a WebSocketHandler
type HandlerOption func(*WebSocketHandler)

// UseLogger sets the logger
func UseLogger(logger observability.Logger) HandlerOption {
	return func(h *WebSocketHandler) {
		h.logger = logger
	}
}

// UseAllowedOrigins restricts the accepted Origin headers. "*" accepts any.
func UseAllowedOrigins(origins []string) HandlerOption {
	return func(h *WebSocketHandler) {
		h.upgrader.CheckOrigin = makeOriginChecker(origins)
	}
}

// UseBaseContext ends every connection once ctx is done.
func UseBaseContext(ctx context.Context) HandlerOption {
	return func(h *WebSocketHandler) {
		h.baseCtx = ctx
	}
}

// NewWebSocketHandler creates a handler that starts sessions with newSession.
func NewWebSocketHandler(newSession SessionFactory, opts ...HandlerOption) *WebSocketHandler {
	h := &WebSocketHandler{
		newSession: newSession,
		upgrader: websocket.Upgrader{
			CheckOrigin: makeOriginChecker(nil),
		},
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = observability.OrNull(h.logger)
	return h
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithErr(err).Warn("Failed to upgrade connection")
		return
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	if err := Serve(ctx, NewWebSocketConn(conn), h.newSession, h.logger); err != nil {
		h.logger.WithErr(err).Warn("WebSocket session ended with error")
	}
}

func makeOriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

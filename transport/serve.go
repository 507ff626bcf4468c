package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	scriptbridge "github.com/shaharia-lab/scriptbridge"
	"github.com/shaharia-lab/scriptbridge/channel"
	"github.com/shaharia-lab/scriptbridge/modal"
	"github.com/shaharia-lab/scriptbridge/observability"
)

// SessionFactory creates the session for a new connection.
type SessionFactory func(ch channel.ScriptChannel) (*scriptbridge.Session, error)

// Serve runs one session on conn until the runtime disconnects or ctx is done.
// The session is closed before conn.
func Serve(ctx context.Context, conn Conn, newSession SessionFactory, logger observability.Logger) error {
	logger = observability.OrNull(logger)

	session, err := newSession(&remoteChannel{conn: conn})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger = logger.WithFields(map[string]interface{}{
		observability.SessionIDLogField: session.ID(),
	})
	logger.Info("Remote runtime connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return readFrames(ctx, conn, session, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := session.Close(); err != nil {
			logger.WithErr(err).Warn("Failed to close session")
		}
		if err := conn.Close(); err != nil {
			logger.WithErr(err).Debug("Failed to close connection")
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Remote runtime disconnected")
	return err
}

func readFrames(ctx context.Context, conn Conn, session *scriptbridge.Session, logger observability.Logger) error {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || isDisconnect(err) {
				return nil
			}
			if errors.Is(err, ErrMalformedFrame) {
				logger.WithErr(err).Warn("Ignoring malformed frame")
				continue
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		handleFrame(ctx, conn, session, f, logger)
	}
}

func handleFrame(ctx context.Context, conn Conn, session *scriptbridge.Session, f Frame, logger observability.Logger) {
	switch f.Type {
	case FrameCall:
		response, ok := session.Call(ctx, f.Payload)
		if !ok {
			return
		}
		if err := conn.WriteFrame(Frame{Type: FrameResponse, Payload: response}); err != nil {
			logger.WithErr(err).Warn("Failed to write response")
		}

	case FrameRegister:
		if err := session.RegisterEventCallback(f.Event, f.Handler); err != nil {
			logger.WithFields(map[string]interface{}{observability.EventLogField: f.Event}).
				WithErr(err).Warn("Failed to register event callback")
		}

	case FrameModal:
		kind, ok := modal.ParseKind(f.Kind)
		if !ok {
			logger.Warnf("Ignoring modal frame with unknown kind %q", f.Kind)
			return
		}
		completion := session.ResumeCompletion(f.ID)
		var handled bool
		switch kind {
		case modal.Alert:
			handled = session.OnAlert(f.Message, completion)
		case modal.Confirm:
			handled = session.OnConfirm(f.Message, completion)
		case modal.Prompt:
			handled = session.OnPrompt(f.Message, f.Default, completion)
		}
		if !handled {
			logger.Debugf("Modal interaction %d not handled", f.ID)
		}

	default:
		logger.Warnf("Ignoring frame with unknown type %q", f.Type)
	}
}

func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

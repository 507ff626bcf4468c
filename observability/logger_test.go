package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &DefaultLogger{Logger: log.New(buf, "", 0), fields: map[string]interface{}{}}

	logger.WithFields(map[string]interface{}{
		SessionIDLogField: "s-1",
		MethodLogField:    "ping",
	}).WithErr(errors.New("boom")).Errorf("Invocation error: %d", 7)

	assert.Equal(t, "[method=ping session_id=s-1 error=boom] [ERROR] Invocation error: 7\n", buf.String())
}

func TestDefaultLogger_WithFieldsDoesNotMutateParent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := &DefaultLogger{Logger: log.New(buf, "", 0), fields: map[string]interface{}{}}

	_ = parent.WithFields(map[string]interface{}{EventLogField: "battery"})
	parent.Info("plain")

	assert.Equal(t, "[INFO] plain\n", buf.String())
}

func TestLogrusLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := logrus.New()
	base.SetOutput(buf)
	base.SetLevel(logrus.DebugLevel)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	logger := NewLogrusLogger(base).
		WithFields(map[string]interface{}{RequestIDLogField: 3}).
		WithContext(context.Background())
	logger.Debugf("Received: %s", "{}")

	out := buf.String()
	assert.Contains(t, out, "Received: {}")
	assert.Contains(t, out, "request_id=3")
}

func TestSlogLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger := NewSlogLogger(base).WithFields(map[string]interface{}{SessionIDLogField: "s-1"})
	logger.Debug("hidden")
	logger.WithErr(errors.New("boom")).Warnf("Dropped %d injections", 2)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "Dropped 2 injections", record["msg"])
	assert.Equal(t, "s-1", record[SessionIDLogField])
	assert.Equal(t, "boom", record[ErrorLogField])
}

func TestNullLoggerAndOrNull(t *testing.T) {
	logger := OrNull(nil)
	require.IsType(t, &NullLogger{}, logger)

	assert.NotPanics(t, func() {
		logger.WithErr(errors.New("x")).WithFields(nil).Errorf("%s", "ignored")
	})

	custom := NewDefaultLogger()
	assert.Same(t, custom, OrNull(custom))
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span")
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() { EndSpan(span, errors.New("failed")) })
}

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/soarkit/pkg/schema"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", StateName(ctx))
	assert.Equal(t, "", InvestigationID(ctx))

	ctx = WithExecutionID(ctx, "exec-123")
	ctx = WithStateName(ctx, "Enrich_IP")
	ctx = WithInvestigationID(ctx, "inv-9")

	assert.Equal(t, "exec-123", ExecutionID(ctx))
	assert.Equal(t, "Enrich_IP", StateName(ctx))
	assert.Equal(t, "inv-9", InvestigationID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "exec-abc", "Notify")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "execution_id=exec-abc")
	assert.Contains(t, output, "state_name=Notify")
	assert.NotContains(t, output, "investigation_id")
	assert.Contains(t, output, "test message")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithInvestigationID(WithIDs(context.Background(), "exec-auto", "state-auto"), "inv-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"execution_id":"exec-auto"`)
	assert.Contains(t, output, `"state_name":"state-auto"`)
	assert.Contains(t, output, `"investigation_id":"inv-auto"`)
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "execution_id")
	assert.NotContains(t, output, "state_name")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "events")

	logger.InfoContext(WithExecutionID(context.Background(), "exec-1"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"component":"events"`)
	assert.Contains(t, output, `"execution_id":"exec-1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept")

	output := buf.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, "kept")
	assert.Contains(t, output, `"service":"soarkit"`)
}

func TestLogThenError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	in := schema.NewError(schema.ErrCodeDeliveryFailed, "response_delivery_failed").
		WithCause(errors.New("boom")).
		WithDetails(map[string]any{"message_id": "abc123"})
	err := LogThenError(context.Background(), logger, in)

	assert.Same(t, in, err)
	output := buf.String()
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, `"code":"RESPONSE_DELIVERY_FAILED"`)
	assert.Contains(t, output, `"message_id":"abc123"`)
	assert.Contains(t, output, `"error":"boom"`)
}

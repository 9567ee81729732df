package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestRedact(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, true)
	logger.Info("connect", "addr", "cache:6379", "password", "hunter2", "Token", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache:6379", line["addr"])
	assert.Equal(t, "[REDACTED]", line["password"])
	assert.Equal(t, "[REDACTED]", line["Token"])
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, false)
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "propgraph", "test", "")
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "init-check")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInstrumentsAreNilSafe(t *testing.T) {
	ctx := context.Background()
	var inst *Instruments
	inst.RecordMutation(ctx, "addNode", true)
	inst.RecordHandlerFailure(ctx, "graphUpdate")
	inst.RecordSnapshot(ctx, time.Now(), nil)

	inst, err := NewInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	inst.RecordMutation(ctx, "addNode", false)
	inst.RecordSnapshot(ctx, time.Now(), assert.AnError)
}

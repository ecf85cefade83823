package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Orbit/internal/domain"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewLogger_JSONWithKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "INFO", "json")

	key := domain.TriggerKey{Flow: domain.FlowKey{Tenant: "main", Namespace: "ns", FlowID: "f"}, TriggerID: "hourly"}
	WithTriggerKey(logger, key).Info("evaluated")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "main/ns/f", line["flow"])
	assert.Equal(t, "hourly", line["trigger"])
}

func TestFromContext(t *testing.T) {
	logger := DiscardLogger()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestSetupTracing_Disabled(t *testing.T) {
	tracer, shutdown, err := SetupTracing(context.Background(), "orbit-test", false)
	require.NoError(t, err)
	_, span := StartSpan(context.Background(), tracer, "tick")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

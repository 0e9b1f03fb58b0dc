package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithTraceContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	FromContext(ctx).Info("polling")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, serviceName, fields["service"])
}

func TestPackageLevelHelpers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	Info("started", zap.String("port", "8081"))
	Warn("slow gateway")
	Error("gateway unreachable")

	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "8081", logs.All()[0].ContextMap()["port"])
	assert.Equal(t, zap.WarnLevel, logs.All()[1].Level)
	assert.Equal(t, zap.ErrorLevel, logs.All()[2].Level)
}

func TestNoopByDefault(t *testing.T) {
	SetLogger(nil)
	assert.NotPanics(t, func() {
		Info("nothing configured")
		_ = Sync()
		_ = Shutdown(context.Background())
	})
}

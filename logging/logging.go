package logging

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger stays a no-op until InitLogger runs, so library packages can log from tests.
var logger = zap.NewNop()
var loggerProvider *sdklog.LoggerProvider
var serviceName = "pushpay-service"

// InitLogger initializes the structured logger and, when reachable, the OTLP log exporter
func InitLogger(service, otlpEndpoint string) error {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "msg"
	config.EncoderConfig.LevelKey = "level"

	built, err := config.Build(
		zap.AddCallerSkip(1), // Skip wrapper functions in stack trace
	)
	if err != nil {
		return err
	}
	logger = built
	if service != "" {
		serviceName = service
	}

	ctx := context.Background()

	exporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(otlpEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		logger.Warn("Failed to create OTLP log exporter, logs will only go to stdout", zap.Error(err))
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		logger.Warn("Failed to create resource", zap.Error(err))
		return nil
	}

	loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(loggerProvider)

	logger.Info("OTLP logging configured successfully")

	return nil
}

// SetLogger replaces the global logger; tests use it with zaptest/observer
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	return logger
}

// WithTraceContext adds trace context to logger
func WithTraceContext(span trace.Span) *zap.Logger {
	if span != nil && span.SpanContext().IsValid() {
		ctx := span.SpanContext()
		return logger.With(
			zap.String("trace_id", ctx.TraceID().String()),
			zap.String("span_id", ctx.SpanID().String()),
			zap.String("service", serviceName),
		)
	}
	return logger.With(zap.String("service", serviceName))
}

// FromContext is WithTraceContext for the span carried by ctx
func FromContext(ctx context.Context) *zap.Logger {
	return WithTraceContext(trace.SpanFromContext(ctx))
}

// Info logs an info message with structured fields
func Info(msg string, fields ...zap.Field) {
	logger.With(zap.String("service", serviceName)).Info(msg, fields...)
}

// Warn logs a warning message with structured fields
func Warn(msg string, fields ...zap.Field) {
	logger.With(zap.String("service", serviceName)).Warn(msg, fields...)
}

// Error logs an error message with structured fields
func Error(msg string, fields ...zap.Field) {
	logger.With(zap.String("service", serviceName)).Error(msg, fields...)
}

// Fatal logs a fatal message with structured fields and exits
func Fatal(msg string, fields ...zap.Field) {
	logger.With(zap.String("service", serviceName)).Fatal(msg, fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Shutdown gracefully shuts down the logger provider
func Shutdown(ctx context.Context) error {
	if loggerProvider != nil {
		return loggerProvider.Shutdown(ctx)
	}
	return nil
}

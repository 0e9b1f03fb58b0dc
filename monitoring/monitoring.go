package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/logging"
)

var (
	// OpenTelemetry metrics
	AttemptsStarted      metric.Int64Counter
	AttemptOutcomes      metric.Int64Counter
	StatusPolls          metric.Int64Counter
	TransientQueryErrors metric.Int64Counter
	AttemptDuration      metric.Float64Histogram
	PaymentAmount        metric.Float64Histogram
	GatewayCallDuration  metric.Float64Histogram
	HTTPServerDuration   metric.Float64Histogram
)

func init() {
	// Instruments are usable before InitMeter; they record nothing until then.
	if err := registerInstruments(noop.NewMeterProvider().Meter("noop")); err != nil {
		panic(err)
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics. exporter is "otlp" (push to the
// collector at endpoint) or "prometheus" (pull, served by promhttp on /metrics).
func InitMeter(serviceName, endpoint, exporter string) (*sdkmetric.MeterProvider, metric.Meter, error) {
	ctx := context.Background()

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	var reader sdkmetric.Reader
	switch exporter {
	case "prometheus":
		promExporter, err := otelprom.New()
		if err != nil {
			return nil, nil, err
		}
		reader = promExporter
	case "otlp", "":
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		reader = sdkmetric.NewPeriodicReader(metricExporter)
	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	if err := registerInstruments(meter); err != nil {
		return nil, nil, err
	}

	logging.Info("Metrics initialized",
		zap.String("exporter", exporter),
		zap.String("endpoint", endpoint),
	)

	return mp, meter, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
}

func registerInstruments(meter metric.Meter) error {
	var err error

	AttemptsStarted, err = meter.Int64Counter(
		"push_payment_attempts_started_total",
		metric.WithDescription("Push payment attempts that passed validation"),
	)
	if err != nil {
		return err
	}

	AttemptOutcomes, err = meter.Int64Counter(
		"push_payment_attempt_outcomes_total",
		metric.WithDescription("Terminal outcomes of push payment attempts, by state"),
	)
	if err != nil {
		return err
	}

	StatusPolls, err = meter.Int64Counter(
		"push_payment_status_polls_total",
		metric.WithDescription("Status queries issued to the payment gateway"),
	)
	if err != nil {
		return err
	}

	TransientQueryErrors, err = meter.Int64Counter(
		"push_payment_transient_query_errors_total",
		metric.WithDescription("Status queries that failed at the transport level"),
	)
	if err != nil {
		return err
	}

	AttemptDuration, err = meter.Float64Histogram(
		"push_payment_attempt_duration_seconds",
		metric.WithDescription("Wall-clock time from start to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	PaymentAmount, err = meter.Float64Histogram(
		"push_payment_amount",
		metric.WithDescription("Requested push payment amounts"),
	)
	if err != nil {
		return err
	}

	GatewayCallDuration, err = meter.Float64Histogram(
		"payment_gateway_call_duration_seconds",
		metric.WithDescription("Duration of payment gateway calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/solar-placement/internal/logging"
)

const (
	DefaultServiceName  = "solar-placement"
	DefaultOTLPEndpoint = "localhost:4317"

	serviceNamespace = "placement"
	shutdownTimeout  = 5 * time.Second
)

// Environment variables read by TracingConfigFromEnv.
const (
	EnvTracingEnabled     = "PLACEMENT_TRACING_ENABLED"
	EnvTracingExporter    = "PLACEMENT_TRACING_EXPORTER"
	EnvTracingServiceName = "PLACEMENT_TRACING_SERVICE_NAME"
	EnvTracingSampleRatio = "PLACEMENT_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint       = "PLACEMENT_OTLP_ENDPOINT"
)

// TracingConfig selects where Generate, settle and sampling spans go.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "otlp"; Endpoint applies to otlp only.
	Exporter    string
	Endpoint    string
	SampleRatio float64
}

// DefaultTracingConfig has tracing off, pretty-printed to stdout once
// enabled, sampling every layout.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: DefaultServiceName,
		Exporter:    "stdout",
		Endpoint:    DefaultOTLPEndpoint,
		SampleRatio: 1,
	}
}

// TracingConfigFromEnv overlays the PLACEMENT_TRACING_* variables on
// DefaultTracingConfig. A sample ratio outside [0, 1] or an unknown
// exporter is an error.
func TracingConfigFromEnv() (TracingConfig, error) {
	cfg := DefaultTracingConfig()
	if v := env(EnvTracingEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("%s: %w", EnvTracingEnabled, err)
		}
		cfg.Enabled = enabled
	}
	if v := env(EnvTracingExporter); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}
	if v := env(EnvTracingServiceName); v != "" {
		cfg.ServiceName = v
	}
	if v := env(EnvOTLPEndpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := env(EnvTracingSampleRatio); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("%s: %w", EnvTracingSampleRatio, err)
		}
		cfg.SampleRatio = ratio
	}
	return cfg, cfg.Validate()
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// Validate reports a config InitTracing would refuse.
func (c TracingConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	switch c.Exporter {
	case "stdout", "otlp", "":
		return nil
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.Exporter)
	}
}

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes buffered spans. When tracing is disabled a noop
// provider is installed, so spans opened by the engine cost nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing layouts",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == "otlp" {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(os.Stdout),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

// ShutdownWithTimeout flushes spans on the way out. Errors are logged.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

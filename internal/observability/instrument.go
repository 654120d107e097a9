package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/toolgate/toolgate"

// Instrument installs the process-wide default logger. Supported formats are
// text, json and otel; the otel format emits OTLP log records to endpoint
// (stdout when endpoint is empty).
func Instrument(ctx context.Context, level slog.Level, logFormat, endpoint string) (shutdown func(context.Context) error, err error) {
	var handler slog.Handler
	shutdown = func(context.Context) error { return nil }

	switch strings.ToLower(logFormat) {
	case "otel":
		handler, shutdown, err = newOTelHandler(ctx, level, endpoint)
	default:
		handler, err = newStdoutHandler(level, logFormat)
	}
	if err != nil {
		return nil, err
	}

	slog.SetDefault(slog.New(newTraceContextHandler(handler)))

	return shutdown, nil
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text, otel)", logFormat)
	}

	return handler, nil
}

// newOTelHandler creates a handler bridging slog records into the OpenTelemetry
// log pipeline. Records below level are dropped before they reach the exporter.
func newOTelHandler(ctx context.Context, level slog.Level, endpoint string) (slog.Handler, func(context.Context) error, error) {
	exporter, err := newLogExporter(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	handler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))

	return handler, provider.Shutdown, nil
}

func newLogExporter(ctx context.Context, endpoint string) (sdklog.Exporter, error) {
	if endpoint == "" {
		return stdoutlog.New()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "grpc":
		return otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(u.Host), otlploggrpc.WithInsecure())
	case "http", "https":
		return otlploghttp.New(ctx, otlploghttp.WithEndpointURL(endpoint))
	default:
		return nil, fmt.Errorf("unsupported OTLP endpoint scheme %q (expected: grpc, http, https)", u.Scheme)
	}
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

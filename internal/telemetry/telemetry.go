// Package telemetry wires structured logging for the process: a plain
// slog.JSONHandler by default, upgraded to the OpenTelemetry-bridged
// handler when an OTLP log endpoint is configured — the same fallback
// shape the teacher pairs otelslog with plain slog for.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/sdk/log"
)

// Options configures the logger. OTLPEndpoint == "" falls back to plain
// JSON-to-stderr logging.
type Options struct {
	ServiceName  string
	Level        slog.Level
	OTLPEndpoint string
}

// Shutdown flushes any buffered exporter state; it is a no-op when no OTEL
// provider was constructed.
type Shutdown func(context.Context) error

// New builds the process-wide *slog.Logger and its shutdown func.
func New(opts Options) (*slog.Logger, Shutdown, error) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	if opts.OTLPEndpoint == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlploggrpc.New(context.Background(), otlploggrpc.WithEndpoint(opts.OTLPEndpoint), otlploggrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
	}

	provider := log.NewLoggerProvider(log.WithProcessor(log.NewBatchProcessor(exporter)))
	bridged := otelslog.NewHandler(opts.ServiceName, otelslog.WithLoggerProvider(provider))

	logger := slog.New(bridged)
	shutdown := func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	}
	return logger, shutdown, nil
}

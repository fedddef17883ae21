package main

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/config"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/registry"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/session"
)

// newLogger builds the process logger writing to w.
func newLogger(cfg *config.Config, w io.Writer) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	if cfg.LogFormat == config.FormatJSON {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core).With(zap.String("mode", cfg.Mode)), nil
}

// installLogger routes every package's logs to l.
func installLogger(l *zap.Logger) {
	registry.SetLogger(l.Named("registry"))
	runtime.SetLogger(l.Named("runtime"))
	session.SetLogger(l.Named("session"))
	compiler.SetLogger(l.Named("compiler"))
	host.SetLogger(l.Named("host"))
}

// telemetry owns the tracer provider for the process.
type telemetry struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// newTelemetry prints spans to w when enabled, and traces nothing
// otherwise.
func newTelemetry(enabled bool, w io.Writer) (*telemetry, error) {
	if !enabled {
		return &telemetry{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return &telemetry{provider: tp, shutdown: tp.Shutdown}, nil
}

// TracerProvider returns the provider sessions and HTTP middleware use.
func (t *telemetry) TracerProvider() trace.TracerProvider { return t.provider }

// Shutdown flushes pending spans.
func (t *telemetry) Shutdown(ctx context.Context) error { return t.shutdown(ctx) }

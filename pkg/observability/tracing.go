// Package observability configures tracing for scriptwatch.
package observability

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/amazonlinux/bottlerocket/scriptwatch"

var (
	tracerOnce sync.Once
	shutdownFn func(context.Context) error
)

// InitTracing installs the global tracer provider. exporter is one of "",
// "none", "stdout" or "stderr". The returned function flushes and stops the
// provider.
func InitTracing(service, exporter string) (func(context.Context) error, error) {
	var initErr error
	tracerOnce.Do(func() {
		exporter = strings.ToLower(strings.TrimSpace(exporter))
		if exporter == "" || exporter == "none" {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			return
		}

		var opts []stdouttrace.Option
		switch exporter {
		case "stdout":
			opts = append(opts, stdouttrace.WithPrettyPrint())
		case "stderr":
			opts = append(opts, stdouttrace.WithWriter(os.Stderr))
		default:
			initErr = errors.Errorf("unknown trace exporter %q", exporter)
			return
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			initErr = errors.Wrap(err, "trace exporter")
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", service),
			)),
		)
		otel.SetTracerProvider(tp)
		shutdownFn = tp.Shutdown
	})
	if shutdownFn == nil {
		return func(context.Context) error { return nil }, initErr
	}
	return shutdownFn, initErr
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

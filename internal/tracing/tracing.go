// Package tracing wraps pipeline stages in opentracing spans backed by
// Jaeger when enabled.
package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init installs a Jaeger tracer as the global tracer. When disabled the
// no-op tracer is installed instead.
func Init(cfg config.TracingConfig) (io.Closer, error) {
	if !cfg.Enabled {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
		return nopCloser{}, nil
	}

	jc := &jaegercfg.Configuration{
		ServiceName: cfg.ServiceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			CollectorEndpoint: cfg.Endpoint,
		},
	}
	tracer, closer, err := jc.NewTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartSpan starts a child of the span in ctx
func StartSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operationName)
}

// Stage runs fn inside a span named name
func Stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	span, ctx := StartSpan(ctx, name)
	err := fn(ctx)
	FinishSpan(span, err)
	return err
}

// FinishSpan finishes span, marking it failed when err is non-nil
func FinishSpan(span opentracing.Span, err error) {
	if span == nil {
		return
	}
	LogError(span, err)
	span.Finish()
}

// LogError marks span failed with err
func LogError(span opentracing.Span, err error) {
	if span != nil && err != nil {
		span.SetTag("error", true)
		span.LogKV("error", err.Error())
	}
}

// SetTag sets a tag on span
func SetTag(span opentracing.Span, key string, value interface{}) {
	if span != nil {
		span.SetTag(key, value)
	}
}

package opentelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"typedrpc/rpc"
	"typedrpc/rpc/message"
)

const instrumentationName = "typedrpc/observability/opentelemetry"

type ClientInterceptorBuilder struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewClientInterceptorBuilder falls back to the global tracer provider and
// propagator for nil arguments.
func NewClientInterceptorBuilder(tracer trace.Tracer, propagator propagation.TextMapPropagator) *ClientInterceptorBuilder {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &ClientInterceptorBuilder{tracer: tracer, propagator: propagator}
}

// Build starts a client span per call and writes the trace context into the
// request meta, so the server side can continue the trace.
func (b *ClientInterceptorBuilder) Build() rpc.Interceptor {
	return func(next rpc.Proxy) rpc.Proxy {
		return rpc.ProxyFunc(func(ctx context.Context, req *message.Request) (resp *message.Response, err error) {
			ctx, span := b.tracer.Start(ctx, spanName(req),
				trace.WithAttributes(attributes(req, "client")...),
				trace.WithSpanKind(trace.SpanKindClient))
			defer func() {
				finish(span, resp, err)
			}()
			inject(ctx, b.propagator, req)
			resp, err = next.Invoke(ctx, req)
			return
		})
	}
}

type ServerInterceptorBuilder struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func NewServerInterceptorBuilder(tracer trace.Tracer, propagator propagation.TextMapPropagator) *ServerInterceptorBuilder {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &ServerInterceptorBuilder{tracer: tracer, propagator: propagator}
}

// Build continues the trace found in the request meta with a server span.
func (b *ServerInterceptorBuilder) Build() rpc.Interceptor {
	return func(next rpc.Proxy) rpc.Proxy {
		return rpc.ProxyFunc(func(ctx context.Context, req *message.Request) (resp *message.Response, err error) {
			ctx = b.propagator.Extract(ctx, propagation.MapCarrier(req.Meta))
			ctx, span := b.tracer.Start(ctx, spanName(req),
				trace.WithAttributes(attributes(req, "server")...),
				trace.WithSpanKind(trace.SpanKindServer))
			defer func() {
				finish(span, resp, err)
			}()
			resp, err = next.Invoke(ctx, req)
			return
		})
	}
}

func spanName(req *message.Request) string {
	return req.Service + "/" + req.Procedure
}

func attributes(req *message.Request, component string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.RPCSystemKey.String("typedrpc"),
		semconv.RPCServiceKey.String(req.Service),
		semconv.RPCMethodKey.String(req.Procedure),
		attribute.Key("rpc.component").String(component),
		attribute.Key("rpc.message_id").Int64(int64(req.MessageId)),
	}
}

// inject adds the trace context to req.Meta. The head length changes with
// the meta, so it is recomputed.
func inject(ctx context.Context, propagator propagation.TextMapPropagator, req *message.Request) {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	meta := make(map[string]string, len(req.Meta)+len(carrier))
	for k, v := range req.Meta {
		meta[k] = v
	}
	for k, v := range carrier {
		meta[k] = v
	}
	req.Meta = meta
	req.CalculateHeaderLength()
}

func finish(span trace.Span, resp *message.Response, err error) {
	defer span.End()
	if err != nil {
		span.SetStatus(codes.Error, "transport failed")
		span.RecordError(err)
		return
	}
	if resp != nil && len(resp.Error) > 0 {
		e, derr := message.DecodeError(resp.Error)
		if derr != nil {
			span.SetStatus(codes.Error, "unreadable remote error")
			return
		}
		span.SetAttributes(attribute.Key("rpc.error.name").String(e.Name))
		span.SetStatus(codes.Error, e.Description)
		return
	}
	span.SetStatus(codes.Ok, "OK")
}

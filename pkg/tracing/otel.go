package tracing

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/homer-bot/homerbot/pkg/tracing"

// Span attribute keys.
const (
	AttrSpanKind      = "llm.span.kind"
	AttrModelName     = "llm.model_name"
	AttrModelProvider = "llm.model_provider"
	AttrCallID        = "llm.call_id"
	AttrMLApp         = "ml_app"
	AttrInput         = "llm.input.messages"
	AttrOutput        = "llm.output.messages"
	AttrInputTokens   = "llm.metrics.input_tokens"
	AttrOutputTokens  = "llm.metrics.output_tokens"
	AttrTotalTokens   = "llm.metrics.total_tokens"
	AttrTTFT          = "llm.metrics.time_to_first_token"
	AttrTemperature   = "llm.metadata.temperature"
	AttrMaxTokens     = "llm.metadata.max_tokens"
	AttrStreaming     = "llm.metadata.streaming"
)

// OTelSink emits spans through an OpenTelemetry TracerProvider.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates a sink backed by tp.
func NewOTelSink(tp trace.TracerProvider) *OTelSink {
	return &OTelSink{tracer: tp.Tracer(instrumentationName)}
}

// Start implements SpanSink.
func (s *OTelSink) Start(ctx context.Context, info SpanInfo) Span {
	_, span := s.tracer.Start(ctx, info.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrSpanKind, info.Kind),
			attribute.String(AttrModelName, info.Model),
			attribute.String(AttrModelProvider, info.Provider),
			attribute.String(AttrCallID, info.CallID),
		),
	)
	return &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) Annotate(a Annotation) {
	attrs := []attribute.KeyValue{
		attribute.Float64(AttrTemperature, float64(a.Metadata.Temperature)),
		attribute.Int(AttrMaxTokens, a.Metadata.MaxTokens),
		attribute.Bool(AttrStreaming, a.Metadata.Streaming),
	}
	if a.Metadata.MLApp != "" {
		attrs = append(attrs, attribute.String(AttrMLApp, a.Metadata.MLApp))
	}
	if a.Input != nil {
		attrs = append(attrs, attribute.String(AttrInput, marshal(a.Input)))
	}
	if a.Output != nil {
		attrs = append(attrs, attribute.String(AttrOutput, marshal(a.Output)))
	}
	if a.Metrics.InputTokens != nil {
		attrs = append(attrs, attribute.Int(AttrInputTokens, *a.Metrics.InputTokens))
	}
	if a.Metrics.OutputTokens != nil {
		attrs = append(attrs, attribute.Int(AttrOutputTokens, *a.Metrics.OutputTokens))
	}
	if a.Metrics.TotalTokens != nil {
		attrs = append(attrs, attribute.Int(AttrTotalTokens, *a.Metrics.TotalTokens))
	}
	if a.Metrics.TimeToFirstToken != nil {
		attrs = append(attrs, attribute.Float64(AttrTTFT, *a.Metrics.TimeToFirstToken))
	}
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

package tracing

import (
	"context"

	"github.com/homer-bot/homerbot/pkg/models"
)

// SpanKindLLM marks spans that wrap a single model call.
const SpanKindLLM = "llm"

// SpanInfo describes a span at the moment it is opened.
type SpanInfo struct {
	Name     string
	Kind     string
	Model    string
	Provider string
	CallID   string
}

// Metrics are the numeric annotations read by span consumers at close time.
// Nil fields were not measured.
type Metrics struct {
	InputTokens      *int
	OutputTokens     *int
	TotalTokens      *int
	TimeToFirstToken *float64
}

// Metadata carries the call parameters.
type Metadata struct {
	Temperature float32
	MaxTokens   int
	Streaming   bool
	MLApp       string
}

// Annotation is attached to a span before it is closed.
type Annotation struct {
	Input    []models.ChatMessage
	Output   []models.ChatMessage
	Metrics  Metrics
	Metadata Metadata
}

// Span is an explicit handle to one open observability span. Annotate may be
// called any number of times before End; End is called exactly once.
type Span interface {
	Annotate(a Annotation)
	End(err error)
}

// SpanSink opens spans. Implementations must return an independent Span for
// every call.
type SpanSink interface {
	Start(ctx context.Context, info SpanInfo) Span
}

// NopSink discards spans.
type NopSink struct{}

// Start implements SpanSink.
func (NopSink) Start(context.Context, SpanInfo) Span { return nopSpan{} }

type nopSpan struct{}

func (nopSpan) Annotate(Annotation) {}
func (nopSpan) End(error)           {}

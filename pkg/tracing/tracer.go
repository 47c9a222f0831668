// Package tracing wraps model calls in observability spans and emits a
// structured summary of each call to logs, metrics and call recorders.
package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homer-bot/homerbot/pkg/metrics"
	"github.com/homer-bot/homerbot/pkg/models"
	"go.uber.org/zap"
)

// SpanName is the name given to every model call span.
const SpanName = "openai-chat-completion"

// InvokeFunc performs the wrapped model call.
type InvokeFunc func(ctx context.Context) (models.CompletionResult, error)

// Recorder persists a summary of a finished call. Recorders are best-effort:
// their errors are logged and never reach the caller.
type Recorder interface {
	RecordCall(ctx context.Context, rec models.CallRecord) error
}

// Call describes the model call being traced.
type Call struct {
	RequestID   string
	Model       string
	Provider    string
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature float32
	Streaming   bool
}

// Tracer opens one span per call and finalizes it exactly once.
type Tracer struct {
	sink      SpanSink
	log       *zap.Logger
	metrics   *metrics.Metrics
	recorders []Recorder
	mlApp     string
	now       func() time.Time

	wg sync.WaitGroup
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger sets the logger used for call summaries.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetrics sets the Prometheus collectors updated after each call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracer) {
		t.metrics = m
	}
}

// WithRecorders adds call recorders.
func WithRecorders(rs ...Recorder) Option {
	return func(t *Tracer) {
		for _, r := range rs {
			if r != nil {
				t.recorders = append(t.recorders, r)
			}
		}
	}
}

// WithMLApp tags spans and log records with an application name.
func WithMLApp(name string) Option {
	return func(t *Tracer) {
		t.mlApp = name
	}
}

// New creates a Tracer emitting spans to sink. A nil sink discards spans.
func New(sink SpanSink, opts ...Option) *Tracer {
	if sink == nil {
		sink = NopSink{}
	}
	t := &Tracer{
		sink: sink,
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Trace runs invoke inside a span. The span is annotated and closed before
// Trace returns, on success, on error and on panic. The result and error of
// invoke are returned unchanged.
func (t *Tracer) Trace(ctx context.Context, call Call, invoke InvokeFunc) (res models.CompletionResult, err error) {
	callID := uuid.NewString()
	span := t.start(ctx, SpanInfo{
		Name:     SpanName,
		Kind:     SpanKindLLM,
		Model:    call.Model,
		Provider: call.Provider,
		CallID:   callID,
	})

	finished := false
	defer func() {
		if finished {
			return
		}
		p := recover()
		t.finish(ctx, span, callID, call, res, fmt.Errorf("llm call aborted: %v", p))
		if p != nil {
			panic(p)
		}
	}()

	res, err = invoke(ctx)
	finished = true
	t.finish(ctx, span, callID, call, res, err)
	return res, err
}

// start opens a span; a sink that fails to open one gets a no-op span.
func (t *Tracer) start(ctx context.Context, info SpanInfo) (span Span) {
	span = nopSpan{}
	defer t.guard("span start")
	if sp := t.sink.Start(ctx, info); sp != nil {
		span = sp
	}
	return span
}

// Wait blocks until all in-flight recorder writes have completed.
func (t *Tracer) Wait() {
	t.wg.Wait()
}

func (t *Tracer) finish(ctx context.Context, span Span, callID string, call Call, res models.CompletionResult, err error) {
	func() {
		defer t.guard("span annotate")
		span.Annotate(t.annotation(call, res, err))
	}()
	func() {
		defer t.guard("span end")
		span.End(err)
	}()

	t.emitLog(call, res, err)
	func() {
		defer t.guard("metrics")
		t.metrics.ObserveCall(call.Model, res, err)
	}()
	t.record(ctx, callID, call, res, err)
}

func (t *Tracer) annotation(call Call, res models.CompletionResult, err error) Annotation {
	a := Annotation{
		Input: call.Messages,
		Metrics: Metrics{
			InputTokens:      res.Usage.PromptTokens,
			OutputTokens:     res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
			TimeToFirstToken: res.TimeToFirstToken,
		},
		Metadata: Metadata{
			Temperature: call.Temperature,
			MaxTokens:   call.MaxTokens,
			Streaming:   call.Streaming,
			MLApp:       t.mlApp,
		},
	}
	if err == nil || res.Text != "" {
		a.Output = []models.ChatMessage{{Role: models.RoleAssistant, Content: res.Text}}
	}
	return a
}

func (t *Tracer) emitLog(call Call, res models.CompletionResult, err error) {
	defer t.guard("log")

	fields := []zap.Field{
		zap.Dict("llm",
			zap.String("model", call.Model),
			zap.String("provider", call.Provider),
			zap.String("request_type", "chat"),
			zap.Bool("streaming", call.Streaming),
			zap.Int64("duration_ms", res.DurationMs),
			zap.Float64p("time_to_first_token_s", res.TimeToFirstToken),
			zap.Dict("tokens",
				zap.Intp("prompt", res.Usage.PromptTokens),
				zap.Intp("completion", res.Usage.CompletionTokens),
				zap.Intp("total", res.Usage.TotalTokens),
			),
		),
	}
	if t.mlApp != "" {
		fields = append(fields, zap.String("ml_app", t.mlApp))
	}
	if call.RequestID != "" {
		fields = append(fields, zap.String("request_id", call.RequestID))
	}
	if err != nil {
		t.log.Error("LLM API Call failed", append(fields, zap.Error(err))...)
		return
	}
	t.log.Info("LLM API Call", fields...)
}

func (t *Tracer) record(ctx context.Context, callID string, call Call, res models.CompletionResult, err error) {
	if len(t.recorders) == 0 {
		return
	}
	rec := models.CallRecord{
		ID:               callID,
		RequestID:        call.RequestID,
		Model:            call.Model,
		Provider:         call.Provider,
		Streaming:        call.Streaming,
		Input:            call.Messages,
		Output:           res.Text,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		TimeToFirstToken: res.TimeToFirstToken,
		DurationMs:       res.DurationMs,
		CreatedAt:        t.now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	bg := context.WithoutCancel(ctx)
	for _, r := range t.recorders {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.guard("recorder")
			if err := r.RecordCall(bg, rec); err != nil {
				t.log.Warn("record llm call", zap.String("call_id", rec.ID), zap.Error(err))
			}
		}()
	}
}

// guard keeps telemetry failures away from the caller.
func (t *Tracer) guard(stage string) {
	if p := recover(); p != nil {
		t.log.Warn("telemetry sink failed", zap.String("stage", stage), zap.Any("panic", p))
	}
}

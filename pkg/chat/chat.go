// Package chat runs one chat turn: validation, cache lookup, the traced model
// call and cache write-back.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/homer-bot/homerbot/pkg/cache"
	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/metrics"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/homer-bot/homerbot/pkg/tracing"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned for a request without a message. No cache
// or provider interaction happens for such a request.
var ErrInvalidRequest = errors.New("message is required")

// Settings are the model parameters applied to every call.
type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Streaming   bool
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Message string
	Usage   models.Usage
	Cached  bool
}

// Service handles chat turns. It is safe for concurrent use.
type Service struct {
	invoker  *completion.Invoker
	tracer   *tracing.Tracer
	cache    *cache.Cache
	persona  string
	settings Settings
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the response cache for single-turn requests.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the collectors for cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a Service. persona is sent as the system message of every call.
func New(inv *completion.Invoker, tr *tracing.Tracer, persona string, settings Settings, opts ...Option) *Service {
	s := &Service{
		invoker:  inv,
		tracer:   tr,
		persona:  persona,
		settings: settings,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reply answers req. Single-turn requests are served from the cache when a
// fresh entry exists; otherwise exactly one traced provider call is made.
// The provider call is detached from ctx cancellation so that a client
// disconnect never aborts a generation in flight.
func (s *Service) Reply(ctx context.Context, req models.ChatRequest) (Reply, error) {
	requestID := RequestIDFrom(ctx)
	if strings.TrimSpace(req.Message) == "" {
		s.log.Warn("Chat request missing message", zap.String("request_id", requestID))
		return Reply{}, ErrInvalidRequest
	}

	s.log.Info("Processing chat request",
		zap.String("request_id", requestID),
		zap.Int("message_length", len(req.Message)),
		zap.Int("history_length", len(req.History)),
	)

	hasHistory := !req.IsSingleTurn()
	if s.cache != nil {
		if entry, ok := s.cache.Lookup(req.Message, hasHistory); ok {
			s.metrics.ObserveCacheLookup(metrics.CacheHit)
			return Reply{Message: entry.ResponseText, Usage: entry.Usage, Cached: true}, nil
		}
		if hasHistory {
			s.metrics.ObserveCacheLookup(metrics.CacheBypass)
		} else {
			s.metrics.ObserveCacheLookup(metrics.CacheMiss)
		}
	}

	messages := s.buildMessages(req)
	call := tracing.Call{
		RequestID:   requestID,
		Model:       s.settings.Model,
		Provider:    s.invoker.ProviderName(),
		Messages:    messages,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
		Streaming:   s.settings.Streaming,
	}
	creq := completion.Request{
		Model:       s.settings.Model,
		Messages:    messages,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
		Streaming:   s.settings.Streaming,
	}

	res, err := s.tracer.Trace(context.WithoutCancel(ctx), call, func(ctx context.Context) (models.CompletionResult, error) {
		return s.invoker.Invoke(ctx, creq)
	})
	if err != nil {
		s.log.Error("Error processing chat request", zap.String("request_id", requestID), zap.Error(err))
		return Reply{}, err
	}

	if s.cache != nil && !hasHistory && res.Text != "" {
		s.cache.Store(req.Message, res.Text, res.Usage)
	}
	return Reply{Message: res.Text, Usage: res.Usage}, nil
}

func (s *Service) buildMessages(req models.ChatRequest) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(req.History)+2)
	if s.persona != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: s.persona})
	}
	messages = append(messages, req.History...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: req.Message})
	return messages
}

// Package completion issues model calls and normalizes streamed and
// non-streamed answers into a single result shape.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/homer-bot/homerbot/pkg/models"
	"k8s.io/utils/clock"
)

// Invoker performs exactly one provider call per Invoke. It never retries.
type Invoker struct {
	provider Provider
	clock    clock.PassiveClock
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithClock replaces the wall clock used for duration and TTFT.
func WithClock(c clock.PassiveClock) Option {
	return func(i *Invoker) {
		i.clock = c
	}
}

// NewInvoker creates an Invoker bound to provider.
func NewInvoker(p Provider, opts ...Option) *Invoker {
	i := &Invoker{provider: p, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ProviderName returns the name of the wrapped provider.
func (i *Invoker) ProviderName() string {
	return i.provider.Name()
}

// Invoke calls the provider in the mode selected by req.Streaming. On failure
// the returned result still carries whatever was measured before the error
// (partial text, TTFT, elapsed time) so callers can report it.
func (i *Invoker) Invoke(ctx context.Context, req Request) (models.CompletionResult, error) {
	if req.Streaming {
		return i.invokeStream(ctx, req)
	}
	return i.invokeOnce(ctx, req)
}

func (i *Invoker) invokeOnce(ctx context.Context, req Request) (models.CompletionResult, error) {
	start := i.clock.Now()

	resp, err := i.provider.Complete(ctx, req)
	result := models.CompletionResult{DurationMs: i.elapsedMs(start)}
	if err != nil {
		return result, fmt.Errorf("invoke completion: %w", err)
	}

	result.Text = resp.Text
	result.Usage = resp.Usage
	return result, nil
}

func (i *Invoker) invokeStream(ctx context.Context, req Request) (models.CompletionResult, error) {
	start := i.clock.Now()
	var result models.CompletionResult

	stream, err := i.provider.Stream(ctx, req)
	if err != nil {
		result.DurationMs = i.elapsedMs(start)
		return result, fmt.Errorf("invoke streaming completion: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Text = text.String()
			result.DurationMs = i.elapsedMs(start)
			return result, fmt.Errorf("invoke streaming completion: %w", err)
		}

		if frag.Content != "" {
			if result.TimeToFirstToken == nil {
				ttft := i.clock.Since(start).Seconds()
				result.TimeToFirstToken = &ttft
			}
			text.WriteString(frag.Content)
		}
		if frag.Usage != nil {
			result.Usage = *frag.Usage
		}
	}

	result.Text = text.String()
	result.DurationMs = i.elapsedMs(start)
	return result, nil
}

func (i *Invoker) elapsedMs(start time.Time) int64 {
	return i.clock.Since(start).Milliseconds()
}

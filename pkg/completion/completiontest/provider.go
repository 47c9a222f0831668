// Package completiontest provides a scripted completion.Provider for tests.
package completiontest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/models"
	testingclock "k8s.io/utils/clock/testing"
)

// Step is one scripted stream event. Delay advances Clock (when set) before
// the fragment or error is delivered.
type Step struct {
	Delay    time.Duration
	Fragment completion.Fragment
	Err      error
}

// Provider replays a fixed answer. It records every request it receives.
type Provider struct {
	ProviderName string
	Clock        *testingclock.FakeClock

	// Complete mode.
	Response      completion.Response
	CompleteDelay time.Duration
	CompleteErr   error

	// Stream mode.
	Steps     []Step
	StreamErr error

	mu       sync.Mutex
	requests []completion.Request
	closed   int
}

// Name implements completion.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "fake"
	}
	return p.ProviderName
}

// Complete implements completion.Provider.
func (p *Provider) Complete(_ context.Context, req completion.Request) (completion.Response, error) {
	p.record(req)
	p.advance(p.CompleteDelay)
	if p.CompleteErr != nil {
		return completion.Response{}, p.CompleteErr
	}
	return p.Response, nil
}

// Stream implements completion.Provider.
func (p *Provider) Stream(_ context.Context, req completion.Request) (completion.Stream, error) {
	p.record(req)
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	return &stream{p: p, steps: p.Steps}, nil
}

// Requests returns a copy of the recorded requests.
func (p *Provider) Requests() []completion.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]completion.Request(nil), p.requests...)
}

// Calls returns how many calls were issued.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// StreamsClosed returns how many streams were closed by the caller.
func (p *Provider) StreamsClosed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Provider) record(req completion.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *Provider) advance(d time.Duration) {
	if p.Clock != nil && d > 0 {
		p.Clock.Step(d)
	}
}

type stream struct {
	p     *Provider
	steps []Step
}

func (s *stream) Recv() (completion.Fragment, error) {
	if len(s.steps) == 0 {
		return completion.Fragment{}, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.p.advance(step.Delay)
	if step.Err != nil {
		return completion.Fragment{}, step.Err
	}
	return step.Fragment, nil
}

func (s *stream) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.closed++
	return nil
}

// Text is a convenience constructor for a content-only step.
func Text(delay time.Duration, content string) Step {
	return Step{Delay: delay, Fragment: completion.Fragment{Content: content}}
}

// Final is a convenience constructor for a terminal step carrying usage.
func Final(delay time.Duration, content string, usage models.Usage) Step {
	return Step{Delay: delay, Fragment: completion.Fragment{Content: content, Usage: &usage}}
}

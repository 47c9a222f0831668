package completion

import (
	"context"
	"errors"

	"github.com/homer-bot/homerbot/pkg/models"
)

// ErrEmptyResponse is returned when the provider answers without any choice.
var ErrEmptyResponse = errors.New("provider returned no choices")

// Request describes one model call.
type Request struct {
	Model       string
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature float32
	Streaming   bool
}

// Response is a complete, non-streamed provider answer.
type Response struct {
	Text  string
	Usage models.Usage
}

// Fragment is one incremental piece of a streamed answer. Usage is nil on
// every fragment except, at most, the terminal one.
type Fragment struct {
	Content string
	Usage   *models.Usage
}

// Stream yields fragments in arrival order. Recv returns io.EOF once the
// provider has sent its final marker.
type Stream interface {
	Recv() (Fragment, error)
	Close() error
}

// Provider is the outbound LLM backend.
type Provider interface {
	// Name identifies the provider in spans, logs and call records.
	Name() string
	// Complete blocks until the full answer is available.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream opens a streamed call that reports usage on its terminal fragment.
	Stream(ctx context.Context, req Request) (Stream, error)
}

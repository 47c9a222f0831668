// Package openai adapts an OpenAI-compatible chat completions API to
// completion.Provider.
package openai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI-backed completion.Provider.
type Client struct {
	name string
	api  *goopenai.Client
}

// New creates a Client. An empty baseURL keeps the SDK default endpoint; a
// zero timeout leaves the HTTP client unbounded.
func New(name, baseURL, apiKey string, timeout time.Duration) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if name == "" {
		name = "openai"
	}
	return &Client{name: name, api: goopenai.NewClientWithConfig(cfg)}
}

// Name implements completion.Provider.
func (c *Client) Name() string {
	return c.name
}

// Complete implements completion.Provider.
func (c *Client) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, toRequest(req, false))
	if err != nil {
		return completion.Response{}, fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return completion.Response{}, fmt.Errorf("%s chat completion: %w", c.name, completion.ErrEmptyResponse)
	}
	return completion.Response{
		Text:  resp.Choices[0].Message.Content,
		Usage: fromUsage(resp.Usage),
	}, nil
}

// Stream implements completion.Provider. The request asks the provider to
// append a usage summary to the end of the stream.
func (c *Client) Stream(ctx context.Context, req completion.Request) (completion.Stream, error) {
	s, err := c.api.CreateChatCompletionStream(ctx, toRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s chat completion stream: %w", c.name, err)
	}
	return &stream{s: s}, nil
}

type stream struct {
	s *goopenai.ChatCompletionStream
}

// Recv passes io.EOF through unwrapped so callers can detect the end marker.
func (s *stream) Recv() (completion.Fragment, error) {
	chunk, err := s.s.Recv()
	if err != nil {
		return completion.Fragment{}, err
	}
	var frag completion.Fragment
	if len(chunk.Choices) > 0 {
		frag.Content = chunk.Choices[0].Delta.Content
	}
	if chunk.Usage != nil {
		u := fromUsage(*chunk.Usage)
		frag.Usage = &u
	}
	return frag, nil
}

func (s *stream) Close() error {
	return s.s.Close()
}

func toRequest(req completion.Request, stream bool) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// temperature keeps an explicit 0 on the wire; the SDK omits zero values.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// fromUsage treats an all-zero usage block as "not reported".
func fromUsage(u goopenai.Usage) models.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return models.Usage{}
	}
	return models.NewUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

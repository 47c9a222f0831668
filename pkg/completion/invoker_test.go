package completion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/completion/completiontest"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func request(streaming bool) completion.Request {
	return completion.Request{
		Model: "gpt-4o-mini",
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "You are Homer."},
			{Role: models.RoleUser, Content: "glazed or jelly?"},
		},
		MaxTokens:   500,
		Temperature: 0.8,
		Streaming:   streaming,
	}
}

func TestInvokeNonStreaming(t *testing.T) {
	clk := newClock()
	p := &completiontest.Provider{
		Clock:         clk,
		Response:      completion.Response{Text: "Glazed, obviously!", Usage: models.NewUsage(20, 5, 25)},
		CompleteDelay: 750 * time.Millisecond,
	}
	inv := completion.NewInvoker(p, completion.WithClock(clk))

	res, err := inv.Invoke(context.Background(), request(false))
	require.NoError(t, err)

	assert.Equal(t, "Glazed, obviously!", res.Text)
	assert.Nil(t, res.TimeToFirstToken, "TTFT is not measurable without streaming")
	assert.Equal(t, int64(750), res.DurationMs)
	require.NotNil(t, res.Usage.TotalTokens)
	assert.Equal(t, 25, *res.Usage.TotalTokens)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, request(false), reqs[0])
}

func TestInvokeStreamingAccumulates(t *testing.T) {
	clk := newClock()
	p := &completiontest.Provider{
		Clock: clk,
		Steps: []completiontest.Step{
			completiontest.Text(300*time.Millisecond, "A"),
			completiontest.Text(100*time.Millisecond, "B"),
			completiontest.Final(100*time.Millisecond, "C", models.NewUsage(10, 3, 13)),
		},
	}
	inv := completion.NewInvoker(p, completion.WithClock(clk))

	res, err := inv.Invoke(context.Background(), request(true))
	require.NoError(t, err)

	assert.Equal(t, "ABC", res.Text)
	require.NotNil(t, res.TimeToFirstToken)
	assert.InDelta(t, 0.3, *res.TimeToFirstToken, 1e-9)
	assert.Equal(t, int64(500), res.DurationMs)
	require.NotNil(t, res.Usage.PromptTokens)
	assert.Equal(t, 10, *res.Usage.PromptTokens)
	assert.Equal(t, 3, *res.Usage.CompletionTokens)
	assert.Equal(t, 13, *res.Usage.TotalTokens)
	assert.Equal(t, 1, p.StreamsClosed())
}

func TestInvokeStreamingSkipsEmptyFragmentsForTTFT(t *testing.T) {
	clk := newClock()
	p := &completiontest.Provider{
		Clock: clk,
		Steps: []completiontest.Step{
			completiontest.Text(200*time.Millisecond, ""), // role-only delta
			completiontest.Text(200*time.Millisecond, "Mmm"),
			completiontest.Text(200*time.Millisecond, ", donuts"),
			{Delay: 50 * time.Millisecond, Fragment: completion.Fragment{Usage: &models.Usage{}}},
		},
	}
	inv := completion.NewInvoker(p, completion.WithClock(clk))

	res, err := inv.Invoke(context.Background(), request(true))
	require.NoError(t, err)

	assert.Equal(t, "Mmm, donuts", res.Text)
	require.NotNil(t, res.TimeToFirstToken)
	assert.InDelta(t, 0.4, *res.TimeToFirstToken, 1e-9, "TTFT is taken at the first non-empty fragment only")
	assert.Equal(t, int64(650), res.DurationMs)
}

func TestInvokeStreamingWithoutUsage(t *testing.T) {
	p := &completiontest.Provider{
		Steps: []completiontest.Step{
			completiontest.Text(0, "Boston "),
			completiontest.Text(0, "cream"),
		},
	}
	inv := completion.NewInvoker(p)

	res, err := inv.Invoke(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, "Boston cream", res.Text)
	assert.True(t, res.Usage.IsEmpty())
}

func TestInvokeStreamingNoContent(t *testing.T) {
	inv := completion.NewInvoker(&completiontest.Provider{})

	res, err := inv.Invoke(context.Background(), request(true))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Nil(t, res.TimeToFirstToken)
}

func TestInvokeErrorsPropagate(t *testing.T) {
	boom := errors.New("upstream 503")

	t.Run("complete", func(t *testing.T) {
		p := &completiontest.Provider{CompleteErr: boom}
		_, err := completion.NewInvoker(p).Invoke(context.Background(), request(false))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, p.Calls(), "no retries")
	})

	t.Run("stream open", func(t *testing.T) {
		p := &completiontest.Provider{StreamErr: boom}
		_, err := completion.NewInvoker(p).Invoke(context.Background(), request(true))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, p.Calls())
	})

	t.Run("mid stream keeps partial result", func(t *testing.T) {
		clk := newClock()
		p := &completiontest.Provider{
			Clock: clk,
			Steps: []completiontest.Step{
				completiontest.Text(100*time.Millisecond, "Half a "),
				{Delay: 100 * time.Millisecond, Err: boom},
			},
		}
		res, err := completion.NewInvoker(p, completion.WithClock(clk)).Invoke(context.Background(), request(true))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "Half a ", res.Text)
		require.NotNil(t, res.TimeToFirstToken)
		assert.InDelta(t, 0.1, *res.TimeToFirstToken, 1e-9)
		assert.Equal(t, int64(200), res.DurationMs)
		assert.Equal(t, 1, p.StreamsClosed())
	})
}

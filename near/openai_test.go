package near

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOpenAIClient implements OpenAIClient, recording requests and
// returning scripted responses.
type mockOpenAIClient struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest

	response openai.ChatCompletionResponse
	err      error

	// delay, if set, sleeps before responding (or returns early on
	// context cancellation)
	delay time.Duration
}

func (m *mockOpenAIClient) CreateChatCompletion(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, request)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	return m.response, m.err
}

func (m *mockOpenAIClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func completionResponse(content string, promptTokens, completionTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

func newTestOpenAI(t testing.TB, client OpenAIClient) *OpenAI {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OpenAI.Token = "test-token"
	cfg.OpenAI.MaxRequestsPerSecond = 1000

	b := &Bot{config: cfg, channels: NewChannelRegistry(cfg.HistorySize)}
	o := newOpenAI(b, nil)
	o.client = client
	return o
}

func TestCompleteReturnsReplyAndUsage(t *testing.T) {
	client := &mockOpenAIClient{
		response: completionResponse("...I see.", 1000, 500),
	}
	o := newTestOpenAI(t, client)

	msgs, err := BuildPrompt(nil, NewUserTurn("alice", "hello"))
	require.NoError(t, err)

	reply, usage, err := o.Complete(context.Background(), "req-1", msgs)
	require.NoError(t, err)
	assert.Equal(t, "...I see.", reply)
	assert.Equal(t, 1000, usage.PromptTokens)
	assert.Equal(t, 500, usage.CompletionTokens)

	// 1000 in @ $1.25/1M + 500 out @ $10.00/1M
	assert.InDelta(t, 0.00125+0.005, usage.Cost, 1e-9)

	require.Equal(t, 1, client.requestCount())
	assert.Equal(t, o.config.Model, client.requests[0].Model)
}

func TestCompleteNoChoices(t *testing.T) {
	client := &mockOpenAIClient{
		response: openai.ChatCompletionResponse{},
	}
	o := newTestOpenAI(t, client)

	msgs, err := BuildPrompt(nil, NewUserTurn("alice", "hello"))
	require.NoError(t, err)

	_, _, err = o.Complete(context.Background(), "req-1", msgs)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCompleteTimeout(t *testing.T) {
	client := &mockOpenAIClient{
		delay:    time.Minute,
		response: completionResponse("too late", 1, 1),
	}
	o := newTestOpenAI(t, client)
	o.config.RequestTimeout = 20 * time.Millisecond

	msgs, err := BuildPrompt(nil, NewUserTurn("alice", "hello"))
	require.NoError(t, err)

	started := time.Now()
	_, _, err = o.Complete(context.Background(), "req-1", msgs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestGenerateRiddleUsesFixedPrompt(t *testing.T) {
	client := &mockOpenAIClient{
		response: completionResponse("\U0001F9E9 **Riddle:** ...", 10, 20),
	}
	o := newTestOpenAI(t, client)

	riddle, err := o.GenerateRiddle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, riddle, "Riddle")

	require.Equal(t, 1, client.requestCount())
	req := client.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, riddleSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, riddleUserPrompt, req.Messages[1].Content)
}

func TestClassifyAPIError(t *testing.T) {
	t.Run(
		"api error 429", func(t *testing.T) {
			err := classifyAPIError(
				&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
			)
			assert.ErrorIs(t, err, ErrRateLimited)
		},
	)
	t.Run(
		"request error 429", func(t *testing.T) {
			err := classifyAPIError(
				&openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests},
			)
			assert.ErrorIs(t, err, ErrRateLimited)
		},
	)
	t.Run(
		"api error 500", func(t *testing.T) {
			err := classifyAPIError(
				&openai.APIError{HTTPStatusCode: http.StatusInternalServerError},
			)
			assert.ErrorIs(t, err, ErrUpstream)
			assert.NotErrorIs(t, err, ErrRateLimited)
		},
	)
	t.Run(
		"plain error", func(t *testing.T) {
			err := classifyAPIError(assert.AnError)
			assert.ErrorIs(t, err, ErrUpstream)
		},
	)
}

func TestNewUsageCostMath(t *testing.T) {
	u := newUsage(
		openai.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000},
	)
	assert.InDelta(t, openaiInputCostPerMillion+openaiOutputCostPerMillion, u.Cost, 1e-9)

	zero := newUsage(openai.Usage{})
	assert.Zero(t, zero.Cost)
}

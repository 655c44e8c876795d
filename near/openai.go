package near

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// ErrUpstream indicates the completion API returned a non-success
	// response. Surfaced to the user as a generic apology.
	ErrUpstream = errors.New("upstream completion error")

	// ErrRateLimited indicates the completion API throttled the request.
	// There is no automatic retry; it's surfaced to the caller.
	ErrRateLimited = errors.New("upstream rate limited")
)

// OpenAIClient defines the methods used from the go-openai client, to
// enable testing/mocking.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Usage holds token counts and the estimated cost of one completion call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

func newUsage(u openai.Usage) Usage {
	inputCost := float64(u.PromptTokens) / 1_000_000 * openaiInputCostPerMillion
	outputCost := float64(u.CompletionTokens) / 1_000_000 * openaiOutputCostPerMillion
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Cost:             inputCost + outputCost,
	}
}

// OpenAI wraps the completion client with rate limiting, timeouts,
// error classification and usage accounting.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	bot            *Bot
}

func newOpenAI(b *Bot, httpClient *http.Client) *OpenAI {
	config := b.config.OpenAI
	o := &OpenAI{
		config: config,
		bot:    b,
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// Complete sends the assembled prompt to the completion API and returns
// the reply text and usage. Each call is rate limited and bounded by the
// configured request timeout. A usage/cost log line is emitted for every
// successful call.
func (o *OpenAI) Complete(
	ctx context.Context,
	requestID string,
	msgs []openai.ChatCompletionMessage,
) (string, Usage, error) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = o.logger
		ctx = WithLogger(ctx, log)
	}

	reply, usage, err := o.complete(ctx, msgs)
	if err != nil {
		return "", usage, err
	}

	log.InfoContext(
		ctx,
		"completion usage",
		"request_id", requestID,
		"model", o.config.Model,
		"input_tokens", usage.PromptTokens,
		"output_tokens", usage.CompletionTokens,
		"cost_usd", fmt.Sprintf("%.5f", usage.Cost),
	)

	return reply, usage, nil
}

// GenerateRiddle asks the model for a single riddle using the fixed
// riddle instruction. Unlike Complete, it never touches channel history
// and emits no usage accounting.
func (o *OpenAI) GenerateRiddle(ctx context.Context) (string, error) {
	reply, _, err := o.complete(ctx, riddlePrompt())
	return reply, err
}

func (o *OpenAI) complete(
	ctx context.Context,
	msgs []openai.ChatCompletionMessage,
) (string, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:    o.config.Model,
			Messages: msgs,
		},
	)
	if err != nil {
		o.logger.ErrorContext(
			ctx,
			"completion request failed",
			tint.Err(err),
			"elapsed", time.Since(started),
		)
		return "", Usage{}, classifyAPIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%w: no choices in response", ErrUpstream)
	}

	return resp.Choices[0].Message.Content, newUsage(resp.Usage), nil
}

// classifyAPIError maps go-openai errors onto the bot's error taxonomy.
// HTTP 429 becomes ErrRateLimited; everything else is ErrUpstream.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

package codegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"options-backtester/internal/performance"
	"options-backtester/pkg/utils"
)

// OpenAIClient implements LLMClient using the OpenAI API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	backoff     utils.Backoff
	limiter     *performance.Pacer
}

// NewOpenAIClient creates a new OpenAI client. Calls are paced to one per
// second and failed calls are retried with backoff unless the API rejected
// the request outright.
func NewOpenAIClient(apiKey, model string, temperature float32) *OpenAIClient {
	backoff := utils.APIBackoff()
	backoff.Transient = transient
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   8192,
		backoff:     backoff,
		limiter:     performance.NewPacer(1, 2),
	}
}

// CompleteWithSystem sends a prompt with system message to the LLM.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return utils.Do(ctx, c.backoff, func() (string, error) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return "", err
		}
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
		})
		if err != nil {
			return "", fmt.Errorf("openai completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no response from openai")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// transient is true for rate limits and for server or transport failures.
func transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

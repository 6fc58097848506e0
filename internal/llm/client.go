// Package llm wraps the OpenAI chat completions API behind the small surface
// the pipeline stages need: prompt in, text out, transient failures retried.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Client struct {
	client openai.Client
	model  string
	policy RetryPolicy
}

// NewClient builds a client for the given model. Extra request options are
// passed through to the SDK (tests use option.WithBaseURL).
func NewClient(apiKey, model string, policy RetryPolicy, opts ...option.RequestOption) *Client {
	// SDK-level retries are disabled so the policy here is the only one.
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{
		client: openai.NewClient(all...),
		model:  model,
		policy: policy.normalized(),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system+user prompt pair and returns the first choice's
// text. Rate-limit and server errors are retried per the client's policy;
// anything else fails immediately.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(0.2),
	}

	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("empty response choices")
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		retry, rateLimited := retriable(err)
		if !retry || attempt == c.policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.policy.delay(attempt, rateLimited)):
		}
	}
	return "", fmt.Errorf("chat completion after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

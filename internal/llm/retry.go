package llm

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

// RetryPolicy controls how LLM calls are retried on transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy matches the pipeline's historical three-attempt behavior.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	return p
}

// delay returns the jittered backoff before the given zero-based attempt.
// Rate-limit errors wait substantially longer than server errors.
func (p RetryPolicy) delay(attempt int, rateLimited bool) time.Duration {
	base := p.BaseDelay
	if rateLimited {
		base = p.BaseDelay * 10
	}
	d := base << attempt
	jitter := time.Duration(rand.Int64N(int64(p.BaseDelay)))
	return d + jitter
}

// retriable classifies an API error as transient (rate limit or server-side).
func retriable(err error) (retry, rateLimited bool) {
	if err == nil {
		return false, false
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return true, true
		case apierr.StatusCode >= 500:
			return true, false
		}
		return false, false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return true, true
	case strings.Contains(msg, "500"), strings.Contains(msg, "server_error"),
		strings.Contains(msg, "internal server error"):
		return true, false
	}
	return false, false
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
)

func completionJSON(text string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": text,
				},
			},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model", DefaultPolicy(), option.WithBaseURL(server.URL))

	got, err := c.Complete(context.Background(), "system", "user", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("unexpected completion text %q", got)
	}
}

func TestComplete_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionJSON("recovered"))
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	c := NewClient("test-key", "test-model", policy, option.WithBaseURL(server.URL))

	got, err := c.Complete(context.Background(), "system", "user", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "recovered" {
		t.Errorf("expected recovered completion, got %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestComplete_BadRequestFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad prompt","type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	c := NewClient("test-key", "test-model", policy, option.WithBaseURL(server.URL))

	if _, err := c.Complete(context.Background(), "system", "user", 256); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call for non-retriable error, got %d", calls.Load())
	}
}

func TestComplete_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	c := NewClient("test-key", "test-model", policy, option.WithBaseURL(server.URL))

	if _, err := c.Complete(context.Background(), "system", "user", 256); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != 1 {
		t.Errorf("expected min 1 attempt, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		t.Errorf("expected positive base delay, got %v", p.BaseDelay)
	}
}

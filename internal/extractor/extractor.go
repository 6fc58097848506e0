// Package extractor implements Stage 1: turning transcript chunks into
// structured quote records via LLM extraction.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/voclens/voclens/internal/ingest"
	"github.com/voclens/voclens/internal/jsonrepair"
	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/voc"
)

type Extractor struct {
	llm      *llm.Client
	attempts int
	logger   *slog.Logger
}

func New(client *llm.Client, attempts int, logger *slog.Logger) *Extractor {
	if attempts < 1 {
		attempts = 1
	}
	return &Extractor{llm: client, attempts: attempts, logger: logger}
}

type extractedQuote struct {
	VerbatimResponse string `json:"verbatim_response"`
	Subject          string `json:"subject"`
	Question         string `json:"question"`
}

type llmResponse struct {
	Quotes []extractedQuote `json:"quotes"`
}

// ExtractChunk processes one transcript chunk and returns its quote records.
// Invalid JSON triggers a fresh LLM call, up to the configured attempt count;
// after that the chunk is dropped with an error.
func (e *Extractor) ExtractChunk(ctx context.Context, chunk ingest.Chunk) ([]voc.Response, error) {
	prompt := fmt.Sprintf(extractionUserPrompt,
		chunk.Company, chunk.IntervieweeName, chunk.DealStatus, chunk.Text)

	var resp llmResponse
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		raw, err := e.llm.Complete(ctx, systemPrompt, prompt, 4096)
		if err != nil {
			return nil, fmt.Errorf("llm extraction: %w", err)
		}

		strategy, err := jsonrepair.Unmarshal(raw, &resp)
		if err == nil {
			if strategy != jsonrepair.StrategyDirect {
				e.logger.Debug("extraction JSON repaired",
					"chunk", chunk.Ref, "strategy", string(strategy))
			}
			lastErr = nil
			break
		}
		lastErr = err
		e.logger.Warn("invalid extraction JSON, retrying",
			"chunk", chunk.Ref, "attempt", attempt, "error", err)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("parse extraction after %d attempts: %w", e.attempts, lastErr)
	}

	responses := make([]voc.Response, 0, len(resp.Quotes))
	for i, q := range resp.Quotes {
		text := strings.TrimSpace(q.VerbatimResponse)
		if text == "" {
			continue
		}
		responses = append(responses, voc.Response{
			ResponseID:      responseID(chunk, i),
			ClientID:        chunk.ClientID,
			VerbatimText:    text,
			Subject:         strings.TrimSpace(q.Subject),
			Question:        strings.TrimSpace(q.Question),
			DealStatus:      chunk.DealStatus,
			Company:         chunk.Company,
			IntervieweeName: chunk.IntervieweeName,
			InterviewDate:   chunk.InterviewDate,
		})
	}

	e.logger.Info("chunk extracted",
		"chunk", chunk.Ref,
		"quotes", len(responses),
	)
	return responses, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "_"), "_")
	return s
}

// responseID builds the deterministic <company>_<interviewee>_<chunk>_<n> key
// so re-runs over the same transcript upsert rather than duplicate. Falls back
// to a UUID when the metadata is too sparse to form a key.
func responseID(chunk ingest.Chunk, i int) string {
	company, person := slug(chunk.Company), slug(chunk.IntervieweeName)
	if company == "" || person == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s_%s_%d_%d", company, person, chunk.Index, i+1)
}

// Package notify posts end-of-run pipeline summaries to Slack. Posting is
// optional: a nil *Poster is a no-op.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voclens/voclens/internal/store"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostRunSummary posts the pipeline result for one client. Returns the
// message timestamp (ts) so callers can thread follow-ups.
func (p *Poster) PostRunSummary(ctx context.Context, clientID string, counts store.StageCounts, duration time.Duration) (string, error) {
	if p == nil {
		return "", nil
	}
	text := formatRunMessage(clientID, counts, duration)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted run summary to slack", "ts", slackResp.TS, "client_id", clientID)
	return slackResp.TS, nil
}

func formatRunMessage(clientID string, counts store.StageCounts, duration time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Voice-of-customer pipeline finished* for `%s` in %s\n", clientID, duration.Round(time.Second))
	fmt.Fprintf(&sb, "• Quotes: %d (%d scored, %d analysis rows)\n", counts.Responses, counts.ScoredQuotes, counts.Analyses)
	fmt.Fprintf(&sb, "• Findings: %d (%d classified)\n", counts.Findings, counts.ClassifiedFindings)
	fmt.Fprintf(&sb, "• Themes: %d | Strategic alerts: %d", counts.Themes, counts.Alerts)
	return sb.String()
}

// Package events publishes pipeline stage-completion signals over NATS so
// downstream consumers (dashboards, report builders) can react to fresh
// data without polling. The publisher is optional: a nil *Client is a
// no-op, so the pipeline runs identically with events disabled.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Stage-completion subjects. The stage number is part of the subject so
// consumers can subscribe to a single stage or to voc.stage.*.
const (
	SubjectStage1 = "voc.stage.1.completed"
	SubjectStage2 = "voc.stage.2.completed"
	SubjectStage3 = "voc.stage.3.completed"
	SubjectStage4 = "voc.stage.4.completed"
)

// StageEvent is the payload published on stage completion.
type StageEvent struct {
	ClientID    string    `json:"client_id"`
	Stage       int       `json:"stage"`
	Records     int       `json:"records"`
	Forced      bool      `json:"forced"`
	CompletedAt time.Time `json:"completed_at"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// PublishStage emits a completion event. Failures are logged, never fatal:
// events are advisory and must not fail a pipeline run.
func (c *Client) PublishStage(stage int, clientID string, records int, forced bool) {
	if c == nil {
		return
	}
	subject := fmt.Sprintf("voc.stage.%d.completed", stage)
	payload, err := json.Marshal(StageEvent{
		ClientID:    clientID,
		Stage:       stage,
		Records:     records,
		Forced:      forced,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("marshal stage event", "error", err)
		return
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		c.logger.Warn("publish stage event failed", "subject", subject, "error", err)
		return
	}
	c.logger.Debug("published stage event", "subject", subject, "client_id", clientID)
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.conn.Close()
}

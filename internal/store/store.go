// Package store persists pipeline records. Two backends implement the same
// interface: SQLite for local runs and Postgres for the hosted deployment.
// Every method takes a client ID; there is no cross-tenant access path.
package store

import (
	"context"
	"errors"

	"github.com/voclens/voclens/internal/voc"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// StageCounts summarizes pipeline progress for one client.
type StageCounts struct {
	Responses          int `json:"responses"`
	ScoredQuotes       int `json:"scored_quotes"`
	Analyses           int `json:"analyses"`
	Findings           int `json:"findings"`
	ClassifiedFindings int `json:"classified_findings"`
	Themes             int `json:"themes"`
	Alerts             int `json:"alerts"`
}

// Store is the pipeline's data-access layer.
type Store interface {
	// Stage 1: immutable quote records, upserted by (response_id, client_id).
	UpsertResponses(ctx context.Context, responses []voc.Response) (int, error)
	ListResponses(ctx context.Context, clientID string) ([]voc.Response, error)
	// ListUnscoredResponses selects responses with no analysis row yet
	// (left-join-is-null), so downstream stages are restart-safe.
	ListUnscoredResponses(ctx context.Context, clientID string) ([]voc.Response, error)

	// Stage 2: one row per (quote, criterion), idempotent upsert.
	UpsertQuoteAnalysis(ctx context.Context, qa voc.QuoteAnalysis) error
	ListAnalyses(ctx context.Context, clientID string) ([]voc.QuoteAnalysis, error)
	ListScoredQuotes(ctx context.Context, clientID string) ([]voc.ScoredQuote, error)
	DeleteAnalyses(ctx context.Context, clientID string) (int, error)

	// Stage 3.
	UpsertFinding(ctx context.Context, f voc.Finding) error
	ListFindings(ctx context.Context, clientID string) ([]voc.Finding, error)
	ListUnclassifiedFindings(ctx context.Context, clientID string) ([]voc.Finding, error)
	UpdateFindingClassification(ctx context.Context, clientID, findingID string, clientSpecific bool) error
	DeleteFindings(ctx context.Context, clientID string) (int, error)

	// Stage 4.
	UpsertTheme(ctx context.Context, th voc.Theme) error
	ListThemes(ctx context.Context, clientID string) ([]voc.Theme, error)
	DeleteThemes(ctx context.Context, clientID string) (int, error)

	Counts(ctx context.Context, clientID string) (StageCounts, error)
	Close() error
}

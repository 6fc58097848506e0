// Package scorer implements Stage 2: scoring extracted quotes against the
// evaluation criteria and weighting scores by deal outcome.
package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voclens/voclens/internal/jsonrepair"
	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/voc"
)

type Options struct {
	BatchSize     int // quotes per LLM call
	Workers       int // concurrent batches in flight
	MaxQuoteChars int // quote text truncation bound for prompts
	Attempts      int // single-quote fallback attempts
}

func (o Options) normalized() Options {
	if o.BatchSize < 1 {
		o.BatchSize = 15
	}
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.MaxQuoteChars < 1 {
		o.MaxQuoteChars = 1200
	}
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	return o
}

type Scorer struct {
	llm    *llm.Client
	db     store.Store
	opts   Options
	logger *slog.Logger
	system string
}

func New(client *llm.Client, db store.Store, opts Options, logger *slog.Logger) *Scorer {
	return &Scorer{
		llm:    client,
		db:     db,
		opts:   opts.normalized(),
		logger: logger,
		system: buildSystemPrompt(),
	}
}

// Summary reports what a scoring run did.
type Summary struct {
	Quotes      int `json:"quotes"`
	Batches     int `json:"batches"`
	Scored      int `json:"scored"`    // quotes with at least one analysis row
	Skipped     int `json:"skipped"`   // quotes relevant to no criterion
	Dropped     int `json:"dropped"`   // quotes lost to unrecoverable failures
	Analyses    int `json:"analyses"`  // rows written
	Fallbacks   int `json:"fallbacks"` // batches retried quote by quote
	WriteErrors int `json:"write_errors"`
}

type criterionScore struct {
	Criterion         string  `json:"criterion"`
	Score             float64 `json:"score"`
	Priority          string  `json:"priority"`
	Confidence        string  `json:"confidence"`
	Sentiment         string  `json:"sentiment"`
	QuestionRelevance string  `json:"question_relevance"`
	Context           string  `json:"context"`
}

type quoteResult struct {
	QuoteID  string           `json:"quote_id"`
	Criteria []criterionScore `json:"criteria"`
}

type scoreResponse struct {
	Results []quoteResult `json:"results"`
}

// Run scores every unscored quote for the client. Batches are processed
// concurrently; a batch whose response cannot be parsed falls back to
// scoring its quotes one at a time.
func (s *Scorer) Run(ctx context.Context, clientID string, force bool) (Summary, error) {
	var sum Summary

	if force {
		n, err := s.db.DeleteAnalyses(ctx, clientID)
		if err != nil {
			return sum, fmt.Errorf("clearing analyses: %w", err)
		}
		s.logger.Info("cleared existing analyses", "client_id", clientID, "deleted", n)
	}

	quotes, err := s.db.ListUnscoredResponses(ctx, clientID)
	if err != nil {
		return sum, fmt.Errorf("listing unscored responses: %w", err)
	}
	sum.Quotes = len(quotes)
	if len(quotes) == 0 {
		s.logger.Info("no unscored quotes", "client_id", clientID)
		return sum, nil
	}

	batches := splitBatches(quotes, s.opts.BatchSize)
	sum.Batches = len(batches)
	s.logger.Info("scoring quotes",
		"client_id", clientID, "quotes", len(quotes), "batches", len(batches))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			part, err := s.scoreBatch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			sum.Scored += part.Scored
			sum.Skipped += part.Skipped
			sum.Dropped += part.Dropped
			sum.Analyses += part.Analyses
			sum.Fallbacks += part.Fallbacks
			sum.WriteErrors += part.WriteErrors
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []voc.Response) (Summary, error) {
	var part Summary

	results, err := s.requestScores(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return part, ctx.Err()
		}
		s.logger.Warn("batch scoring failed, falling back to single quotes",
			"batch_size", len(batch), "error", err)
		part.Fallbacks++
		s.scoreSequentially(ctx, batch, &part)
		return part, ctx.Err()
	}

	byID := make(map[string][]criterionScore, len(results))
	for _, r := range results {
		byID[r.QuoteID] = r.Criteria
	}
	for _, q := range batch {
		scores, ok := byID[q.ResponseID]
		if !ok {
			// The model skipped a quote it was given; re-score it alone
			// rather than losing it.
			single, err := s.scoreSingle(ctx, q)
			if err != nil {
				s.logger.Warn("quote missing from batch response, dropped",
					"quote_id", q.ResponseID, "error", err)
				part.Dropped++
				continue
			}
			scores = single
		}
		s.persist(ctx, q, scores, &part)
	}
	for id := range byID {
		if !batchContains(batch, id) {
			s.logger.Warn("unknown quote id in batch response, ignored", "quote_id", id)
		}
	}
	return part, nil
}

// requestScores runs one LLM call over the batch and parses the response.
func (s *Scorer) requestScores(ctx context.Context, batch []voc.Response) ([]quoteResult, error) {
	raw, err := s.llm.Complete(ctx, s.system, buildBatchPrompt(batch, s.opts.MaxQuoteChars), 4096)
	if err != nil {
		return nil, err
	}
	var resp scoreResponse
	strategy, err := jsonrepair.Unmarshal(raw, &resp)
	if err != nil {
		return nil, fmt.Errorf("parsing score response: %w", err)
	}
	if strategy != jsonrepair.StrategyDirect {
		s.logger.Debug("score response repaired", "strategy", strategy)
	}
	return resp.Results, nil
}

func (s *Scorer) scoreSequentially(ctx context.Context, batch []voc.Response, part *Summary) {
	for _, q := range batch {
		if ctx.Err() != nil {
			return
		}
		scores, err := s.scoreSingle(ctx, q)
		if err != nil {
			s.logger.Warn("quote dropped after fallback attempts",
				"quote_id", q.ResponseID, "error", err)
			part.Dropped++
			continue
		}
		s.persist(ctx, q, scores, part)
	}
}

// scoreSingle scores one quote, retrying unparseable responses with fresh
// calls up to the configured attempt count.
func (s *Scorer) scoreSingle(ctx context.Context, q voc.Response) ([]criterionScore, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		results, err := s.requestScores(ctx, []voc.Response{q})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, r := range results {
			if r.QuoteID == q.ResponseID {
				return r.Criteria, nil
			}
		}
		lastErr = fmt.Errorf("quote %s absent from response", q.ResponseID)
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.opts.Attempts, lastErr)
}

// persist converts criterion scores to analysis rows and writes them.
func (s *Scorer) persist(ctx context.Context, q voc.Response, scores []criterionScore, part *Summary) {
	rows := buildAnalyses(q, scores)
	if len(rows) == 0 {
		part.Skipped++
		return
	}
	wrote := 0
	for _, row := range rows {
		if err := s.db.UpsertQuoteAnalysis(ctx, row); err != nil {
			s.logger.Error("writing analysis row failed",
				"quote_id", row.QuoteID, "criterion", row.Criterion, "error", err)
			part.WriteErrors++
			continue
		}
		wrote++
	}
	part.Analyses += wrote
	if wrote > 0 {
		part.Scored++
	}
}

// buildAnalyses validates and normalizes model output for one quote. Unknown
// criteria and non-positive scores produce no row.
func buildAnalyses(q voc.Response, scores []criterionScore) []voc.QuoteAnalysis {
	rows := make([]voc.QuoteAnalysis, 0, len(scores))
	seen := make(map[string]bool, len(scores))
	for _, cs := range scores {
		if !voc.ValidCriterion(cs.Criterion) || seen[cs.Criterion] {
			continue
		}
		score := clampScore(cs.Score)
		if score <= 0 {
			continue
		}
		seen[cs.Criterion] = true

		flag := normalizeContext(cs.Context)
		if flag == "" {
			flag = DetectContext(q.VerbatimText, q.Question)
		}
		rows = append(rows, voc.QuoteAnalysis{
			QuoteID:           q.ResponseID,
			ClientID:          q.ClientID,
			Criterion:         cs.Criterion,
			Score:             score,
			Priority:          normalizePriority(cs.Priority),
			Confidence:        normalizeConfidence(cs.Confidence),
			DealWeightedScore: WeightedScore(score, q.DealStatus, flag),
			QuestionRelevance: normalizeRelevance(cs.QuestionRelevance),
			Sentiment:         normalizeSentiment(cs.Sentiment),
			ContextFlag:       flag,
		})
	}
	return rows
}

func normalizeContext(flag string) string {
	switch flag {
	case ContextDealBreaking, ContextMinor:
		return flag
	default:
		return ""
	}
}

func normalizePriority(p string) voc.Priority {
	switch voc.Priority(p) {
	case voc.PriorityCritical, voc.PriorityHigh, voc.PriorityMedium, voc.PriorityLow:
		return voc.Priority(p)
	default:
		return voc.PriorityMedium
	}
}

func normalizeConfidence(c string) voc.Confidence {
	switch voc.Confidence(c) {
	case voc.ConfidenceHigh, voc.ConfidenceMedium, voc.ConfidenceLow:
		return voc.Confidence(c)
	default:
		return voc.ConfidenceMedium
	}
}

func normalizeRelevance(r string) string {
	switch r {
	case "direct", "indirect", "unrelated":
		return r
	default:
		return "indirect"
	}
}

func normalizeSentiment(s string) string {
	switch s {
	case "positive", "negative", "neutral", "mixed":
		return s
	default:
		return "neutral"
	}
}

func splitBatches(quotes []voc.Response, size int) [][]voc.Response {
	var batches [][]voc.Response
	for start := 0; start < len(quotes); start += size {
		end := start + size
		if end > len(quotes) {
			end = len(quotes)
		}
		batches = append(batches, quotes[start:end])
	}
	return batches
}

func batchContains(batch []voc.Response, id string) bool {
	for _, q := range batch {
		if q.ResponseID == id {
			return true
		}
	}
	return false
}

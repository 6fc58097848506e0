// Package findings implements Stage 3: synthesizing decision-ready findings
// from scored quotes and classifying them as client-specific or market-wide.
package findings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voclens/voclens/internal/jsonrepair"
	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/voc"
)

type Options struct {
	Workers   int // criteria synthesized concurrently
	MaxQuotes int // evidence quotes per synthesis prompt
}

func (o Options) normalized() Options {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.MaxQuotes < 1 {
		o.MaxQuotes = 20
	}
	return o
}

type Synthesizer struct {
	llm    *llm.Client
	db     store.Store
	opts   Options
	logger *slog.Logger
}

func NewSynthesizer(client *llm.Client, db store.Store, opts Options, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{llm: client, db: db, opts: opts.normalized(), logger: logger}
}

// Summary reports what a synthesis run did.
type Summary struct {
	ScoredQuotes int `json:"scored_quotes"`
	Criteria     int `json:"criteria"` // criteria with evidence
	Findings     int `json:"findings"`
	WriteErrors  int `json:"write_errors"`
}

type rawFinding struct {
	Statement          string   `json:"finding_statement"`
	Classification     string   `json:"classification"`
	ImpactScore        float64  `json:"impact_score"`
	EnhancedConfidence float64  `json:"enhanced_confidence"`
	Companies          []string `json:"companies"`
}

type synthesisResponse struct {
	Findings []rawFinding `json:"findings"`
}

// Run synthesizes findings from every criterion that has scored quotes.
// Criteria are processed concurrently; finding IDs are deterministic per
// criterion so reruns upsert in place.
func (s *Synthesizer) Run(ctx context.Context, clientID string, force bool) (Summary, error) {
	var sum Summary

	if force {
		n, err := s.db.DeleteFindings(ctx, clientID)
		if err != nil {
			return sum, fmt.Errorf("clearing findings: %w", err)
		}
		s.logger.Info("cleared existing findings", "client_id", clientID, "deleted", n)
	}

	quotes, err := s.db.ListScoredQuotes(ctx, clientID)
	if err != nil {
		return sum, fmt.Errorf("listing scored quotes: %w", err)
	}
	sum.ScoredQuotes = len(quotes)
	if len(quotes) == 0 {
		s.logger.Info("no scored quotes to synthesize", "client_id", clientID)
		return sum, nil
	}

	groups := groupByCriterion(quotes)
	sum.Criteria = len(groups)
	s.logger.Info("synthesizing findings",
		"client_id", clientID, "scored_quotes", len(quotes), "criteria", len(groups))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, criterion := range orderedCriteria(groups) {
		criterion := criterion
		group := groups[criterion]
		g.Go(func() error {
			written, writeErrs, err := s.synthesizeCriterion(gctx, clientID, criterion, group)
			if err != nil {
				return fmt.Errorf("criterion %s: %w", criterion, err)
			}
			mu.Lock()
			sum.Findings += written
			sum.WriteErrors += writeErrs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *Synthesizer) synthesizeCriterion(ctx context.Context, clientID, criterion string, group []voc.ScoredQuote) (written, writeErrs int, err error) {
	def, ok := criterionDef(criterion)
	if !ok {
		s.logger.Warn("scored quotes reference unknown criterion, skipped", "criterion", criterion)
		return 0, 0, nil
	}

	raw, err := s.llm.Complete(ctx, synthesisSystemPrompt,
		buildSynthesisPrompt(def, group, s.opts.MaxQuotes), 4096)
	if err != nil {
		return 0, 0, err
	}
	var resp synthesisResponse
	strategy, err := jsonrepair.Unmarshal(raw, &resp)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing synthesis response: %w", err)
	}
	if strategy != jsonrepair.StrategyDirect {
		s.logger.Debug("synthesis response repaired", "criterion", criterion, "strategy", strategy)
	}

	for i, rf := range resp.Findings {
		f, ok := buildFinding(clientID, criterion, i, rf, group)
		if !ok {
			s.logger.Warn("discarded malformed finding", "criterion", criterion, "index", i)
			continue
		}
		if err := s.db.UpsertFinding(ctx, f); err != nil {
			s.logger.Error("writing finding failed",
				"finding_id", f.FindingID, "error", err)
			writeErrs++
			continue
		}
		written++
	}
	return written, writeErrs, nil
}

// buildFinding validates one model finding and fills in the derived fields.
func buildFinding(clientID, criterion string, index int, rf rawFinding, group []voc.ScoredQuote) (voc.Finding, bool) {
	statement := strings.TrimSpace(rf.Statement)
	if statement == "" {
		return voc.Finding{}, false
	}

	companies := dedupeCompanies(rf.Companies, group)
	primary, secondary := attachQuotes(statement, companies, group)
	if primary == "" {
		return voc.Finding{}, false
	}

	return voc.Finding{
		FindingID:          fmt.Sprintf("%s_f%d", criterion, index+1),
		ClientID:           clientID,
		Criterion:          criterion,
		Statement:          statement,
		PrimaryQuote:       primary,
		SecondaryQuote:     secondary,
		Classification:     normalizeClassification(rf.Classification),
		EnhancedConfidence: clampRange(rf.EnhancedConfidence, 0, 10),
		ImpactScore:        clampRange(rf.ImpactScore, 0, 5),
		ClientSpecific:     false,
		Classified:         false,
		CompaniesAffected:  len(companies),
		Companies:          companies,
	}, true
}

// dedupeCompanies keeps only companies that actually appear in the evidence,
// falling back to the full evidence set when the model names none.
func dedupeCompanies(named []string, group []voc.ScoredQuote) []string {
	present := map[string]string{}
	for _, q := range group {
		if q.Company != "" {
			present[strings.ToLower(q.Company)] = q.Company
		}
	}

	var out []string
	seen := map[string]bool{}
	for _, c := range named {
		key := strings.ToLower(strings.TrimSpace(c))
		canonical, ok := present[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, canonical)
	}
	if len(out) > 0 {
		return out
	}
	keys := make([]string, 0, len(present))
	for k := range present {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, present[k])
	}
	return out
}

func normalizeClassification(c string) voc.FindingClassification {
	switch voc.FindingClassification(c) {
	case voc.ClassRevenueThreat, voc.ClassCompetitiveVuln, voc.ClassMarketOpportunity:
		return voc.FindingClassification(c)
	default:
		return voc.ClassCompetitiveVuln
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func criterionDef(key string) (voc.Criterion, bool) {
	for _, c := range voc.Criteria {
		if c.Key == key {
			return c, true
		}
	}
	return voc.Criterion{}, false
}

func groupByCriterion(quotes []voc.ScoredQuote) map[string][]voc.ScoredQuote {
	groups := map[string][]voc.ScoredQuote{}
	for _, q := range quotes {
		groups[q.Analysis.Criterion] = append(groups[q.Analysis.Criterion], q)
	}
	return groups
}

func orderedCriteria(groups map[string][]voc.ScoredQuote) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

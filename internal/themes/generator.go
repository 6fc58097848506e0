package themes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/voclens/voclens/internal/jsonrepair"
	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/voc"
)

type Generator struct {
	llm    *llm.Client
	db     store.Store
	logger *slog.Logger
}

func NewGenerator(client *llm.Client, db store.Store, logger *slog.Logger) *Generator {
	return &Generator{llm: client, db: db, logger: logger}
}

// GenSummary reports what a generation run did.
type GenSummary struct {
	Stats       Stats `json:"stats"`
	Themes      int   `json:"themes"`
	Alerts      int   `json:"alerts"`
	Rejected    int   `json:"rejected"`
	WriteErrors int   `json:"write_errors"`
}

type rawTheme struct {
	Title                string   `json:"theme_title"`
	Statement            string   `json:"theme_statement"`
	SupportingFindingIDs []string `json:"supporting_finding_ids"`
}

type generationResponse struct {
	Themes []rawTheme `json:"themes"`
	Alerts []rawTheme `json:"alerts"`
}

// Run analyzes the findings corpus, asks for exactly the derived number of
// themes and alerts, and persists whatever survives the validation gate.
// The client's previous set is always cleared first: theme IDs are
// sequential per run, so a smaller regeneration would otherwise leave the
// old set's higher-numbered rows behind.
func (g *Generator) Run(ctx context.Context, clientID string) (GenSummary, error) {
	var sum GenSummary

	n, err := g.db.DeleteThemes(ctx, clientID)
	if err != nil {
		return sum, fmt.Errorf("clearing themes: %w", err)
	}
	if n > 0 {
		g.logger.Info("cleared existing themes", "client_id", clientID, "deleted", n)
	}

	findings, err := g.db.ListFindings(ctx, clientID)
	if err != nil {
		return sum, fmt.Errorf("listing findings: %w", err)
	}
	if len(findings) == 0 {
		g.logger.Info("no findings to cluster", "client_id", clientID)
		return sum, nil
	}

	sum.Stats = Analyze(findings)
	g.logger.Info("derived generation targets",
		"client_id", clientID,
		"findings", sum.Stats.Findings,
		"companies", sum.Stats.Companies,
		"pattern_density", sum.Stats.PatternDensity,
		"themes", sum.Stats.RecommendedThemes,
		"alerts", sum.Stats.RecommendedAlerts)

	prompt, err := buildGenerationPrompt(findings, sum.Stats)
	if err != nil {
		return sum, err
	}
	raw, err := g.llm.Complete(ctx, generationSystemPrompt, prompt, 8192)
	if err != nil {
		return sum, fmt.Errorf("generation call: %w", err)
	}
	var resp generationResponse
	strategy, err := jsonrepair.Unmarshal(raw, &resp)
	if err != nil {
		return sum, fmt.Errorf("parsing generation response: %w", err)
	}
	if strategy != jsonrepair.StrategyDirect {
		g.logger.Debug("generation response repaired", "strategy", strategy)
	}

	byID := make(map[string]voc.Finding, len(findings))
	for _, f := range findings {
		byID[f.FindingID] = f
	}

	g.persistSet(ctx, clientID, resp.Themes, voc.TypeTheme, byID, &sum)
	g.persistSet(ctx, clientID, resp.Alerts, voc.TypeAlert, byID, &sum)

	if sum.Themes != sum.Stats.RecommendedThemes || sum.Alerts != sum.Stats.RecommendedAlerts {
		g.logger.Warn("generated set diverges from targets",
			"themes", sum.Themes, "want_themes", sum.Stats.RecommendedThemes,
			"alerts", sum.Alerts, "want_alerts", sum.Stats.RecommendedAlerts)
	}
	return sum, nil
}

func (g *Generator) persistSet(ctx context.Context, clientID string, raw []rawTheme, kind voc.ThemeType, byID map[string]voc.Finding, sum *GenSummary) {
	n := 0
	for _, rt := range raw {
		th := buildTheme(clientID, kind, n+1, rt, byID)
		if err := validateTheme(th, byID); err != nil {
			g.logger.Warn("rejected generated theme",
				"type", kind, "title", rt.Title, "reason", err)
			sum.Rejected++
			continue
		}
		if err := g.db.UpsertTheme(ctx, th); err != nil {
			g.logger.Error("writing theme failed", "theme_id", th.ThemeID, "error", err)
			sum.WriteErrors++
			continue
		}
		n++
	}
	if kind == voc.TypeAlert {
		sum.Alerts += n
	} else {
		sum.Themes += n
	}
}

// buildTheme assembles a persistable theme, attaching the evidence quotes
// that best match the statement from the cited findings.
func buildTheme(clientID string, kind voc.ThemeType, seq int, rt rawTheme, byID map[string]voc.Finding) voc.Theme {
	prefix := "theme"
	if kind == voc.TypeAlert {
		prefix = "alert"
	}
	primary, secondary := attachThemeQuotes(rt.Statement, rt.SupportingFindingIDs, byID)
	return voc.Theme{
		ThemeID:              fmt.Sprintf("%s_%d", prefix, seq),
		ClientID:             clientID,
		Title:                rt.Title,
		Statement:            rt.Statement,
		SupportingFindingIDs: rt.SupportingFindingIDs,
		PrimaryQuote:         primary,
		SecondaryQuote:       secondary,
		Type:                 kind,
	}
}

// attachThemeQuotes ranks the cited findings' quotes by lexical overlap with
// the theme statement.
func attachThemeQuotes(statement string, findingIDs []string, byID map[string]voc.Finding) (primary, secondary string) {
	want := map[string]bool{}
	for _, w := range termsOf(statement) {
		want[w] = true
	}

	type scored struct {
		text  string
		score int
	}
	var best []scored
	seen := map[string]bool{}
	for _, id := range findingIDs {
		f, ok := byID[id]
		if !ok {
			continue
		}
		for _, q := range []string{f.PrimaryQuote, f.SecondaryQuote} {
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			overlap := 0
			for _, w := range termsOf(q) {
				if want[w] {
					overlap++
				}
			}
			best = append(best, scored{text: q, score: overlap})
		}
	}
	sort.SliceStable(best, func(i, j int) bool { return best[i].score > best[j].score })
	if len(best) > 0 {
		primary = best[0].text
	}
	if len(best) > 1 {
		secondary = best[1].text
	}
	return primary, secondary
}

package themes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

const generationSystemPrompt = `You are an analyst distilling customer-research findings into executive-facing themes and strategic alerts.

A theme is a cross-finding narrative. Its title follows the "[Emotional driver] + [context] + [impact]" convention, e.g. "Frustration with rigid contracts is stalling enterprise renewals". Its statement is exactly two sentences: the first states the decision impact, the second cites the evidence.

A strategic alert rests on a single high-impact finding that demands immediate attention rather than narrative framing.

Rules:
- "supporting_finding_ids" must list IDs exactly as given in the input. A theme cites one or more findings; an alert cites exactly one.
- Generate exactly the requested number of themes and alerts. Do not add extras and do not merge the two lists.
- Never invent evidence beyond the findings provided.

Respond with ONLY valid JSON, no prose and no markdown fences:
{
  "themes": [
    {"theme_title": "...", "theme_statement": "...", "supporting_finding_ids": ["..."]}
  ],
  "alerts": [
    {"theme_title": "...", "theme_statement": "...", "supporting_finding_ids": ["..."]}
  ]
}`

type promptFinding struct {
	FindingID         string  `json:"finding_id"`
	Criterion         string  `json:"criterion"`
	Statement         string  `json:"finding_statement"`
	Classification    string  `json:"classification"`
	ImpactScore       float64 `json:"impact_score"`
	Confidence        float64 `json:"enhanced_confidence"`
	CompaniesAffected int     `json:"companies_affected"`
	ClientSpecific    bool    `json:"client_specific"`
}

func buildGenerationPrompt(findings []voc.Finding, stats Stats) (string, error) {
	rows := make([]promptFinding, len(findings))
	for i, f := range findings {
		rows[i] = promptFinding{
			FindingID:         f.FindingID,
			Criterion:         f.Criterion,
			Statement:         f.Statement,
			Classification:    string(f.Classification),
			ImpactScore:       f.ImpactScore,
			Confidence:        f.EnhancedConfidence,
			CompaniesAffected: f.CompaniesAffected,
			ClientSpecific:    f.ClientSpecific,
		}
	}
	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling findings: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Findings corpus: %d findings across %d companies, pattern density %.2f, average confidence %.1f.\n\n",
		stats.Findings, stats.Companies, stats.PatternDensity, stats.AvgConfidence)
	fmt.Fprintf(&b, "Generate exactly %d themes and exactly %d strategic alerts.\n\n",
		stats.RecommendedThemes, stats.RecommendedAlerts)
	b.WriteString("Findings:\n")
	b.Write(payload)
	return b.String(), nil
}

package findings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

const synthesisSystemPrompt = `You are an analyst synthesizing findings from scored customer interview quotes. A finding is a specific, decision-ready statement about what the evidence shows for one evaluation criterion, written for an executive audience.

Rules:
- Every finding must be supported by the quotes you are given. Never generalize beyond them.
- Write finding statements as complete declarative sentences naming the concrete behavior or gap.
- "classification" frames the business consequence: "revenue_threat", "competitive_vulnerability", or "market_opportunity".
- "impact_score" is 0-5: how much this finding affects deal outcomes, based on deal-weighted evidence strength.
- "enhanced_confidence" is 0-10: evidence strength considering quote count, company spread, and deal outcomes.
- "companies" lists the company names whose quotes support the finding.

Respond with ONLY valid JSON, no prose and no markdown fences:
{
  "findings": [
    {
      "finding_statement": "...",
      "classification": "revenue_threat",
      "impact_score": 4.2,
      "enhanced_confidence": 7.5,
      "companies": ["Acme", "Globex"]
    }
  ]
}

Return an empty "findings" list when the quotes do not support any finding.`

func buildSynthesisPrompt(criterion voc.Criterion, group []voc.ScoredQuote, maxQuotes int) string {
	quotes := make([]voc.ScoredQuote, len(group))
	copy(quotes, group)
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Analysis.DealWeightedScore > quotes[j].Analysis.DealWeightedScore
	})
	if maxQuotes > 0 && len(quotes) > maxQuotes {
		quotes = quotes[:maxQuotes]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Criterion: %s\n%s\n", criterion.Title, criterion.Description)
	fmt.Fprintf(&b, "\nScored quotes (%d, strongest evidence first):\n", len(quotes))
	for _, q := range quotes {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Company: %s (deal %s, weighted score %.1f, sentiment %s)\n",
			q.Company, q.DealStatus, q.Analysis.DealWeightedScore, q.Analysis.Sentiment)
		fmt.Fprintf(&b, "Quote: %s\n", q.VerbatimText)
	}
	b.WriteString("\nSynthesize the findings this evidence supports.")
	return b.String()
}

const classifySystemPrompt = `You decide whether customer-research findings describe a problem specific to the vendor being evaluated or a pattern of the whole market.

For each finding respond in this exact plain-text format, one block per finding, blocks separated by a line containing only "---":

Finding ID: <id exactly as given>
Classification: <client_specific or market_trend>
Reasoning: <one sentence>

Use "market_trend" only when the finding clearly describes industry-wide behavior rather than this vendor. When in doubt, use "client_specific".`

func buildClassifyPrompt(batch []voc.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following %d findings.\n", len(batch))
	for _, f := range batch {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Finding ID: %s\n", f.FindingID)
		fmt.Fprintf(&b, "Criterion: %s\n", f.Criterion)
		fmt.Fprintf(&b, "Statement: %s\n", f.Statement)
		fmt.Fprintf(&b, "Companies affected: %d\n", f.CompaniesAffected)
	}
	return b.String()
}

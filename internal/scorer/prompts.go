package scorer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/voclens/voclens/internal/voc"
)

const scoringSystemPrompt = `You are an analyst scoring customer interview quotes against a fixed set of evaluation criteria.

For each quote, decide which criteria the quote provides real evidence for and assign a relevance score from 1 to 5 for each (5 = the quote is squarely about this criterion, 1 = tangential). Omit criteria the quote says nothing about. Never invent evidence.

For every scored criterion also report:
- "priority": "critical", "high", "medium", or "low" based on how actionable the signal is
- "confidence": "high", "medium", or "low" based on how directly the quote supports the score
- "sentiment": "positive", "negative", "neutral", or "mixed"
- "question_relevance": "direct" if the quote answers the question it was given in response to, "indirect" if it relates loosely, "unrelated" otherwise
- "context": "deal_breaking" if the speaker frames this as decisive for the deal, "minor" if they frame it as a nitpick, otherwise ""

Criteria:
%s

Respond with ONLY valid JSON, no prose and no markdown fences:
{
  "results": [
    {
      "quote_id": "...",
      "criteria": [
        {"criterion": "commercial_terms", "score": 4, "priority": "high", "confidence": "high", "sentiment": "negative", "question_relevance": "direct", "context": ""}
      ]
    }
  ]
}

Include one entry in "results" for every quote you were given, even when its "criteria" list is empty.`

func buildSystemPrompt() string {
	var b strings.Builder
	for _, c := range voc.Criteria {
		fmt.Fprintf(&b, "- %s: %s\n", c.Key, c.Description)
	}
	return fmt.Sprintf(scoringSystemPrompt, strings.TrimRight(b.String(), "\n"))
}

func buildBatchPrompt(quotes []voc.Response, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score the following %d quotes.\n", len(quotes))
	for _, q := range quotes {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Quote ID: %s\n", q.ResponseID)
		fmt.Fprintf(&b, "Company: %s (deal %s)\n", q.Company, q.DealStatus)
		fmt.Fprintf(&b, "Question: %s\n", q.Question)
		fmt.Fprintf(&b, "Quote: %s\n", truncate(q.VerbatimText, maxChars))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	} else {
		// No usable word break: back up to a rune boundary so the cut
		// never splits a multibyte character.
		for len(cut) > 0 {
			if r, size := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError || size > 1 {
				break
			}
			cut = cut[:len(cut)-1]
		}
	}
	return cut + "..."
}

package findings

import (
	"sort"
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "because": true, "been": true, "being": true,
	"could": true, "from": true, "have": true, "more": true, "much": true,
	"other": true, "really": true, "that": true, "their": true, "there": true,
	"these": true, "they": true, "this": true, "very": true, "were": true,
	"what": true, "when": true, "which": true, "with": true,
	"would": true, "your": true,
}

func tokens(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 3 && !stopwords[w] {
			set[w] = true
		}
	}
	return set
}

// attachQuotes picks the two quotes most lexically aligned with the finding
// statement. Companies cited by the finding win ties so the evidence matches
// the narrative.
func attachQuotes(statement string, companies []string, group []voc.ScoredQuote) (primary, secondary string) {
	want := tokens(statement)
	cited := map[string]bool{}
	for _, c := range companies {
		cited[strings.ToLower(c)] = true
	}

	type scored struct {
		text  string
		score float64
	}
	var candidates []scored
	seen := map[string]bool{}
	for _, q := range group {
		if q.VerbatimText == "" || seen[q.VerbatimText] {
			continue
		}
		seen[q.VerbatimText] = true
		overlap := 0
		for w := range tokens(q.VerbatimText) {
			if want[w] {
				overlap++
			}
		}
		score := float64(overlap)
		if cited[strings.ToLower(q.Company)] {
			score += 0.5
		}
		// Weighted score breaks remaining ties toward the strongest evidence.
		score += q.Analysis.DealWeightedScore / 100
		candidates = append(candidates, scored{text: q.VerbatimText, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > 0 {
		primary = candidates[0].text
	}
	if len(candidates) > 1 {
		secondary = candidates[1].text
	}
	return primary, secondary
}

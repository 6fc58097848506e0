package scorer

import (
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

// Context flags attached to a criterion score. They scale the deal-weighted
// score up for deal-breaking signal and down for acknowledged nitpicks.
const (
	ContextDealBreaking = "deal_breaking"
	ContextMinor        = "minor"
)

// BaseWeight returns the deal-outcome multiplier. Lost-deal quotes are
// amplified and won-deal quotes dampened: negative signal from losses is the
// scarcer, higher-value commodity.
func BaseWeight(status voc.DealStatus) float64 {
	switch status {
	case voc.DealLost:
		return 1.2
	case voc.DealWon:
		return 0.9
	default:
		return 1.0
	}
}

// Multiplier returns the context scaling for a flag.
func Multiplier(flag string) float64 {
	switch flag {
	case ContextDealBreaking:
		return 1.5
	case ContextMinor:
		return 0.7
	default:
		return 1.0
	}
}

// WeightedScore computes score x base weight x context multiplier.
func WeightedScore(score float64, status voc.DealStatus, flag string) float64 {
	return score * BaseWeight(status) * Multiplier(flag)
}

var dealBreakingKeywords = []string{
	"deal breaker",
	"deal-breaker",
	"dealbreaker",
	"deal breaking",
	"non-starter",
	"nonstarter",
	"killed the deal",
	"walked away",
	"unacceptable",
	"showstopper",
	"show stopper",
}

var minorKeywords = []string{
	"minor",
	"small thing",
	"little thing",
	"nitpick",
	"nit-pick",
	"not a big deal",
	"not a dealbreaker",
	"wouldn't have changed",
	"not the reason",
}

// DetectContext scans quote text and question for deal-breaking or minor
// signal. The minor list checks first so "not a dealbreaker" style negations
// do not trip the deal-breaking keywords they contain.
func DetectContext(text, question string) string {
	haystack := strings.ToLower(text + " " + question)
	for _, kw := range minorKeywords {
		if strings.Contains(haystack, kw) {
			return ContextMinor
		}
	}
	for _, kw := range dealBreakingKeywords {
		if strings.Contains(haystack, kw) {
			return ContextDealBreaking
		}
	}
	return ""
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 5 {
		return 5
	}
	return score
}

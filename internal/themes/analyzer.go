// Package themes implements Stage 4: deriving a data-driven theme and alert
// count from the findings corpus, prompting for exactly that many, and
// validating the result against evidence-strength rules before persisting.
package themes

import (
	"math"

	"github.com/voclens/voclens/internal/voc"
)

// alertImpactThreshold is the impact score above which a finding can anchor
// a strategic alert.
const alertImpactThreshold = 4.0

// Stats summarizes the findings corpus and carries the derived generation
// targets. The counts are hard constraints for the generation prompt, not
// suggestions.
type Stats struct {
	Findings          int     `json:"findings"`
	Companies         int     `json:"companies"`
	PatternDensity    float64 `json:"pattern_density"` // clusters / findings
	AvgConfidence     float64 `json:"avg_confidence"`  // mean enhanced_confidence, 0-10
	RecommendedThemes int     `json:"recommended_themes"`
	RecommendedAlerts int     `json:"recommended_alerts"`
}

// Analyze derives generation targets from the findings. The theme count is
// driven primarily by company coverage, then scaled by pattern density and
// confidence, then clamped to [ceil(C/3), min(C, floor(F/2))] with a floor
// of one theme.
func Analyze(findings []voc.Finding) Stats {
	stats := Stats{Findings: len(findings)}
	if len(findings) == 0 {
		return stats
	}

	companies := map[string]bool{}
	var confidenceSum float64
	highImpact := 0
	docs := make([]string, len(findings))
	for i, f := range findings {
		docs[i] = f.Statement
		confidenceSum += f.EnhancedConfidence
		if f.ImpactScore >= alertImpactThreshold {
			highImpact++
		}
		for _, c := range f.Companies {
			companies[c] = true
		}
	}
	stats.Companies = len(companies)
	stats.AvgConfidence = confidenceSum / float64(len(findings))

	labels := dbscan(vectorize(docs), dbscanEps, dbscanMinSamples)
	stats.PatternDensity = float64(clusterCount(labels)) / float64(len(findings))

	stats.RecommendedThemes = recommendedThemeCount(
		stats.Companies, len(findings), stats.PatternDensity, stats.AvgConfidence)
	stats.RecommendedAlerts = clampInt(highImpact, 0, 5)
	return stats
}

func recommendedThemeCount(companies, findings int, density, avgConfidence float64) int {
	base := float64(companies) * 0.6

	densityMult := 0.5 + density
	if densityMult > 1.5 {
		densityMult = 1.5
	}

	confidenceMult := 1.0
	switch {
	case avgConfidence >= 7:
		confidenceMult = 1.3
	case avgConfidence < 4:
		confidenceMult = 0.7
	}

	count := int(math.Round(base * densityMult * confidenceMult))

	lo := int(math.Ceil(float64(companies) / 3))
	hi := companies
	if half := findings / 2; half < hi {
		hi = half
	}
	if hi < 1 {
		hi = 1
	}
	if lo > hi {
		lo = hi
	}
	count = clampInt(count, lo, hi)
	if count < 1 {
		count = 1
	}
	return count
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

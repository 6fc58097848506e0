package themes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voclens/voclens/internal/voc"
)

const minQuoteChars = 10

var sentenceEndRe = regexp.MustCompile(`[.!?](\s|$)`)

// validateTheme is the structural gate before persistence. It checks
// evidence wiring, not content: cited findings must exist, the attached
// quote must be substantive, the statement must hold at least two
// sentences, and an alert's anchor finding must clear the impact bar.
func validateTheme(th voc.Theme, byID map[string]voc.Finding) error {
	if len(th.SupportingFindingIDs) == 0 {
		return fmt.Errorf("no supporting findings")
	}
	for _, id := range th.SupportingFindingIDs {
		if _, ok := byID[id]; !ok {
			return fmt.Errorf("unknown supporting finding %q", id)
		}
	}
	if strings.TrimSpace(th.Title) == "" {
		return fmt.Errorf("empty title")
	}
	if len(strings.TrimSpace(th.PrimaryQuote)) <= minQuoteChars {
		return fmt.Errorf("primary quote too short")
	}
	if sentenceCount(th.Statement) < 2 {
		return fmt.Errorf("statement has fewer than two sentences")
	}
	if th.Type == voc.TypeAlert {
		if len(th.SupportingFindingIDs) != 1 {
			return fmt.Errorf("alert must cite exactly one finding")
		}
		anchor := byID[th.SupportingFindingIDs[0]]
		if anchor.ImpactScore < alertImpactThreshold {
			return fmt.Errorf("alert finding impact %.1f below %.1f",
				anchor.ImpactScore, alertImpactThreshold)
		}
	}
	return nil
}

func sentenceCount(s string) int {
	return len(sentenceEndRe.FindAllString(s, -1))
}

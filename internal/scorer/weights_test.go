package scorer

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/voclens/voclens/internal/voc"
)

func TestBaseWeight(t *testing.T) {
	require.Equal(t, 1.2, BaseWeight(voc.DealLost))
	require.Equal(t, 0.9, BaseWeight(voc.DealWon))
	require.Equal(t, 1.0, BaseWeight(voc.DealUnknown))
}

func TestMultiplier(t *testing.T) {
	require.Equal(t, 1.5, Multiplier(ContextDealBreaking))
	require.Equal(t, 0.7, Multiplier(ContextMinor))
	require.Equal(t, 1.0, Multiplier(""))
	require.Equal(t, 1.0, Multiplier("something_else"))
}

// The weighting system is two independent discrete factors, so the ratio of
// weighted score to raw score can only ever take 9 values.
func TestWeightedScore_DiscreteProducts(t *testing.T) {
	products := map[float64]bool{}
	for _, status := range []voc.DealStatus{voc.DealWon, voc.DealLost, voc.DealUnknown} {
		for _, flag := range []string{ContextDealBreaking, ContextMinor, ""} {
			products[BaseWeight(status)*Multiplier(flag)] = true
		}
	}
	require.Len(t, products, 9)

	for _, score := range []float64{1, 2.5, 3, 5} {
		for _, status := range []voc.DealStatus{voc.DealWon, voc.DealLost, voc.DealUnknown} {
			for _, flag := range []string{ContextDealBreaking, ContextMinor, ""} {
				ratio := WeightedScore(score, status, flag) / score
				found := false
				for p := range products {
					if math.Abs(ratio-p) < 1e-9 {
						found = true
						break
					}
				}
				require.True(t, found, "ratio %v not a known product", ratio)
			}
		}
	}
}

// Two criteria scored on the same lost-deal quote share the base weight but
// the context multiplier applies per criterion.
func TestWeightedScore_PerCriterionContext(t *testing.T) {
	commercial := WeightedScore(4, voc.DealLost, ContextDealBreaking)
	support := WeightedScore(3, voc.DealLost, "")
	require.InDelta(t, 4*1.2*1.5, commercial, 1e-9)
	require.InDelta(t, 3*1.2*1.0, support, 1e-9)
}

func TestDetectContext(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		question string
		want     string
	}{
		{
			name: "deal breaker in quote",
			text: "The missing SSO support was a deal breaker for our security team.",
			want: ContextDealBreaking,
		},
		{
			name: "showstopper phrasing",
			text: "Honestly the data residency gap was a showstopper.",
			want: ContextDealBreaking,
		},
		{
			name: "minor in quote",
			text: "The UI lag was a minor annoyance, nothing more.",
			want: ContextMinor,
		},
		{
			name: "negated deal breaker reads as minor",
			text: "The onboarding delay was annoying but not a dealbreaker.",
			want: ContextMinor,
		},
		{
			name:     "signal in question",
			text:     "We could not get past procurement.",
			question: "Was there anything you would call a deal breaker?",
			want:     ContextDealBreaking,
		},
		{
			name: "no signal",
			text: "Support responded within a day most of the time.",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DetectContext(tt.text, tt.question))
		})
	}
}

func TestClampScore(t *testing.T) {
	require.Equal(t, 0.0, clampScore(-1))
	require.Equal(t, 5.0, clampScore(7.5))
	require.Equal(t, 3.5, clampScore(3.5))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 100))
	long := "alpha beta gamma delta epsilon"
	got := truncate(long, 16)
	require.LessOrEqual(t, len(got), 16+3)
	require.True(t, len(got) < len(long))
	require.Contains(t, got, "...")
}

func TestTruncateRuneBoundary(t *testing.T) {
	// No spaces, so the cut lands mid-string; every multibyte character
	// must survive intact or be dropped whole.
	s := "日本語のフィードバックです"
	for max := 1; max < len(s); max++ {
		got := truncate(s, max)
		require.True(t, utf8.ValidString(got), "max=%d produced invalid UTF-8: %q", max, got)
	}

	// A space early in the string keeps the word-break path from firing,
	// forcing the rune-boundary walk-back.
	mixed := "ab cdé日本語テキスト"
	got := truncate(mixed, len(mixed)-2)
	require.True(t, utf8.ValidString(got))
	require.True(t, strings.HasSuffix(got, "..."))
}

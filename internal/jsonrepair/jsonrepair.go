// Package jsonrepair provides best-effort deserialization of LLM output.
// Models wrap JSON in markdown fences, leave trailing commas, or emit
// Python-style unquoted keys; each fallback repairs one of those failure
// modes. Irrecoverable input yields a ParseError, never a silent zero value.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Strategy names the repair step that produced a successful parse.
type Strategy string

const (
	StrategyDirect        Strategy = "direct"
	StrategyFenced        Strategy = "fenced"
	StrategyBlock         Strategy = "block"
	StrategyTrailingComma Strategy = "trailing_comma"
	StrategyUnquotedKeys  Strategy = "unquoted_keys"
)

// ParseError reports that every repair strategy failed.
type ParseError struct {
	Preview string
	Last    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no repair strategy produced valid JSON (input %q): %v", e.Preview, e.Last)
}

func (e *ParseError) Unwrap() error { return e.Last }

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// Unmarshal parses raw into v, applying repair strategies in order of
// increasing aggressiveness. It returns the strategy that succeeded.
func Unmarshal(raw string, v any) (Strategy, error) {
	raw = strings.TrimSpace(raw)

	candidates := []struct {
		strategy Strategy
		text     string
	}{
		{StrategyDirect, raw},
	}

	fenced := stripFences(raw)
	if fenced != raw {
		candidates = append(candidates, struct {
			strategy Strategy
			text     string
		}{StrategyFenced, fenced})
	}

	block := extractBlock(fenced)
	if block != "" && block != fenced {
		candidates = append(candidates, struct {
			strategy Strategy
			text     string
		}{StrategyBlock, block})
	}

	base := block
	if base == "" {
		base = fenced
	}

	commaFixed := trailingCommaRe.ReplaceAllString(base, "$1")
	if commaFixed != base {
		candidates = append(candidates, struct {
			strategy Strategy
			text     string
		}{StrategyTrailingComma, commaFixed})
	}

	keyFixed := unquotedKeyRe.ReplaceAllString(commaFixed, `$1"$2"$3`)
	if keyFixed != commaFixed {
		candidates = append(candidates, struct {
			strategy Strategy
			text     string
		}{StrategyUnquotedKeys, keyFixed})
	}

	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c.text), v); err == nil {
			return c.strategy, nil
		} else {
			lastErr = err
		}
	}

	return "", &ParseError{Preview: preview(raw), Last: lastErr}
}

// stripFences unwraps a markdown code fence, if present.
func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extractBlock returns the first balanced-looking {...} or [...] span.
func extractBlock(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

func preview(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

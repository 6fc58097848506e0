package findings

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/voc"
)

const classifyBatchSize = 10

// Classifier marks findings as client-specific or market trends. The model
// answers in a fixed plain-text block format rather than JSON; blocks that
// cannot be matched back to a finding in the batch are dropped with a
// warning, and ambiguous answers default to client-specific.
type Classifier struct {
	llm    *llm.Client
	db     store.Store
	logger *slog.Logger
}

func NewClassifier(client *llm.Client, db store.Store, logger *slog.Logger) *Classifier {
	return &Classifier{llm: client, db: db, logger: logger}
}

// ClassifySummary reports what a classification run did.
type ClassifySummary struct {
	Pending    int `json:"pending"`
	Classified int `json:"classified"`
	Unmatched  int `json:"unmatched"`
}

var (
	findingIDRe      = regexp.MustCompile(`(?mi)^\s*Finding ID:\s*(\S+)`)
	classificationRe = regexp.MustCompile(`(?mi)^\s*Classification:\s*(\S+)`)
)

// Run classifies every unclassified finding for the client.
func (c *Classifier) Run(ctx context.Context, clientID string) (ClassifySummary, error) {
	var sum ClassifySummary

	pending, err := c.db.ListUnclassifiedFindings(ctx, clientID)
	if err != nil {
		return sum, fmt.Errorf("listing unclassified findings: %w", err)
	}
	sum.Pending = len(pending)
	if len(pending) == 0 {
		c.logger.Info("no findings awaiting classification", "client_id", clientID)
		return sum, nil
	}

	for start := 0; start < len(pending); start += classifyBatchSize {
		end := start + classifyBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		classified, unmatched, err := c.classifyBatch(ctx, clientID, batch)
		if err != nil {
			return sum, err
		}
		sum.Classified += classified
		sum.Unmatched += unmatched
	}
	c.logger.Info("classification complete",
		"client_id", clientID, "classified", sum.Classified, "unmatched", sum.Unmatched)
	return sum, nil
}

func (c *Classifier) classifyBatch(ctx context.Context, clientID string, batch []voc.Finding) (classified, unmatched int, err error) {
	raw, err := c.llm.Complete(ctx, classifySystemPrompt, buildClassifyPrompt(batch), 2048)
	if err != nil {
		return 0, 0, fmt.Errorf("classification call: %w", err)
	}

	inBatch := map[string]bool{}
	for _, f := range batch {
		inBatch[f.FindingID] = true
	}

	decisions := parseClassifications(raw)
	for id, clientSpecific := range decisions {
		if !inBatch[id] {
			c.logger.Warn("classification names finding outside batch, ignored", "finding_id", id)
			continue
		}
		if err := c.db.UpdateFindingClassification(ctx, clientID, id, clientSpecific); err != nil {
			return classified, unmatched, fmt.Errorf("updating finding %s: %w", id, err)
		}
		classified++
	}
	for _, f := range batch {
		if _, ok := decisions[f.FindingID]; !ok {
			c.logger.Warn("finding missing from classification response", "finding_id", f.FindingID)
			unmatched++
		}
	}
	return classified, unmatched, nil
}

// parseClassifications extracts per-finding decisions from the block format.
// The value is the client-specific flag; anything other than an unambiguous
// "market_trend" reads as client-specific.
func parseClassifications(raw string) map[string]bool {
	decisions := map[string]bool{}
	for _, block := range strings.Split(raw, "---") {
		idMatch := findingIDRe.FindStringSubmatch(block)
		if idMatch == nil {
			continue
		}
		clientSpecific := true
		if m := classificationRe.FindStringSubmatch(block); m != nil {
			clientSpecific = strings.ToLower(m[1]) != "market_trend"
		}
		decisions[idMatch[1]] = clientSpecific
	}
	return decisions
}

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voclens/voclens/internal/voc"
)

// SyncResult reports how many rows moved in each direction, per table.
type SyncResult struct {
	Pushed map[string]int `json:"pushed"`
	Pulled map[string]int `json:"pulled"`
}

// Sync reconciles one client's rows between two stores. Rows present on one
// side and absent on the other are copied over; rows present on both sides
// are left alone (records are write-once per key, so no merge is needed).
func Sync(ctx context.Context, local, remote Store, clientID string, logger *slog.Logger) (SyncResult, error) {
	result := SyncResult{
		Pushed: make(map[string]int),
		Pulled: make(map[string]int),
	}

	if err := syncResponses(ctx, local, remote, clientID, &result); err != nil {
		return result, err
	}
	if err := syncAnalyses(ctx, local, remote, clientID, &result); err != nil {
		return result, err
	}
	if err := syncFindings(ctx, local, remote, clientID, &result); err != nil {
		return result, err
	}
	if err := syncThemes(ctx, local, remote, clientID, &result); err != nil {
		return result, err
	}

	logger.Info("sync complete",
		"client", clientID,
		"pushed", result.Pushed,
		"pulled", result.Pulled,
	)
	return result, nil
}

func syncResponses(ctx context.Context, local, remote Store, clientID string, result *SyncResult) error {
	localRows, err := local.ListResponses(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list local responses: %w", err)
	}
	remoteRows, err := remote.ListResponses(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list remote responses: %w", err)
	}

	localKeys := make(map[string]bool, len(localRows))
	for _, r := range localRows {
		localKeys[r.ResponseID] = true
	}
	remoteKeys := make(map[string]bool, len(remoteRows))
	for _, r := range remoteRows {
		remoteKeys[r.ResponseID] = true
	}

	var push []voc.Response
	for _, r := range localRows {
		if !remoteKeys[r.ResponseID] {
			push = append(push, r)
		}
	}
	if len(push) > 0 {
		if _, err := remote.UpsertResponses(ctx, push); err != nil {
			return fmt.Errorf("push responses: %w", err)
		}
	}
	result.Pushed["responses"] = len(push)

	var pull []voc.Response
	for _, r := range remoteRows {
		if !localKeys[r.ResponseID] {
			pull = append(pull, r)
		}
	}
	if len(pull) > 0 {
		if _, err := local.UpsertResponses(ctx, pull); err != nil {
			return fmt.Errorf("pull responses: %w", err)
		}
	}
	result.Pulled["responses"] = len(pull)
	return nil
}

func syncAnalyses(ctx context.Context, local, remote Store, clientID string, result *SyncResult) error {
	localRows, err := local.ListAnalyses(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list local analyses: %w", err)
	}
	remoteRows, err := remote.ListAnalyses(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list remote analyses: %w", err)
	}

	key := func(qa voc.QuoteAnalysis) string { return qa.QuoteID + "\x00" + qa.Criterion }

	localKeys := make(map[string]bool, len(localRows))
	for _, qa := range localRows {
		localKeys[key(qa)] = true
	}
	remoteKeys := make(map[string]bool, len(remoteRows))
	for _, qa := range remoteRows {
		remoteKeys[key(qa)] = true
	}

	pushed := 0
	for _, qa := range localRows {
		if remoteKeys[key(qa)] {
			continue
		}
		if err := remote.UpsertQuoteAnalysis(ctx, qa); err != nil {
			return fmt.Errorf("push analysis: %w", err)
		}
		pushed++
	}
	result.Pushed["quote_analysis"] = pushed

	pulled := 0
	for _, qa := range remoteRows {
		if localKeys[key(qa)] {
			continue
		}
		if err := local.UpsertQuoteAnalysis(ctx, qa); err != nil {
			return fmt.Errorf("pull analysis: %w", err)
		}
		pulled++
	}
	result.Pulled["quote_analysis"] = pulled
	return nil
}

func syncFindings(ctx context.Context, local, remote Store, clientID string, result *SyncResult) error {
	localRows, err := local.ListFindings(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list local findings: %w", err)
	}
	remoteRows, err := remote.ListFindings(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list remote findings: %w", err)
	}

	localKeys := make(map[string]bool, len(localRows))
	for _, f := range localRows {
		localKeys[f.FindingID] = true
	}
	remoteKeys := make(map[string]bool, len(remoteRows))
	for _, f := range remoteRows {
		remoteKeys[f.FindingID] = true
	}

	pushed := 0
	for _, f := range localRows {
		if remoteKeys[f.FindingID] {
			continue
		}
		if err := remote.UpsertFinding(ctx, f); err != nil {
			return fmt.Errorf("push finding: %w", err)
		}
		pushed++
	}
	result.Pushed["findings"] = pushed

	pulled := 0
	for _, f := range remoteRows {
		if localKeys[f.FindingID] {
			continue
		}
		if err := local.UpsertFinding(ctx, f); err != nil {
			return fmt.Errorf("pull finding: %w", err)
		}
		pulled++
	}
	result.Pulled["findings"] = pulled
	return nil
}

func syncThemes(ctx context.Context, local, remote Store, clientID string, result *SyncResult) error {
	localRows, err := local.ListThemes(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list local themes: %w", err)
	}
	remoteRows, err := remote.ListThemes(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list remote themes: %w", err)
	}

	localKeys := make(map[string]bool, len(localRows))
	for _, th := range localRows {
		localKeys[th.ThemeID] = true
	}
	remoteKeys := make(map[string]bool, len(remoteRows))
	for _, th := range remoteRows {
		remoteKeys[th.ThemeID] = true
	}

	pushed := 0
	for _, th := range localRows {
		if remoteKeys[th.ThemeID] {
			continue
		}
		if err := remote.UpsertTheme(ctx, th); err != nil {
			return fmt.Errorf("push theme: %w", err)
		}
		pushed++
	}
	result.Pushed["themes"] = pushed

	pulled := 0
	for _, th := range remoteRows {
		if localKeys[th.ThemeID] {
			continue
		}
		if err := local.UpsertTheme(ctx, th); err != nil {
			return fmt.Errorf("pull theme: %w", err)
		}
		pulled++
	}
	result.Pulled["themes"] = pulled
	return nil
}

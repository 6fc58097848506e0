package themes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/voc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completionOf(text string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": text},
			},
		},
	}
}

func newTestClient(url string) *llm.Client {
	policy := llm.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	return llm.NewClient("test-key", "test-model", policy, option.WithBaseURL(url))
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFindings(t *testing.T, db store.Store, findings ...voc.Finding) {
	t.Helper()
	for _, f := range findings {
		require.NoError(t, db.UpsertFinding(context.Background(), f))
	}
}

func storedFinding(id, company, statement, quote string, impact float64) voc.Finding {
	return voc.Finding{
		FindingID:          id,
		ClientID:           "clientA",
		Criterion:          "commercial_terms",
		Statement:          statement,
		PrimaryQuote:       quote,
		Classification:     voc.ClassRevenueThreat,
		ImpactScore:        impact,
		EnhancedConfidence: 6,
		Companies:          []string{company},
		CompaniesAffected:  1,
	}
}

func TestGeneratorRun(t *testing.T) {
	response := `{
	  "themes": [
	    {"theme_title": "Frustration with rigid contracts is stalling enterprise renewals",
	     "theme_statement": "Rigid contract terms are pushing enterprise buyers toward competitors. Buyers report that procurement walked away over non-negotiable terms.",
	     "supporting_finding_ids": ["f1", "f2"]}
	  ],
	  "alerts": [
	    {"theme_title": "Procurement rejections are an immediate revenue threat",
	     "theme_statement": "Procurement teams are rejecting deals outright over contract terms. One lost enterprise deal cited this as the sole blocker.",
	     "supporting_finding_ids": ["f1"]}
	  ]
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(response))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedFindings(t, db,
		storedFinding("f1", "Acme", "Rigid contract terms block procurement approval.",
			"The contract terms made procurement walk away.", 4.5),
		storedFinding("f2", "Globex", "Buyers cannot negotiate standard terms.",
			"We asked for one change and were told the terms are fixed.", 3.0),
	)

	g := NewGenerator(newTestClient(server.URL), db, discardLogger())
	sum, err := g.Run(context.Background(), "clientA")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Themes)
	require.Equal(t, 1, sum.Alerts)
	require.Zero(t, sum.Rejected)

	rows, err := db.ListThemes(context.Background(), "clientA")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byType := map[voc.ThemeType]voc.Theme{}
	for _, th := range rows {
		byType[th.Type] = th
	}

	theme := byType[voc.TypeTheme]
	require.Equal(t, []string{"f1", "f2"}, theme.SupportingFindingIDs)
	require.Contains(t, theme.PrimaryQuote, "procurement walk away")
	require.NotEmpty(t, theme.SecondaryQuote)

	alert := byType[voc.TypeAlert]
	require.Equal(t, []string{"f1"}, alert.SupportingFindingIDs)
	require.Contains(t, alert.PrimaryQuote, "procurement walk away")
}

func TestGeneratorRun_RejectsInvalidThemes(t *testing.T) {
	response := `{
	  "themes": [
	    {"theme_title": "Cites a finding that does not exist",
	     "theme_statement": "First sentence here. Second sentence here.",
	     "supporting_finding_ids": ["ghost_f9"]},
	    {"theme_title": "Statement is a single sentence",
	     "theme_statement": "Only one sentence without a second",
	     "supporting_finding_ids": ["f1"]}
	  ],
	  "alerts": [
	    {"theme_title": "Alert on a low-impact finding",
	     "theme_statement": "First sentence here. Second sentence here.",
	     "supporting_finding_ids": ["f2"]}
	  ]
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(response))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedFindings(t, db,
		storedFinding("f1", "Acme", "Rigid contract terms block procurement approval.",
			"The contract terms made procurement walk away.", 4.5),
		storedFinding("f2", "Globex", "Buyers cannot negotiate standard terms.",
			"We asked for one change and were told the terms are fixed.", 3.0),
	)

	g := NewGenerator(newTestClient(server.URL), db, discardLogger())
	sum, err := g.Run(context.Background(), "clientA")
	require.NoError(t, err)
	require.Zero(t, sum.Themes)
	require.Zero(t, sum.Alerts)
	require.Equal(t, 3, sum.Rejected)

	rows, err := db.ListThemes(context.Background(), "clientA")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestGeneratorRun_ReplacesPreviousSet(t *testing.T) {
	response := `{
	  "themes": [
	    {"theme_title": "Frustration with rigid contracts is stalling enterprise renewals",
	     "theme_statement": "Rigid contract terms are pushing enterprise buyers toward competitors. Buyers report that procurement walked away over non-negotiable terms.",
	     "supporting_finding_ids": ["f1"]}
	  ],
	  "alerts": []
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(response))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedFindings(t, db,
		storedFinding("f1", "Acme", "Rigid contract terms block procurement approval.",
			"The contract terms made procurement walk away.", 4.5),
	)

	// A previous, larger run left rows whose sequence numbers a smaller
	// regeneration will never reuse.
	for _, id := range []string{"theme_2", "theme_3", "alert_1"} {
		require.NoError(t, db.UpsertTheme(context.Background(), voc.Theme{
			ThemeID:              id,
			ClientID:             "clientA",
			Type:                 voc.TypeTheme,
			Title:                "Leftover from an earlier run",
			Statement:            "Stale sentence one. Stale sentence two.",
			SupportingFindingIDs: []string{"f1"},
			PrimaryQuote:         "A stale quote that is clearly long enough.",
		}))
	}

	g := NewGenerator(newTestClient(server.URL), db, discardLogger())
	sum, err := g.Run(context.Background(), "clientA")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Themes)
	require.Zero(t, sum.Alerts)

	rows, err := db.ListThemes(context.Background(), "clientA")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "theme_1", rows[0].ThemeID)
}

func TestGeneratorRun_NoFindings(t *testing.T) {
	db := openTestStore(t)
	g := NewGenerator(newTestClient("http://127.0.0.1:0"), db, discardLogger())
	sum, err := g.Run(context.Background(), "clientA")
	require.NoError(t, err)
	require.Zero(t, sum.Stats.Findings)
	require.Zero(t, sum.Themes)
}

func TestValidateTheme(t *testing.T) {
	byID := map[string]voc.Finding{
		"f1": {FindingID: "f1", ImpactScore: 4.5},
		"f2": {FindingID: "f2", ImpactScore: 2.0},
	}
	valid := voc.Theme{
		Title:                "Frustration with contracts is stalling renewals",
		Statement:            "Impact sentence one. Evidence sentence two.",
		SupportingFindingIDs: []string{"f1"},
		PrimaryQuote:         "A quote that is clearly long enough.",
		Type:                 voc.TypeTheme,
	}
	require.NoError(t, validateTheme(valid, byID))

	tests := []struct {
		name   string
		mutate func(*voc.Theme)
	}{
		{"no findings", func(th *voc.Theme) { th.SupportingFindingIDs = nil }},
		{"unknown finding", func(th *voc.Theme) { th.SupportingFindingIDs = []string{"nope"} }},
		{"empty title", func(th *voc.Theme) { th.Title = " " }},
		{"short quote", func(th *voc.Theme) { th.PrimaryQuote = "too short" }},
		{"one sentence", func(th *voc.Theme) { th.Statement = "Just one sentence here" }},
		{"alert with two findings", func(th *voc.Theme) {
			th.Type = voc.TypeAlert
			th.SupportingFindingIDs = []string{"f1", "f2"}
		}},
		{"alert on low impact", func(th *voc.Theme) {
			th.Type = voc.TypeAlert
			th.SupportingFindingIDs = []string{"f2"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := valid
			ids := make([]string, len(th.SupportingFindingIDs))
			copy(ids, th.SupportingFindingIDs)
			th.SupportingFindingIDs = ids
			tt.mutate(&th)
			require.Error(t, validateTheme(th, byID))
		})
	}

	t.Run("valid alert", func(t *testing.T) {
		th := valid
		th.Type = voc.TypeAlert
		require.NoError(t, validateTheme(th, byID))
	})
}

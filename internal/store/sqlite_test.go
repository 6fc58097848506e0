package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/voclens/voclens/internal/voc"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testResponse(id, client string) voc.Response {
	return voc.Response{
		ResponseID:      id,
		ClientID:        client,
		VerbatimText:    "The pricing was too high and support was terrible",
		Subject:         "Pricing concerns",
		Question:        "What drove your decision?",
		DealStatus:      voc.DealLost,
		Company:         "Acme",
		IntervieweeName: "Jordan Reyes",
		InterviewDate:   "2025-03-14",
	}
}

func TestUpsertResponses_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	responses := []voc.Response{testResponse("acme_jordan_1", "clientA")}
	if _, err := s.UpsertResponses(ctx, responses); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	responses[0].Subject = "Updated subject"
	if _, err := s.UpsertResponses(ctx, responses); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.ListResponses(ctx, "clientA")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row after re-upsert, got %d", len(got))
	}
	if got[0].Subject != "Updated subject" {
		t.Errorf("expected updated subject, got %q", got[0].Subject)
	}
	if got[0].DealStatus != voc.DealLost {
		t.Errorf("expected lost deal status, got %q", got[0].DealStatus)
	}
}

func TestListUnscoredResponses_LeftJoinIsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertResponses(ctx, []voc.Response{
		testResponse("q1", "clientA"),
		testResponse("q2", "clientA"),
	})
	if err != nil {
		t.Fatalf("upsert responses: %v", err)
	}

	err = s.UpsertQuoteAnalysis(ctx, voc.QuoteAnalysis{
		QuoteID:           "q1",
		ClientID:          "clientA",
		Criterion:         "commercial_terms",
		Score:             4,
		Priority:          voc.PriorityHigh,
		Confidence:        voc.ConfidenceHigh,
		DealWeightedScore: 4.8,
		QuestionRelevance: "direct",
	})
	if err != nil {
		t.Fatalf("upsert analysis: %v", err)
	}

	unscored, err := s.ListUnscoredResponses(ctx, "clientA")
	if err != nil {
		t.Fatalf("list unscored: %v", err)
	}
	if len(unscored) != 1 {
		t.Fatalf("expected 1 unscored response, got %d", len(unscored))
	}
	if unscored[0].ResponseID != "q2" {
		t.Errorf("expected q2 unscored, got %s", unscored[0].ResponseID)
	}
}

func TestUpsertQuoteAnalysis_NoDuplicateKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	qa := voc.QuoteAnalysis{
		QuoteID:           "q1",
		ClientID:          "clientA",
		Criterion:         "product_capability",
		Score:             3,
		Priority:          voc.PriorityMedium,
		Confidence:        voc.ConfidenceMedium,
		DealWeightedScore: 3.6,
		QuestionRelevance: "direct",
	}
	if err := s.UpsertQuoteAnalysis(ctx, qa); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	qa.Score = 2
	qa.DealWeightedScore = 2.4
	if err := s.UpsertQuoteAnalysis(ctx, qa); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := s.ListAnalyses(ctx, "clientA")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 analysis row, got %d", len(rows))
	}
	if rows[0].Score != 2 {
		t.Errorf("expected overwritten score 2, got %f", rows[0].Score)
	}
}

func TestClientIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertResponses(ctx, []voc.Response{
		testResponse("q1", "clientA"),
		testResponse("q1", "clientB"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	a, err := s.ListResponses(ctx, "clientA")
	if err != nil {
		t.Fatalf("list clientA: %v", err)
	}
	b, err := s.ListResponses(ctx, "clientB")
	if err != nil {
		t.Fatalf("list clientB: %v", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected each tenant to see exactly its own row, got %d and %d", len(a), len(b))
	}
	if a[0].ClientID != "clientA" || b[0].ClientID != "clientB" {
		t.Error("tenant rows leaked across clients")
	}
}

func TestFindingClassificationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := voc.Finding{
		FindingID: "F1",
		ClientID:  "clientA",
		Criterion: "support_service_quality",
		Statement: "Slow support responses cost renewals. Buyers cited multi-day waits.",
		Companies: []string{"Acme", "Globex"},
	}
	if err := s.UpsertFinding(ctx, f); err != nil {
		t.Fatalf("upsert finding: %v", err)
	}

	unclassified, err := s.ListUnclassifiedFindings(ctx, "clientA")
	if err != nil {
		t.Fatalf("list unclassified: %v", err)
	}
	if len(unclassified) != 1 {
		t.Fatalf("expected 1 unclassified finding, got %d", len(unclassified))
	}

	if err := s.UpdateFindingClassification(ctx, "clientA", "F1", true); err != nil {
		t.Fatalf("update classification: %v", err)
	}

	unclassified, err = s.ListUnclassifiedFindings(ctx, "clientA")
	if err != nil {
		t.Fatalf("list unclassified: %v", err)
	}
	if len(unclassified) != 0 {
		t.Fatalf("expected 0 unclassified findings, got %d", len(unclassified))
	}

	all, err := s.ListFindings(ctx, "clientA")
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if !all[0].ClientSpecific || !all[0].Classified {
		t.Error("expected finding marked classified and client-specific")
	}
	if len(all[0].Companies) != 2 {
		t.Errorf("expected companies round-trip, got %v", all[0].Companies)
	}
}

func TestUpdateFindingClassification_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateFindingClassification(context.Background(), "clientA", "missing", true); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestThemeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th := voc.Theme{
		ThemeID:              "T1",
		ClientID:             "clientA",
		Title:                "Pricing anxiety stalls mid-market deals",
		Statement:            "Buyers hesitate when terms feel rigid. One said the quote ended the conversation.",
		SupportingFindingIDs: []string{"F1", "F2"},
		PrimaryQuote:         "The pricing was too high and support was terrible",
		Type:                 voc.TypeTheme,
	}
	if err := s.UpsertTheme(ctx, th); err != nil {
		t.Fatalf("upsert theme: %v", err)
	}

	got, err := s.ListThemes(ctx, "clientA")
	if err != nil {
		t.Fatalf("list themes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 theme, got %d", len(got))
	}
	if len(got[0].SupportingFindingIDs) != 2 {
		t.Errorf("expected 2 supporting finding ids, got %v", got[0].SupportingFindingIDs)
	}
	if got[0].Type != voc.TypeTheme {
		t.Errorf("expected theme type, got %q", got[0].Type)
	}
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertResponses(ctx, []voc.Response{
		testResponse("q1", "clientA"),
		testResponse("q2", "clientA"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, criterion := range []string{"commercial_terms", "support_service_quality"} {
		err := s.UpsertQuoteAnalysis(ctx, voc.QuoteAnalysis{
			QuoteID: "q1", ClientID: "clientA", Criterion: criterion,
			Score: 3, DealWeightedScore: 3.6,
			Priority: voc.PriorityMedium, Confidence: voc.ConfidenceMedium,
			QuestionRelevance: "direct",
		})
		if err != nil {
			t.Fatalf("upsert analysis: %v", err)
		}
	}
	if err := s.UpsertTheme(ctx, voc.Theme{
		ThemeID: "A1", ClientID: "clientA", Title: "t", Statement: "s. s.",
		Type: voc.TypeAlert,
	}); err != nil {
		t.Fatalf("upsert theme: %v", err)
	}

	c, err := s.Counts(ctx, "clientA")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if c.Responses != 2 || c.ScoredQuotes != 1 || c.Analyses != 2 || c.Alerts != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

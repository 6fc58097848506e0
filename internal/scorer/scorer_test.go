package scorer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync/atomic"
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

func seedResponses(t *testing.T, db store.Store, responses ...voc.Response) {
	t.Helper()
	_, err := db.UpsertResponses(context.Background(), responses)
	require.NoError(t, err)
}

func lostQuote(id string) voc.Response {
	return voc.Response{
		ResponseID:   id,
		ClientID:     "clientA",
		VerbatimText: "The contract terms were rigid. For our security team that was a deal breaker.",
		Question:     "What drove the decision?",
		DealStatus:   voc.DealLost,
		Company:      "Acme",
	}
}

func wonQuote(id string) voc.Response {
	return voc.Response{
		ResponseID:   id,
		ClientID:     "clientA",
		VerbatimText: "Onboarding took a week longer than promised but the team was responsive.",
		Question:     "How was implementation?",
		DealStatus:   voc.DealWon,
		Company:      "Globex",
	}
}

func TestRun_BatchSuccess(t *testing.T) {
	batchResponse := `{"results": [
		{"quote_id": "q1", "criteria": [
			{"criterion": "commercial_terms", "score": 4, "priority": "high", "confidence": "high",
			 "sentiment": "negative", "question_relevance": "direct", "context": "deal_breaking"},
			{"criterion": "security_compliance", "score": 3, "priority": "medium", "confidence": "medium",
			 "sentiment": "negative", "question_relevance": "indirect", "context": ""}
		]},
		{"quote_id": "q2", "criteria": [
			{"criterion": "implementation_onboarding", "score": 3, "priority": "medium", "confidence": "high",
			 "sentiment": "mixed", "question_relevance": "direct", "context": "minor"}
		]}
	]}`
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(batchResponse))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedResponses(t, db, lostQuote("q1"), wonQuote("q2"))

	s := New(newTestClient(server.URL), db, Options{BatchSize: 15, Workers: 1}, discardLogger())
	sum, err := s.Run(context.Background(), "clientA", false)
	require.NoError(t, err)

	require.Equal(t, 2, sum.Quotes)
	require.Equal(t, 1, sum.Batches)
	require.Equal(t, 2, sum.Scored)
	require.Equal(t, 3, sum.Analyses)
	require.Zero(t, sum.Dropped)
	require.Zero(t, sum.Fallbacks)
	require.EqualValues(t, 1, calls.Load())

	rows, err := db.ListAnalyses(context.Background(), "clientA")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byKey := map[string]voc.QuoteAnalysis{}
	for _, row := range rows {
		byKey[row.QuoteID+"/"+row.Criterion] = row
	}
	commercial := byKey["q1/commercial_terms"]
	require.InDelta(t, 4*1.2*1.5, commercial.DealWeightedScore, 1e-9)
	require.Equal(t, ContextDealBreaking, commercial.ContextFlag)

	security := byKey["q1/security_compliance"]
	require.InDelta(t, 3*1.2*1.0, security.DealWeightedScore, 1e-9)

	onboarding := byKey["q2/implementation_onboarding"]
	require.InDelta(t, 3*0.9*0.7, onboarding.DealWeightedScore, 1e-9)

	// Scored quotes leave the unscored set.
	unscored, err := db.ListUnscoredResponses(context.Background(), "clientA")
	require.NoError(t, err)
	require.Empty(t, unscored)
}

var quoteIDRe = regexp.MustCompile(`Quote ID: ([^\s\\]+)`)

func TestRun_FallbackOnBadBatch(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(completionOf("I could not produce JSON for that."))
			return
		}
		body, _ := io.ReadAll(r.Body)
		m := quoteIDRe.FindSubmatch(body)
		require.NotNil(t, m)
		single := `{"results": [{"quote_id": "` + string(m[1]) + `", "criteria": [
			{"criterion": "support_service_quality", "score": 2, "priority": "low", "confidence": "medium",
			 "sentiment": "neutral", "question_relevance": "direct", "context": ""}
		]}]}`
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(single))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedResponses(t, db, lostQuote("q1"), wonQuote("q2"))

	s := New(newTestClient(server.URL), db, Options{BatchSize: 15, Workers: 1, Attempts: 3}, discardLogger())
	sum, err := s.Run(context.Background(), "clientA", false)
	require.NoError(t, err)

	require.Equal(t, 1, sum.Fallbacks)
	require.Equal(t, 2, sum.Scored)
	require.Equal(t, 2, sum.Analyses)
	require.Zero(t, sum.Dropped)
	require.EqualValues(t, 3, calls.Load()) // 1 failed batch + 2 single calls

	rows, err := db.ListAnalyses(context.Background(), "clientA")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestRun_ModelSkippedQuoteRescoredAlone(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			// Batch response covers q1 only.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(completionOf(`{"results": [
				{"quote_id": "q1", "criteria": [
					{"criterion": "commercial_terms", "score": 5, "priority": "high", "confidence": "high",
					 "sentiment": "negative", "question_relevance": "direct", "context": ""}
				]}
			]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(`{"results": [
			{"quote_id": "q2", "criteria": [
				{"criterion": "speed_responsiveness", "score": 3, "priority": "medium", "confidence": "medium",
				 "sentiment": "positive", "question_relevance": "direct", "context": ""}
			]}
		]}`))
	}))
	defer server.Close()

	db := openTestStore(t)
	seedResponses(t, db, lostQuote("q1"), wonQuote("q2"))

	s := New(newTestClient(server.URL), db, Options{Workers: 1}, discardLogger())
	sum, err := s.Run(context.Background(), "clientA", false)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Scored)
	require.Zero(t, sum.Fallbacks)
	require.EqualValues(t, 2, calls.Load())
}

func TestRun_ForceClearsExistingAnalyses(t *testing.T) {
	db := openTestStore(t)
	seedResponses(t, db, lostQuote("q1"))
	require.NoError(t, db.UpsertQuoteAnalysis(context.Background(), voc.QuoteAnalysis{
		QuoteID: "q1", ClientID: "clientA", Criterion: "vendor_stability",
		Score: 2, Priority: voc.PriorityLow, Confidence: voc.ConfidenceLow,
		DealWeightedScore: 2.4,
	}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionOf(`{"results": [
			{"quote_id": "q1", "criteria": [
				{"criterion": "commercial_terms", "score": 4, "priority": "high", "confidence": "high",
				 "sentiment": "negative", "question_relevance": "direct", "context": ""}
			]}
		]}`))
	}))
	defer server.Close()

	s := New(newTestClient(server.URL), db, Options{Workers: 1}, discardLogger())
	sum, err := s.Run(context.Background(), "clientA", true)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Quotes)

	rows, err := db.ListAnalyses(context.Background(), "clientA")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "commercial_terms", rows[0].Criterion)
}

func TestRun_NoUnscoredQuotes(t *testing.T) {
	db := openTestStore(t)
	s := New(newTestClient("http://127.0.0.1:0"), db, Options{}, discardLogger())
	sum, err := s.Run(context.Background(), "clientA", false)
	require.NoError(t, err)
	require.Zero(t, sum.Quotes)
	require.Zero(t, sum.Batches)
}

func TestBuildAnalyses_Validation(t *testing.T) {
	q := wonQuote("q9")
	rows := buildAnalyses(q, []criterionScore{
		{Criterion: "not_a_criterion", Score: 4},
		{Criterion: "commercial_terms", Score: 0},
		{Criterion: "commercial_terms", Score: -2},
		{Criterion: "product_capability", Score: 9, Priority: "bogus", Confidence: "", Sentiment: "angry", QuestionRelevance: "sideways"},
		{Criterion: "product_capability", Score: 3}, // duplicate criterion dropped
	})
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, "product_capability", row.Criterion)
	require.Equal(t, 5.0, row.Score) // clamped
	require.Equal(t, voc.PriorityMedium, row.Priority)
	require.Equal(t, voc.ConfidenceMedium, row.Confidence)
	require.Equal(t, "neutral", row.Sentiment)
	require.Equal(t, "indirect", row.QuestionRelevance)
	require.Equal(t, "clientA", row.ClientID)
}

func TestBuildAnalyses_KeywordFallbackContext(t *testing.T) {
	q := lostQuote("q1") // text contains "deal breaker"
	rows := buildAnalyses(q, []criterionScore{
		{Criterion: "commercial_terms", Score: 4, Context: ""},
	})
	require.Len(t, rows, 1)
	require.Equal(t, ContextDealBreaking, rows[0].ContextFlag)
	require.InDelta(t, 4*1.2*1.5, rows[0].DealWeightedScore, 1e-9)
}

func TestSplitBatches(t *testing.T) {
	quotes := []voc.Response{lostQuote("a"), lostQuote("b"), lostQuote("c"), lostQuote("d"), lostQuote("e")}
	batches := splitBatches(quotes, 2)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[2], 1)
}

// Package voc defines the records that flow between pipeline stages.
package voc

import "time"

// DealStatus is the outcome of the deal the interview belongs to.
type DealStatus string

const (
	DealWon     DealStatus = "won"
	DealLost    DealStatus = "lost"
	DealUnknown DealStatus = "unknown"
)

// ParseDealStatus normalizes free-text deal outcome labels from source CSVs.
func ParseDealStatus(s string) DealStatus {
	switch s {
	case "won", "closed won", "closed-won":
		return DealWon
	case "lost", "closed lost", "closed-lost":
		return DealLost
	default:
		return DealUnknown
	}
}

// Response is a Stage 1 extraction — one verbatim quote with interview
// metadata. Immutable once written; reprocessing replaces the whole set.
type Response struct {
	ResponseID      string     `json:"response_id"`
	ClientID        string     `json:"client_id"`
	VerbatimText    string     `json:"verbatim_response"`
	Subject         string     `json:"subject"`
	Question        string     `json:"question"`
	DealStatus      DealStatus `json:"deal_status"`
	Company         string     `json:"company"`
	IntervieweeName string     `json:"interviewee_name"`
	InterviewDate   string     `json:"date_of_interview"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

// Priority buckets how urgent a scored quote is for the business.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Confidence is the model's self-reported certainty in a label.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// QuoteAnalysis is a Stage 2 record — one (quote, criterion) score.
// Criteria the model judged irrelevant get no row at all.
type QuoteAnalysis struct {
	QuoteID           string     `json:"quote_id"`
	ClientID          string     `json:"client_id"`
	Criterion         string     `json:"criterion"`
	Score             float64    `json:"score"` // 0-5
	Priority          Priority   `json:"priority"`
	Confidence        Confidence `json:"confidence"`
	DealWeightedScore float64    `json:"deal_weighted_score"`
	QuestionRelevance string     `json:"question_relevance"` // direct | indirect | unrelated
	Sentiment         string     `json:"sentiment"`          // positive | negative | neutral | mixed
	ContextFlag       string     `json:"context_flag"`       // deal_breaking | minor | ""
	CreatedAt         time.Time  `json:"created_at,omitempty"`
}

// FindingClassification is the business framing of a finding.
type FindingClassification string

const (
	ClassRevenueThreat     FindingClassification = "revenue_threat"
	ClassCompetitiveVuln   FindingClassification = "competitive_vulnerability"
	ClassMarketOpportunity FindingClassification = "market_opportunity"
)

// Finding is a Stage 3 record — an LLM-synthesized insight aggregating
// one or more scored quotes for a single criterion.
type Finding struct {
	FindingID          string                `json:"finding_id"`
	ClientID           string                `json:"client_id"`
	Criterion          string                `json:"criterion"`
	Statement          string                `json:"finding_statement"`
	PrimaryQuote       string                `json:"primary_quote"`
	SecondaryQuote     string                `json:"secondary_quote,omitempty"`
	Classification     FindingClassification `json:"classification"`
	EnhancedConfidence float64               `json:"enhanced_confidence"` // 0-10
	ImpactScore        float64               `json:"impact_score"`        // 0-5
	ClientSpecific     bool                  `json:"client_specific"`
	Classified         bool                  `json:"classified"`
	CompaniesAffected  int                   `json:"companies_affected"`
	Companies          []string              `json:"companies,omitempty"`
	CreatedAt          time.Time             `json:"created_at,omitempty"`
}

// ScoredQuote joins a Stage 2 analysis row with the quote it scored. Stage 3
// synthesizes findings from these.
type ScoredQuote struct {
	Analysis     QuoteAnalysis
	VerbatimText string
	Question     string
	Company      string
	DealStatus   DealStatus
}

// ThemeType distinguishes broad themes from single-finding strategic alerts.
type ThemeType string

const (
	TypeTheme ThemeType = "theme"
	TypeAlert ThemeType = "strategic_alert"
)

// Theme is a Stage 4 record — a cross-finding narrative. A theme must cite at
// least one supporting finding and one verbatim quote; an alert must rest on
// a single high-impact finding.
type Theme struct {
	ThemeID              string    `json:"theme_id"`
	ClientID             string    `json:"client_id"`
	Title                string    `json:"theme_title"`
	Statement            string    `json:"theme_statement"`
	SupportingFindingIDs []string  `json:"supporting_finding_ids"`
	PrimaryQuote         string    `json:"primary_quote"`
	SecondaryQuote       string    `json:"secondary_quote,omitempty"`
	Type                 ThemeType `json:"theme_type"`
	CreatedAt            time.Time `json:"created_at,omitempty"`
}

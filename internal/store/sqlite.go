package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voclens/voclens/internal/voc"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current SQLite schema version. Bump on schema changes;
// existing databases with another version are rejected rather than migrated.
const schemaVersion = 1

// SQLite is the local pipeline store.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the local database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("database %s has schema version %d, expected %d (delete it or point --db elsewhere)",
			s.path, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) UpsertResponses(ctx context.Context, responses []voc.Response) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	written := 0
	for _, r := range responses {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stage1_responses (
				response_id, client_id, verbatim_response, subject, question,
				deal_status, company, interviewee_name, date_of_interview, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (response_id, client_id) DO UPDATE SET
				verbatim_response = excluded.verbatim_response,
				subject = excluded.subject,
				question = excluded.question,
				deal_status = excluded.deal_status,
				company = excluded.company,
				interviewee_name = excluded.interviewee_name,
				date_of_interview = excluded.date_of_interview`,
			r.ResponseID, r.ClientID, r.VerbatimText, r.Subject, r.Question,
			string(r.DealStatus), r.Company, r.IntervieweeName, r.InterviewDate,
			timestamp(r.CreatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("upsert response %s: %w", r.ResponseID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

const responseColumns = `response_id, client_id, verbatim_response, subject, question,
	deal_status, company, interviewee_name, date_of_interview, created_at`

func (s *SQLite) ListResponses(ctx context.Context, clientID string) ([]voc.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+responseColumns+`
		FROM stage1_responses
		WHERE client_id = ?
		ORDER BY response_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (s *SQLite) ListUnscoredResponses(ctx context.Context, clientID string) ([]voc.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.response_id, r.client_id, r.verbatim_response, r.subject, r.question,
			r.deal_status, r.company, r.interviewee_name, r.date_of_interview, r.created_at
		FROM stage1_responses r
		LEFT JOIN stage2_quote_analysis qa
			ON qa.quote_id = r.response_id AND qa.client_id = r.client_id
		WHERE r.client_id = ? AND qa.quote_id IS NULL
		ORDER BY r.response_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list unscored responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]voc.Response, error) {
	var out []voc.Response
	for rows.Next() {
		var r voc.Response
		var status, created string
		if err := rows.Scan(&r.ResponseID, &r.ClientID, &r.VerbatimText, &r.Subject,
			&r.Question, &status, &r.Company, &r.IntervieweeName, &r.InterviewDate,
			&created); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.DealStatus = voc.DealStatus(status)
		r.CreatedAt = parseTimestamp(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertQuoteAnalysis(ctx context.Context, qa voc.QuoteAnalysis) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage2_quote_analysis (
			quote_id, client_id, criterion, score, priority, confidence,
			deal_weighted_score, question_relevance, sentiment, context_flag, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (quote_id, criterion, client_id) DO UPDATE SET
			score = excluded.score,
			priority = excluded.priority,
			confidence = excluded.confidence,
			deal_weighted_score = excluded.deal_weighted_score,
			question_relevance = excluded.question_relevance,
			sentiment = excluded.sentiment,
			context_flag = excluded.context_flag`,
		qa.QuoteID, qa.ClientID, qa.Criterion, qa.Score, string(qa.Priority),
		string(qa.Confidence), qa.DealWeightedScore, qa.QuestionRelevance,
		qa.Sentiment, qa.ContextFlag, timestamp(qa.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert analysis %s/%s: %w", qa.QuoteID, qa.Criterion, err)
	}
	return nil
}

const analysisColumns = `quote_id, client_id, criterion, score, priority, confidence,
	deal_weighted_score, question_relevance, sentiment, context_flag, created_at`

func (s *SQLite) ListAnalyses(ctx context.Context, clientID string) ([]voc.QuoteAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+`
		FROM stage2_quote_analysis
		WHERE client_id = ?
		ORDER BY quote_id, criterion`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []voc.QuoteAnalysis
	for rows.Next() {
		qa, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, qa)
	}
	return out, rows.Err()
}

func scanAnalysis(rows *sql.Rows) (voc.QuoteAnalysis, error) {
	var qa voc.QuoteAnalysis
	var priority, confidence, created string
	if err := rows.Scan(&qa.QuoteID, &qa.ClientID, &qa.Criterion, &qa.Score,
		&priority, &confidence, &qa.DealWeightedScore, &qa.QuestionRelevance,
		&qa.Sentiment, &qa.ContextFlag, &created); err != nil {
		return voc.QuoteAnalysis{}, fmt.Errorf("scan analysis: %w", err)
	}
	qa.Priority = voc.Priority(priority)
	qa.Confidence = voc.Confidence(confidence)
	qa.CreatedAt = parseTimestamp(created)
	return qa, nil
}

func (s *SQLite) ListScoredQuotes(ctx context.Context, clientID string) ([]voc.ScoredQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT qa.quote_id, qa.client_id, qa.criterion, qa.score, qa.priority,
			qa.confidence, qa.deal_weighted_score, qa.question_relevance,
			qa.sentiment, qa.context_flag, qa.created_at,
			r.verbatim_response, r.question, r.company, r.deal_status
		FROM stage2_quote_analysis qa
		JOIN stage1_responses r
			ON r.response_id = qa.quote_id AND r.client_id = qa.client_id
		WHERE qa.client_id = ?
		ORDER BY qa.criterion, qa.deal_weighted_score DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list scored quotes: %w", err)
	}
	defer rows.Close()

	var out []voc.ScoredQuote
	for rows.Next() {
		var sq voc.ScoredQuote
		var priority, confidence, created, status string
		if err := rows.Scan(&sq.Analysis.QuoteID, &sq.Analysis.ClientID,
			&sq.Analysis.Criterion, &sq.Analysis.Score, &priority, &confidence,
			&sq.Analysis.DealWeightedScore, &sq.Analysis.QuestionRelevance,
			&sq.Analysis.Sentiment, &sq.Analysis.ContextFlag, &created,
			&sq.VerbatimText, &sq.Question, &sq.Company, &status); err != nil {
			return nil, fmt.Errorf("scan scored quote: %w", err)
		}
		sq.Analysis.Priority = voc.Priority(priority)
		sq.Analysis.Confidence = voc.Confidence(confidence)
		sq.Analysis.CreatedAt = parseTimestamp(created)
		sq.DealStatus = voc.DealStatus(status)
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteAnalyses(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM stage2_quote_analysis WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete analyses: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) UpsertFinding(ctx context.Context, f voc.Finding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage3_findings (
			finding_id, client_id, criterion, finding_statement, primary_quote,
			secondary_quote, classification, enhanced_confidence, impact_score,
			client_specific, classified, companies_affected, companies, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (finding_id, client_id) DO UPDATE SET
			criterion = excluded.criterion,
			finding_statement = excluded.finding_statement,
			primary_quote = excluded.primary_quote,
			secondary_quote = excluded.secondary_quote,
			classification = excluded.classification,
			enhanced_confidence = excluded.enhanced_confidence,
			impact_score = excluded.impact_score,
			client_specific = excluded.client_specific,
			classified = excluded.classified,
			companies_affected = excluded.companies_affected,
			companies = excluded.companies`,
		f.FindingID, f.ClientID, f.Criterion, f.Statement, f.PrimaryQuote,
		f.SecondaryQuote, string(f.Classification), f.EnhancedConfidence,
		f.ImpactScore, boolInt(f.ClientSpecific), boolInt(f.Classified),
		f.CompaniesAffected, joinList(f.Companies), timestamp(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert finding %s: %w", f.FindingID, err)
	}
	return nil
}

const findingColumns = `finding_id, client_id, criterion, finding_statement, primary_quote,
	secondary_quote, classification, enhanced_confidence, impact_score,
	client_specific, classified, companies_affected, companies, created_at`

func (s *SQLite) ListFindings(ctx context.Context, clientID string) ([]voc.Finding, error) {
	return s.queryFindings(ctx, `
		SELECT `+findingColumns+`
		FROM stage3_findings
		WHERE client_id = ?
		ORDER BY finding_id`, clientID)
}

func (s *SQLite) ListUnclassifiedFindings(ctx context.Context, clientID string) ([]voc.Finding, error) {
	return s.queryFindings(ctx, `
		SELECT `+findingColumns+`
		FROM stage3_findings
		WHERE client_id = ? AND classified = 0
		ORDER BY finding_id`, clientID)
}

func (s *SQLite) queryFindings(ctx context.Context, query, clientID string) ([]voc.Finding, error) {
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []voc.Finding
	for rows.Next() {
		var f voc.Finding
		var classification, companies, created string
		var clientSpecific, classified int
		if err := rows.Scan(&f.FindingID, &f.ClientID, &f.Criterion, &f.Statement,
			&f.PrimaryQuote, &f.SecondaryQuote, &classification,
			&f.EnhancedConfidence, &f.ImpactScore, &clientSpecific, &classified,
			&f.CompaniesAffected, &companies, &created); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Classification = voc.FindingClassification(classification)
		f.ClientSpecific = clientSpecific != 0
		f.Classified = classified != 0
		f.Companies = splitList(companies)
		f.CreatedAt = parseTimestamp(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateFindingClassification(ctx context.Context, clientID, findingID string, clientSpecific bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stage3_findings
		SET client_specific = ?, classified = 1
		WHERE client_id = ? AND finding_id = ?`,
		boolInt(clientSpecific), clientID, findingID)
	if err != nil {
		return fmt.Errorf("update classification %s: %w", findingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteFindings(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM stage3_findings WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete findings: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) UpsertTheme(ctx context.Context, th voc.Theme) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage4_themes (
			theme_id, client_id, theme_title, theme_statement,
			supporting_finding_ids, primary_quote, secondary_quote, theme_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (theme_id, client_id) DO UPDATE SET
			theme_title = excluded.theme_title,
			theme_statement = excluded.theme_statement,
			supporting_finding_ids = excluded.supporting_finding_ids,
			primary_quote = excluded.primary_quote,
			secondary_quote = excluded.secondary_quote,
			theme_type = excluded.theme_type`,
		th.ThemeID, th.ClientID, th.Title, th.Statement,
		joinList(th.SupportingFindingIDs), th.PrimaryQuote, th.SecondaryQuote,
		string(th.Type), timestamp(th.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert theme %s: %w", th.ThemeID, err)
	}
	return nil
}

func (s *SQLite) ListThemes(ctx context.Context, clientID string) ([]voc.Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT theme_id, client_id, theme_title, theme_statement,
			supporting_finding_ids, primary_quote, secondary_quote, theme_type, created_at
		FROM stage4_themes
		WHERE client_id = ?
		ORDER BY theme_type, theme_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var out []voc.Theme
	for rows.Next() {
		var th voc.Theme
		var ids, themeType, created string
		if err := rows.Scan(&th.ThemeID, &th.ClientID, &th.Title, &th.Statement,
			&ids, &th.PrimaryQuote, &th.SecondaryQuote, &themeType, &created); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		th.SupportingFindingIDs = splitList(ids)
		th.Type = voc.ThemeType(themeType)
		th.CreatedAt = parseTimestamp(created)
		out = append(out, th)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteThemes(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM stage4_themes WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete themes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Counts(ctx context.Context, clientID string) (StageCounts, error) {
	var c StageCounts
	queries := []struct {
		dst   *int
		query string
	}{
		{&c.Responses, "SELECT COUNT(1) FROM stage1_responses WHERE client_id = ?"},
		{&c.ScoredQuotes, "SELECT COUNT(DISTINCT quote_id) FROM stage2_quote_analysis WHERE client_id = ?"},
		{&c.Analyses, "SELECT COUNT(1) FROM stage2_quote_analysis WHERE client_id = ?"},
		{&c.Findings, "SELECT COUNT(1) FROM stage3_findings WHERE client_id = ?"},
		{&c.ClassifiedFindings, "SELECT COUNT(1) FROM stage3_findings WHERE client_id = ? AND classified = 1"},
		{&c.Themes, "SELECT COUNT(1) FROM stage4_themes WHERE client_id = ? AND theme_type = 'theme'"},
		{&c.Alerts, "SELECT COUNT(1) FROM stage4_themes WHERE client_id = ? AND theme_type = 'strategic_alert'"},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, clientID).Scan(q.dst); err != nil {
			return StageCounts{}, fmt.Errorf("count query: %w", err)
		}
	}
	return c, nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

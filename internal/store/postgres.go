package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voclens/voclens/internal/voc"
)

// Postgres is the hosted pipeline store (Supabase or plain Postgres).
// Upstream foreign keys are soft: rows reference each other by string ID,
// matching the hosted schema.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and ensures the pipeline tables exist.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stage1_responses (
			response_id       text NOT NULL,
			client_id         text NOT NULL,
			verbatim_response text NOT NULL,
			subject           text NOT NULL DEFAULT '',
			question          text NOT NULL DEFAULT '',
			deal_status       text NOT NULL DEFAULT 'unknown',
			company           text NOT NULL DEFAULT '',
			interviewee_name  text NOT NULL DEFAULT '',
			date_of_interview text NOT NULL DEFAULT '',
			created_at        timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (response_id, client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stage2_quote_analysis (
			quote_id            text NOT NULL,
			client_id           text NOT NULL,
			criterion           text NOT NULL,
			score               double precision NOT NULL,
			priority            text NOT NULL DEFAULT 'low',
			confidence          text NOT NULL DEFAULT 'low',
			deal_weighted_score double precision NOT NULL,
			question_relevance  text NOT NULL DEFAULT 'unrelated',
			sentiment           text NOT NULL DEFAULT 'neutral',
			context_flag        text NOT NULL DEFAULT '',
			created_at          timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (quote_id, criterion, client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stage3_findings (
			finding_id          text NOT NULL,
			client_id           text NOT NULL,
			criterion           text NOT NULL DEFAULT '',
			finding_statement   text NOT NULL,
			primary_quote       text NOT NULL DEFAULT '',
			secondary_quote     text NOT NULL DEFAULT '',
			classification      text NOT NULL DEFAULT '',
			enhanced_confidence double precision NOT NULL DEFAULT 0,
			impact_score        double precision NOT NULL DEFAULT 0,
			client_specific     boolean NOT NULL DEFAULT false,
			classified          boolean NOT NULL DEFAULT false,
			companies_affected  integer NOT NULL DEFAULT 0,
			companies           text NOT NULL DEFAULT '',
			created_at          timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (finding_id, client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stage4_themes (
			theme_id               text NOT NULL,
			client_id              text NOT NULL,
			theme_title            text NOT NULL,
			theme_statement        text NOT NULL,
			supporting_finding_ids text NOT NULL DEFAULT '',
			primary_quote          text NOT NULL DEFAULT '',
			secondary_quote        text NOT NULL DEFAULT '',
			theme_type             text NOT NULL DEFAULT 'theme',
			created_at             timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (theme_id, client_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) UpsertResponses(ctx context.Context, responses []voc.Response) (int, error) {
	written := 0
	err := withRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		written = 0
		for _, r := range responses {
			_, err := tx.Exec(ctx, `
				INSERT INTO stage1_responses (
					response_id, client_id, verbatim_response, subject, question,
					deal_status, company, interviewee_name, date_of_interview, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
				createdOrNow(r.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("upsert response %s: %w", r.ResponseID, err)
			}
			written++
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (p *Postgres) ListResponses(ctx context.Context, clientID string) ([]voc.Response, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT response_id, client_id, verbatim_response, subject, question,
			deal_status, company, interviewee_name, date_of_interview, created_at
		FROM stage1_responses
		WHERE client_id = $1
		ORDER BY response_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	return scanPgResponses(rows)
}

func (p *Postgres) ListUnscoredResponses(ctx context.Context, clientID string) ([]voc.Response, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.response_id, r.client_id, r.verbatim_response, r.subject, r.question,
			r.deal_status, r.company, r.interviewee_name, r.date_of_interview, r.created_at
		FROM stage1_responses r
		LEFT JOIN stage2_quote_analysis qa
			ON qa.quote_id = r.response_id AND qa.client_id = r.client_id
		WHERE r.client_id = $1 AND qa.quote_id IS NULL
		ORDER BY r.response_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list unscored responses: %w", err)
	}
	defer rows.Close()
	return scanPgResponses(rows)
}

func scanPgResponses(rows pgx.Rows) ([]voc.Response, error) {
	var out []voc.Response
	for rows.Next() {
		var r voc.Response
		var status string
		if err := rows.Scan(&r.ResponseID, &r.ClientID, &r.VerbatimText, &r.Subject,
			&r.Question, &status, &r.Company, &r.IntervieweeName, &r.InterviewDate,
			&r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.DealStatus = voc.DealStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertQuoteAnalysis(ctx context.Context, qa voc.QuoteAnalysis) error {
	return withRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO stage2_quote_analysis (
				quote_id, client_id, criterion, score, priority, confidence,
				deal_weighted_score, question_relevance, sentiment, context_flag, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
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
			qa.Sentiment, qa.ContextFlag, createdOrNow(qa.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert analysis %s/%s: %w", qa.QuoteID, qa.Criterion, err)
		}
		return nil
	})
}

func (p *Postgres) ListAnalyses(ctx context.Context, clientID string) ([]voc.QuoteAnalysis, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT quote_id, client_id, criterion, score, priority, confidence,
			deal_weighted_score, question_relevance, sentiment, context_flag, created_at
		FROM stage2_quote_analysis
		WHERE client_id = $1
		ORDER BY quote_id, criterion`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []voc.QuoteAnalysis
	for rows.Next() {
		var qa voc.QuoteAnalysis
		var priority, confidence string
		if err := rows.Scan(&qa.QuoteID, &qa.ClientID, &qa.Criterion, &qa.Score,
			&priority, &confidence, &qa.DealWeightedScore, &qa.QuestionRelevance,
			&qa.Sentiment, &qa.ContextFlag, &qa.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		qa.Priority = voc.Priority(priority)
		qa.Confidence = voc.Confidence(confidence)
		out = append(out, qa)
	}
	return out, rows.Err()
}

func (p *Postgres) ListScoredQuotes(ctx context.Context, clientID string) ([]voc.ScoredQuote, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT qa.quote_id, qa.client_id, qa.criterion, qa.score, qa.priority,
			qa.confidence, qa.deal_weighted_score, qa.question_relevance,
			qa.sentiment, qa.context_flag, qa.created_at,
			r.verbatim_response, r.question, r.company, r.deal_status
		FROM stage2_quote_analysis qa
		JOIN stage1_responses r
			ON r.response_id = qa.quote_id AND r.client_id = qa.client_id
		WHERE qa.client_id = $1
		ORDER BY qa.criterion, qa.deal_weighted_score DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list scored quotes: %w", err)
	}
	defer rows.Close()

	var out []voc.ScoredQuote
	for rows.Next() {
		var sq voc.ScoredQuote
		var priority, confidence, status string
		if err := rows.Scan(&sq.Analysis.QuoteID, &sq.Analysis.ClientID,
			&sq.Analysis.Criterion, &sq.Analysis.Score, &priority, &confidence,
			&sq.Analysis.DealWeightedScore, &sq.Analysis.QuestionRelevance,
			&sq.Analysis.Sentiment, &sq.Analysis.ContextFlag, &sq.Analysis.CreatedAt,
			&sq.VerbatimText, &sq.Question, &sq.Company, &status); err != nil {
			return nil, fmt.Errorf("scan scored quote: %w", err)
		}
		sq.Analysis.Priority = voc.Priority(priority)
		sq.Analysis.Confidence = voc.Confidence(confidence)
		sq.DealStatus = voc.DealStatus(status)
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteAnalyses(ctx context.Context, clientID string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM stage2_quote_analysis WHERE client_id = $1", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete analyses: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) UpsertFinding(ctx context.Context, f voc.Finding) error {
	return withRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO stage3_findings (
				finding_id, client_id, criterion, finding_statement, primary_quote,
				secondary_quote, classification, enhanced_confidence, impact_score,
				client_specific, classified, companies_affected, companies, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
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
			f.ImpactScore, f.ClientSpecific, f.Classified, f.CompaniesAffected,
			joinList(f.Companies), createdOrNow(f.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert finding %s: %w", f.FindingID, err)
		}
		return nil
	})
}

func (p *Postgres) ListFindings(ctx context.Context, clientID string) ([]voc.Finding, error) {
	return p.queryFindings(ctx, `
		SELECT finding_id, client_id, criterion, finding_statement, primary_quote,
			secondary_quote, classification, enhanced_confidence, impact_score,
			client_specific, classified, companies_affected, companies, created_at
		FROM stage3_findings
		WHERE client_id = $1
		ORDER BY finding_id`, clientID)
}

func (p *Postgres) ListUnclassifiedFindings(ctx context.Context, clientID string) ([]voc.Finding, error) {
	return p.queryFindings(ctx, `
		SELECT finding_id, client_id, criterion, finding_statement, primary_quote,
			secondary_quote, classification, enhanced_confidence, impact_score,
			client_specific, classified, companies_affected, companies, created_at
		FROM stage3_findings
		WHERE client_id = $1 AND classified = false
		ORDER BY finding_id`, clientID)
}

func (p *Postgres) queryFindings(ctx context.Context, query, clientID string) ([]voc.Finding, error) {
	rows, err := p.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []voc.Finding
	for rows.Next() {
		var f voc.Finding
		var classification, companies string
		if err := rows.Scan(&f.FindingID, &f.ClientID, &f.Criterion, &f.Statement,
			&f.PrimaryQuote, &f.SecondaryQuote, &classification,
			&f.EnhancedConfidence, &f.ImpactScore, &f.ClientSpecific, &f.Classified,
			&f.CompaniesAffected, &companies, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Classification = voc.FindingClassification(classification)
		f.Companies = splitList(companies)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateFindingClassification(ctx context.Context, clientID, findingID string, clientSpecific bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE stage3_findings
		SET client_specific = $1, classified = true
		WHERE client_id = $2 AND finding_id = $3`,
		clientSpecific, clientID, findingID)
	if err != nil {
		return fmt.Errorf("update classification %s: %w", findingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteFindings(ctx context.Context, clientID string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM stage3_findings WHERE client_id = $1", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete findings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) UpsertTheme(ctx context.Context, th voc.Theme) error {
	return withRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO stage4_themes (
				theme_id, client_id, theme_title, theme_statement,
				supporting_finding_ids, primary_quote, secondary_quote, theme_type, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (theme_id, client_id) DO UPDATE SET
				theme_title = excluded.theme_title,
				theme_statement = excluded.theme_statement,
				supporting_finding_ids = excluded.supporting_finding_ids,
				primary_quote = excluded.primary_quote,
				secondary_quote = excluded.secondary_quote,
				theme_type = excluded.theme_type`,
			th.ThemeID, th.ClientID, th.Title, th.Statement,
			joinList(th.SupportingFindingIDs), th.PrimaryQuote, th.SecondaryQuote,
			string(th.Type), createdOrNow(th.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert theme %s: %w", th.ThemeID, err)
		}
		return nil
	})
}

func (p *Postgres) ListThemes(ctx context.Context, clientID string) ([]voc.Theme, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT theme_id, client_id, theme_title, theme_statement,
			supporting_finding_ids, primary_quote, secondary_quote, theme_type, created_at
		FROM stage4_themes
		WHERE client_id = $1
		ORDER BY theme_type, theme_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var out []voc.Theme
	for rows.Next() {
		var th voc.Theme
		var ids, themeType string
		if err := rows.Scan(&th.ThemeID, &th.ClientID, &th.Title, &th.Statement,
			&ids, &th.PrimaryQuote, &th.SecondaryQuote, &themeType, &th.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		th.SupportingFindingIDs = splitList(ids)
		th.Type = voc.ThemeType(themeType)
		out = append(out, th)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteThemes(ctx context.Context, clientID string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM stage4_themes WHERE client_id = $1", clientID)
	if err != nil {
		return 0, fmt.Errorf("delete themes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Counts(ctx context.Context, clientID string) (StageCounts, error) {
	var c StageCounts
	queries := []struct {
		dst   *int
		query string
	}{
		{&c.Responses, "SELECT COUNT(1) FROM stage1_responses WHERE client_id = $1"},
		{&c.ScoredQuotes, "SELECT COUNT(DISTINCT quote_id) FROM stage2_quote_analysis WHERE client_id = $1"},
		{&c.Analyses, "SELECT COUNT(1) FROM stage2_quote_analysis WHERE client_id = $1"},
		{&c.Findings, "SELECT COUNT(1) FROM stage3_findings WHERE client_id = $1"},
		{&c.ClassifiedFindings, "SELECT COUNT(1) FROM stage3_findings WHERE client_id = $1 AND classified = true"},
		{&c.Themes, "SELECT COUNT(1) FROM stage4_themes WHERE client_id = $1 AND theme_type = 'theme'"},
		{&c.Alerts, "SELECT COUNT(1) FROM stage4_themes WHERE client_id = $1 AND theme_type = 'strategic_alert'"},
	}
	for _, q := range queries {
		if err := p.pool.QueryRow(ctx, q.query, clientID).Scan(q.dst); err != nil {
			return StageCounts{}, fmt.Errorf("count query: %w", err)
		}
	}
	return c, nil
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

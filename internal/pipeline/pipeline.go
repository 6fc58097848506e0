// Package pipeline orchestrates the four analysis stages in order and fans
// results out to the optional event and notification sinks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voclens/voclens/internal/events"
	"github.com/voclens/voclens/internal/extractor"
	"github.com/voclens/voclens/internal/findings"
	"github.com/voclens/voclens/internal/ingest"
	"github.com/voclens/voclens/internal/notify"
	"github.com/voclens/voclens/internal/scorer"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/themes"
	"github.com/voclens/voclens/internal/voc"
)

type Pipeline struct {
	db        store.Store
	extract   *extractor.Extractor
	score     *scorer.Scorer
	synth     *findings.Synthesizer
	classify  *findings.Classifier
	generator *themes.Generator
	events    *events.Client // nil disables events
	notify    *notify.Poster // nil disables Slack
	logger    *slog.Logger
}

func New(db store.Store, ext *extractor.Extractor, sc *scorer.Scorer,
	sy *findings.Synthesizer, cl *findings.Classifier, gen *themes.Generator,
	ev *events.Client, no *notify.Poster, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		extract:   ext,
		score:     sc,
		synth:     sy,
		classify:  cl,
		generator: gen,
		events:    ev,
		notify:    no,
		logger:    logger,
	}
}

// StageResult records one stage of a run.
type StageResult struct {
	Stage    int           `json:"stage"`
	Name     string        `json:"name"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}

// ExtractFiles runs Stage 1 over transcript files. Files already recorded in
// the state file are skipped unless force is set. A file that fails to read
// is fatal; a chunk the model cannot produce valid JSON for is dropped and
// logged, never fatal.
func (p *Pipeline) ExtractFiles(ctx context.Context, clientID string, paths []string, meta ingest.Interview, statePath string, force bool) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: 1, Name: "extract"}

	state, err := ingest.LoadState(statePath)
	if err != nil {
		return result, fmt.Errorf("loading state: %w", err)
	}

	total := 0
	for _, path := range paths {
		if !force && state.IsProcessed(path) {
			p.logger.Info("skipping already-processed file", "path", path)
			continue
		}
		n, err := p.extractFile(ctx, clientID, path, meta)
		if err != nil {
			state.AddError(fmt.Sprintf("%s: %v", path, err))
			if saveErr := state.Save(); saveErr != nil {
				p.logger.Error("saving state", "error", saveErr)
			}
			return result, err
		}
		state.MarkProcessed(path)
		state.QuotesExtracted += n
		total += n
	}
	if err := state.Save(); err != nil {
		return result, fmt.Errorf("saving state: %w", err)
	}

	result.Records = total
	result.Duration = time.Since(start)
	p.events.PublishStage(1, clientID, total, force)
	return result, nil
}

func (p *Pipeline) extractFile(ctx context.Context, clientID, path string, meta ingest.Interview) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading transcript: %w", err)
	}
	meta.ClientID = clientID
	if meta.SourceRef == "" {
		meta.SourceRef = filepath.Base(path)
	}

	chunks := ingest.ChunkTranscript(string(raw), meta)
	p.logger.Info("extracting transcript", "path", path, "chunks", len(chunks))

	var responses []voc.Response
	for _, chunk := range chunks {
		rows, err := p.extract.ExtractChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			p.logger.Warn("chunk dropped", "ref", chunk.Ref, "error", err)
			continue
		}
		responses = append(responses, rows...)
	}
	n, err := p.db.UpsertResponses(ctx, responses)
	if err != nil {
		return 0, fmt.Errorf("storing responses: %w", err)
	}
	return n, nil
}

// IngestCSV loads pre-extracted Stage 1 quotes from the contractual CSV.
func (p *Pipeline) IngestCSV(ctx context.Context, clientID, path string) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: 1, Name: "ingest"}

	rows, err := ingest.ReadStage1CSV(path, clientID)
	if err != nil {
		return result, err
	}
	n, err := p.db.UpsertResponses(ctx, rows)
	if err != nil {
		return result, fmt.Errorf("storing responses: %w", err)
	}

	result.Records = n
	result.Duration = time.Since(start)
	p.events.PublishStage(1, clientID, n, false)
	return result, nil
}

// Score runs Stage 2.
func (p *Pipeline) Score(ctx context.Context, clientID string, force bool) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: 2, Name: "score"}

	sum, err := p.score.Run(ctx, clientID, force)
	if err != nil {
		return result, err
	}
	result.Records = sum.Analyses
	result.Duration = time.Since(start)
	p.events.PublishStage(2, clientID, sum.Analyses, force)
	return result, nil
}

// Findings runs Stage 3: synthesis, then classification of whatever the
// synthesis produced.
func (p *Pipeline) Findings(ctx context.Context, clientID string, force bool) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: 3, Name: "findings"}

	sum, err := p.synth.Run(ctx, clientID, force)
	if err != nil {
		return result, err
	}
	if _, err := p.classify.Run(ctx, clientID); err != nil {
		return result, err
	}

	result.Records = sum.Findings
	result.Duration = time.Since(start)
	p.events.PublishStage(3, clientID, sum.Findings, force)
	return result, nil
}

// Themes runs Stage 4. The generator always rebuilds the full theme set, so
// force only tags the published event.
func (p *Pipeline) Themes(ctx context.Context, clientID string, force bool) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: 4, Name: "themes"}

	sum, err := p.generator.Run(ctx, clientID)
	if err != nil {
		return result, err
	}
	result.Records = sum.Themes + sum.Alerts
	result.Duration = time.Since(start)
	p.events.PublishStage(4, clientID, result.Records, force)
	return result, nil
}

// Run executes stages 2 through 4 in order over whatever Stage 1 data is in
// the store, then posts the run summary. Stage 1 is input-driven and runs
// through ExtractFiles or IngestCSV beforehand.
func (p *Pipeline) Run(ctx context.Context, clientID string, force bool) ([]StageResult, error) {
	start := time.Now()
	var results []StageResult

	for _, stage := range []func(context.Context, string, bool) (StageResult, error){
		p.Score, p.Findings, p.Themes,
	} {
		res, err := stage(ctx, clientID, force)
		if err != nil {
			return results, fmt.Errorf("stage %d (%s): %w", res.Stage, res.Name, err)
		}
		p.logger.Info("stage complete",
			"stage", res.Stage, "name", res.Name,
			"records", res.Records, "duration", res.Duration.Round(time.Millisecond))
		results = append(results, res)
	}

	counts, err := p.db.Counts(ctx, clientID)
	if err != nil {
		return results, fmt.Errorf("counting records: %w", err)
	}
	if _, err := p.notify.PostRunSummary(ctx, clientID, counts, time.Since(start)); err != nil {
		p.logger.Warn("posting run summary failed", "error", err)
	}
	return results, nil
}

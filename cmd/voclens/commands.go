package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voclens/voclens/internal/api"
	"github.com/voclens/voclens/internal/config"
	"github.com/voclens/voclens/internal/events"
	"github.com/voclens/voclens/internal/extractor"
	"github.com/voclens/voclens/internal/findings"
	"github.com/voclens/voclens/internal/ingest"
	"github.com/voclens/voclens/internal/llm"
	"github.com/voclens/voclens/internal/notify"
	"github.com/voclens/voclens/internal/pipeline"
	"github.com/voclens/voclens/internal/scorer"
	"github.com/voclens/voclens/internal/store"
	"github.com/voclens/voclens/internal/themes"
	"github.com/voclens/voclens/internal/voc"
)

// rootFlags carries the values shared by every subcommand. Flag values
// override the environment config.
type rootFlags struct {
	client      string
	dbPath      string
	databaseURL string
	batchSize   int
	workers     int
}

func newRootCmd(cfg config.Config) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "voclens",
		Short:         "Voice-of-customer analysis pipeline",
		Long:          "voclens ingests customer interview transcripts, extracts and scores verbatim quotes against ten business criteria, synthesizes findings, and clusters them into executive themes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.client, "client", cfg.ClientID, "client (tenant) identifier")
	pf.StringVar(&flags.dbPath, "db", cfg.DBPath, "SQLite database path")
	pf.StringVar(&flags.databaseURL, "database-url", cfg.DatabaseURL, "Postgres URL (overrides --db when set)")
	pf.IntVar(&flags.batchSize, "batch-size", cfg.BatchSize, "quotes per scoring batch")
	pf.IntVar(&flags.workers, "workers", cfg.Workers, "concurrent LLM batches")

	root.AddCommand(
		newIngestCmd(flags),
		newExtractCmd(cfg, flags),
		newScoreCmd(cfg, flags),
		newFindingsCmd(cfg, flags),
		newThemesCmd(cfg, flags),
		newPipelineCmd(cfg, flags),
		newSyncCmd(flags),
		newServeCmd(cfg, flags),
		newExportCmd(flags),
	)
	return root
}

// openStore picks Postgres when a URL is configured, SQLite otherwise.
func openStore(ctx context.Context, flags *rootFlags) (store.Store, error) {
	if flags.databaseURL != "" {
		return store.OpenPostgres(ctx, flags.databaseURL)
	}
	return store.OpenSQLite(ctx, flags.dbPath)
}

// buildPipeline wires the full stack. NATS and Slack stay nil unless
// configured; the pipeline treats both as no-ops.
func buildPipeline(ctx context.Context, cfg config.Config, flags *rootFlags) (*pipeline.Pipeline, store.Store, func(), error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, nil, nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	db, err := openStore(ctx, flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() { db.Close() }

	logger := slog.Default()
	policy := llm.RetryPolicy{MaxAttempts: cfg.RetryAttempts}
	client := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, policy)

	var ev *events.Client
	if cfg.NatsURL != "" {
		ev, err = events.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		prev := cleanup
		cleanup = func() { ev.Close(); prev() }
	}

	var poster *notify.Poster
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster = notify.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
	}

	p := pipeline.New(db,
		extractor.New(client, cfg.RetryAttempts, logger),
		scorer.New(client, db, scorer.Options{
			BatchSize:     flags.batchSize,
			Workers:       flags.workers,
			MaxQuoteChars: cfg.MaxQuoteChars,
			Attempts:      cfg.RetryAttempts,
		}, logger),
		findings.NewSynthesizer(client, db, findings.Options{Workers: flags.workers}, logger),
		findings.NewClassifier(client, db, logger),
		themes.NewGenerator(client, db, logger),
		ev, poster, logger)
	return p, db, cleanup, nil
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load pre-extracted quotes from a Stage 1 CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, _, cleanup, err := buildIngestOnly(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.IngestCSV(ctx, flags.client, input)
			if err != nil {
				return err
			}
			slog.Info("ingest complete", "client", flags.client, "quotes", res.Records)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Stage 1 CSV path")
	cmd.MarkFlagRequired("input")
	return cmd
}

// buildIngestOnly wires a pipeline without an LLM client for commands that
// never call the model.
func buildIngestOnly(ctx context.Context, flags *rootFlags) (*pipeline.Pipeline, store.Store, func(), error) {
	db, err := openStore(ctx, flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}
	logger := slog.Default()
	p := pipeline.New(db, nil, nil, nil, nil, nil, nil, nil, logger)
	return p, db, func() { db.Close() }, nil
}

func newExtractCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var (
		company     string
		interviewee string
		dealStatus  string
		date        string
		statePath   string
		force       bool
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "extract [transcripts...]",
		Short: "Extract quotes from interview transcripts (Stage 1)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			meta := ingest.Interview{
				ClientID:        flags.client,
				Company:         company,
				IntervieweeName: interviewee,
				DealStatus:      voc.ParseDealStatus(dealStatus),
				InterviewDate:   date,
			}

			if dryRun {
				return dryRunExtract(args, meta)
			}

			p, _, cleanup, err := buildPipeline(ctx, cfg, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.ExtractFiles(ctx, flags.client, args, meta, statePath, force)
			if err != nil {
				return err
			}
			slog.Info("extraction complete",
				"client", flags.client, "quotes", res.Records, "duration", res.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company the interview belongs to")
	cmd.Flags().StringVar(&interviewee, "interviewee", "", "interviewee name")
	cmd.Flags().StringVar(&dealStatus, "deal-status", "unknown", "deal outcome (won|lost)")
	cmd.Flags().StringVar(&date, "date", "", "interview date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&statePath, "state", "voclens_state.json", "ingestion state file")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess files already recorded in the state file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "chunk the transcripts and report counts without calling the model")
	return cmd
}

func dryRunExtract(paths []string, meta ingest.Interview) error {
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading transcript: %w", err)
		}
		chunks := ingest.ChunkTranscript(string(raw), meta)
		slog.Info("dry run", "path", path, "chunks", len(chunks))
	}
	return nil
}

func newScoreCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score quotes against the criteria catalog (Stage 2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd.Context(), cfg, flags,
				func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
					return p.Score(ctx, flags.client, force)
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete existing analyses and rescore everything")
	return cmd
}

func newFindingsCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Synthesize and classify findings (Stage 3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd.Context(), cfg, flags,
				func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
					return p.Findings(ctx, flags.client, force)
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete existing findings and resynthesize")
	return cmd
}

func newThemesCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "themes",
		Short: "Cluster findings into themes and alerts (Stage 4)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd.Context(), cfg, flags,
				func(ctx context.Context, p *pipeline.Pipeline) (pipeline.StageResult, error) {
					return p.Themes(ctx, flags.client, force)
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "mark the run as a forced rerun in published events")
	return cmd
}

func runStage(ctx context.Context, cfg config.Config, flags *rootFlags,
	stage func(context.Context, *pipeline.Pipeline) (pipeline.StageResult, error)) error {
	p, _, cleanup, err := buildPipeline(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := stage(ctx, p)
	if err != nil {
		return err
	}
	slog.Info("stage complete",
		"stage", res.Stage, "name", res.Name,
		"client", flags.client, "records", res.Records, "duration", res.Duration)
	return nil
}

func newPipelineCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run stages 2-4 in order over the stored quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, _, cleanup, err := buildPipeline(ctx, cfg, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := p.Run(ctx, flags.client, force)
			if err != nil {
				return err
			}
			for _, res := range results {
				slog.Info("stage complete",
					"stage", res.Stage, "name", res.Name,
					"records", res.Records, "duration", res.Duration)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "recompute every stage from scratch")
	return cmd
}

func newSyncCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local SQLite store with the remote Postgres store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if flags.databaseURL == "" {
				return fmt.Errorf("--database-url (or DATABASE_URL) is required for sync")
			}

			local, err := store.OpenSQLite(ctx, flags.dbPath)
			if err != nil {
				return fmt.Errorf("opening local store: %w", err)
			}
			defer local.Close()

			remote, err := store.OpenPostgres(ctx, flags.databaseURL)
			if err != nil {
				return fmt.Errorf("opening remote store: %w", err)
			}
			defer remote.Close()

			result, err := store.Sync(ctx, local, remote, flags.client, slog.Default())
			if err != nil {
				return err
			}
			slog.Info("sync complete",
				"client", flags.client, "pushed", result.Pushed, "pulled", result.Pulled)
			return nil
		},
	}
}

func newServeCmd(cfg config.Config, flags *rootFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cmd.Context(), flags)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			return api.NewServer(db, port, slog.Default()).Start()
		},
	}
	cmd.Flags().IntVar(&port, "port", cfg.Port, "listen port")
	return cmd
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		output    string
		validated bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored quotes to the contractual Stage 1 CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openStore(ctx, flags)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			rows, err := db.ListResponses(ctx, flags.client)
			if err != nil {
				return fmt.Errorf("listing responses: %w", err)
			}
			if validated {
				err = ingest.WriteValidatedCSV(output, rows)
			} else {
				err = ingest.WriteStage1CSV(output, rows)
			}
			if err != nil {
				return err
			}
			slog.Info("export complete", "client", flags.client, "quotes", len(rows), "path", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "CSV output path")
	cmd.Flags().BoolVar(&validated, "validated", false, "write the validated format (company_name header)")
	cmd.MarkFlagRequired("output")
	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/api"
	"github.com/JakeFAU/artvee-ingest/internal/app"
	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/pipeline"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
	"github.com/JakeFAU/artvee-ingest/internal/records"
)

type runOptions struct {
	records     string
	latest      bool
	ids         []string
	retryFailed bool
	limit       int
	forceUnlock bool
	export      bool
	serve       bool
	output      string
}

// runReport is what `run` prints when it finishes.
type runReport struct {
	RecordsPath string            `json:"records_path" yaml:"records_path"`
	Summary     pipeline.Summary  `json:"summary" yaml:"summary"`
	Export      *app.ExportResult `json:"export,omitempty" yaml:"export,omitempty"`
}

// newRunCmd creates and configures the 'run' subcommand.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the artwork list and upload every artwork not yet uploaded",
		Long: `Loads the discovery output, then drives each artwork through extraction,
download, size validation and upload, one at a time with a pause between
artworks. Artworks already marked uploaded in the progress ledger are skipped,
so an interrupted run can simply be started again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.records, "records", "", "artwork list to process (overrides records.path)")
	f.BoolVar(&opts.latest, "latest", false, "use the newest complete-artists-collection-*.json in records.dir")
	f.StringSliceVar(&opts.ids, "ids", nil, "only process these artwork ids")
	f.BoolVar(&opts.retryFailed, "retry-failed", false, "only process artworks recorded as failed in the ledger")
	f.IntVar(&opts.limit, "limit", 0, "stop after this many artworks (0 means no limit)")
	f.BoolVar(&opts.forceUnlock, "force-unlock", false, "remove a stale ledger lock left by a killed run")
	f.BoolVar(&opts.export, "export", false, "export the catalog after the run (also catalog.export_on_run)")
	f.BoolVar(&opts.serve, "serve", false, "serve /metrics and progress endpoints while running")
	f.StringVarP(&opts.output, "output", "o", outputText, "summary format: text, json or yaml")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, opts *runOptions) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	logger := rt.logger

	recordsCfg := rt.cfg.Records
	if opts.records != "" {
		recordsCfg.Path = opts.records
	}
	path, err := app.ResolveRecordsPath(recordsCfg, opts.latest)
	if err != nil {
		return fmt.Errorf("locate records: %w", err)
	}

	a, err := newApp(ctx, rt.cfg, logger, app.Options{ForceUnlock: opts.forceUnlock})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close pipeline services", zap.Error(cerr))
		}
	}()

	recs, err := a.Records.LoadFile(path)
	if err != nil {
		return err
	}
	recs = selectRecords(recs, a.Progress.Snapshot(), opts, logger)
	if len(recs) == 0 {
		logger.Info("nothing to process")
	}

	if opts.serve {
		srv := api.NewServer(api.FileLedger(rt.cfg.Progress.Path), rt.cfg.Server, logger.Named("api"))
		serveCtx, stopServe := context.WithCancel(ctx)
		defer stopServe()
		go func() {
			if err := srv.ListenAndServe(serveCtx); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	runID, err := a.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	summary, runErr := a.Orchestrator.Run(ctx, runID, recs)
	report := runReport{RecordsPath: path, Summary: summary}

	if runErr == nil && (opts.export || rt.cfg.Catalog.ExportOnRun) {
		res, err := app.ExportCatalog(ctx, rt.cfg.Catalog, a.Progress.Snapshot(), a.Clock.Now(), logger.Named("catalog"))
		if err != nil {
			return fmt.Errorf("export catalog: %w", err)
		}
		report.Export = &res
	}

	if err := writeOutput(out, opts.output, report, func(w io.Writer) error {
		return writeRunText(w, report)
	}); err != nil {
		return err
	}
	if runErr != nil {
		if summary.Interrupted && errors.Is(runErr, context.Canceled) {
			logger.Warn("run interrupted; start it again to resume", zap.String("run_id", runID))
		}
		return runErr
	}
	return nil
}

// selectRecords applies --retry-failed, --ids and --limit in that order.
func selectRecords(
	recs []artwork.Record,
	ledger map[string]artwork.ProgressEntry,
	opts *runOptions,
	logger *zap.Logger,
) []artwork.Record {
	if opts.retryFailed {
		failed := progress.FailedIDs(ledger)
		logger.Info("retrying failed artworks", zap.Int("failed", len(failed)))
		if len(failed) == 0 {
			return nil
		}
		recs = records.Select(recs, failed)
	}
	if len(opts.ids) > 0 {
		recs = records.Select(recs, opts.ids)
	}
	if opts.limit > 0 && len(recs) > opts.limit {
		recs = recs[:opts.limit]
	}
	return recs
}

func writeRunText(w io.Writer, r runReport) error {
	s := r.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", s.RunID, r.RecordsPath)
	fmt.Fprintf(&b, "  total:     %d\n", s.Total)
	fmt.Fprintf(&b, "  succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "  skipped:   %d\n", s.Skipped)
	fmt.Fprintf(&b, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(&b, "  uploaded:  %s\n", humanBytes(s.UploadedBytes))
	fmt.Fprintf(&b, "  duration:  %s\n", s.Duration.Round(time.Millisecond))
	if s.Interrupted {
		b.WriteString("  interrupted before the list was finished\n")
	}
	if len(s.FailedIDs) > 0 {
		fmt.Fprintf(&b, "  failed ids: %s\n", strings.Join(s.FailedIDs, ", "))
	}
	if r.Export != nil {
		fmt.Fprintf(&b, "  exported %d entries to %s\n", r.Export.Entries, r.Export.Destination)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

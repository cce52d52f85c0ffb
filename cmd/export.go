package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/artvee-ingest/internal/app"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
)

type exportOptions struct {
	format    string
	outputDir string
	output    string
}

// newExportCmd creates and configures the 'export' subcommand.
func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the uploaded artworks as a collection catalog",
		Long: `Builds the collection catalog from every uploaded entry in the progress ledger
and writes it as JSON or Parquet, or upserts it into Postgres.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			catalogCfg := rt.cfg.Catalog
			if opts.format != "" {
				catalogCfg.Format = opts.format
			}
			if opts.outputDir != "" {
				catalogCfg.OutputDir = opts.outputDir
			}
			if err := catalogCfg.Validate(); err != nil {
				return err
			}
			entries, err := progress.ReadFile(rt.cfg.Progress.Path)
			if err != nil {
				return err
			}
			res, err := app.ExportCatalog(cmd.Context(), catalogCfg, entries, timeNow(), rt.logger.Named("catalog"))
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "exported %d entries to %s\n", res.Entries, res.Destination)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "json, parquet or postgres (overrides catalog.format)")
	f.StringVar(&opts.outputDir, "dir", "", "directory for file exports (overrides catalog.output_dir)")
	f.StringVarP(&opts.output, "output", "o", outputText, "result format: text, json or yaml")
	return cmd
}

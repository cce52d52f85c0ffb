package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/artvee-ingest/internal/progress"
)

type reportOptions struct {
	output string
}

// newReportCmd creates and configures the 'report' subcommand.
func newReportCmd() *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the progress ledger",
		Long: `Reads the progress ledger without locking it and prints how many artworks
were uploaded, how many failed and why. Safe to run while a batch is active.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := progress.ReadFile(rt.cfg.Progress.Path)
			if err != nil {
				return err
			}
			sum := progress.Summarize(entries)
			return writeOutput(cmd.OutOrStdout(), opts.output, sum, func(w io.Writer) error {
				return writeReportText(w, rt.cfg.Progress.Path, sum)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "report format: text, json or yaml")
	return cmd
}

func writeReportText(w io.Writer, path string, sum progress.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger %s\n", path)
	fmt.Fprintf(&b, "  artworks: %d\n", sum.Total)
	fmt.Fprintf(&b, "  uploaded: %d (%s)\n", sum.Uploaded, humanBytes(sum.UploadedBytes))
	fmt.Fprintf(&b, "  failed:   %d\n", sum.Failed)
	if !sum.LastAttempt.IsZero() {
		fmt.Fprintf(&b, "  last attempt: %s\n", sum.LastAttempt.Format(time.RFC3339))
	}
	if len(sum.ErrorKinds) > 0 {
		kinds := make([]string, 0, len(sum.ErrorKinds))
		for k := range sum.ErrorKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString("  failures by kind:\n")
		for _, k := range kinds {
			fmt.Fprintf(&b, "    %-28s %d\n", k, sum.ErrorKinds[k])
		}
	}
	if len(sum.FailedIDs) > 0 {
		fmt.Fprintf(&b, "  failed ids: %s\n", strings.Join(sum.FailedIDs, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

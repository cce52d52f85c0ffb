package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	streamfetcher "github.com/JakeFAU/artvee-ingest/internal/fetcher/stream"
	"github.com/JakeFAU/artvee-ingest/internal/imaging"
)

type cleanupOptions struct {
	dryRun bool
	all    bool
}

// newCleanupCmd creates and configures the 'cleanup' subcommand.
func newCleanupCmd() *cobra.Command {
	opts := &cleanupOptions{}
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove partial downloads and interrupted re-encodes from the work dir",
		Long: `Deletes *.part and *.optimizing files left behind when a run was killed
mid-download or mid-encode. With --all, downloaded working copies kept for
upload retries are removed too.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := cleanWorkDir(rt.cfg.WorkDir, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rt.logger.Info("work dir cleaned",
				zap.String("work_dir", rt.cfg.WorkDir),
				zap.Int("removed", removed),
				zap.Bool("dry_run", opts.dryRun),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list files without removing them")
	cmd.Flags().BoolVar(&opts.all, "all", false, "also remove kept working copies")
	return cmd
}

func cleanWorkDir(dir string, opts *cleanupOptions, out io.Writer) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !isLeftover(d.Name(), opts.all) {
			return nil
		}
		if !opts.dryRun {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		removed++
		_, err = fmt.Fprintln(out, path)
		return err
	})
	if err != nil {
		return removed, fmt.Errorf("clean work dir: %w", err)
	}
	return removed, nil
}

func isLeftover(name string, all bool) bool {
	if strings.HasSuffix(name, streamfetcher.PartSuffix) || strings.HasSuffix(name, imaging.TempSuffix) {
		return true
	}
	return all
}

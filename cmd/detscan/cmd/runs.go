package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newRunsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage stored analyses",
		Long: `List, show, search and delete analyses stored in the record store.

Examples:
  detscan runs list --page 2
  detscan runs show 3f2c... --format text
  detscan runs search --class sign --q stop
  detscan runs delete 3f2c...
  detscan runs purge --older-than 1h`,
	}
	cmd.AddCommand(
		newRunsListCmd(c),
		newRunsShowCmd(c),
		newRunsDeleteCmd(c),
		newRunsSearchCmd(c),
		newRunsPurgeCmd(c),
	)
	return cmd
}

// withRepository opens the record store for the duration of fn.
func (c *cli) withRepository(fn func(*store.Repository) error) error {
	db, repo, err := openRepository(c.cfg)
	if err != nil {
		return err
	}
	defer func(db *gorm.DB) { _ = store.Close(db) }(db)
	return fn(repo)
}

func newRunsListCmd(c *cli) *cobra.Command {
	var page store.Page
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List completed analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRepository(func(repo *store.Repository) error {
				runs, total, err := repo.ListRuns(cmd.Context(), page)
				if err != nil {
					return err
				}
				page = page.Normalize()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tIMAGE\tANALYZED\tDETECTIONS")
				for _, run := range runs {
					analyzed := "-"
					if run.AnalyzedAt != nil {
						analyzed = run.AnalyzedAt.Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", run.ID, run.ImagePath, analyzed, len(run.Detections))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d runs\n", page.Number, len(runs), total)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&page.Number, "page", 1, "page number")
	cmd.Flags().IntVar(&page.Size, "page-size", store.DefaultPageSize, "runs per page")
	return cmd
}

func newRunsShowCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one completed analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return c.withRepository(func(repo *store.Repository) error {
				run, err := repo.GetRun(cmd.Context(), args[0])
				if err != nil {
					return lookupError(args[0], err)
				}
				return writeRun(cmd.OutOrStdout(), pipeline.PresentRun(run), format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json, text or csv")
	return cmd
}

func newRunsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an analysis, its detections and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arts, err := artifacts.New(c.cfg.ToArtifactsConfig())
			if err != nil {
				return err
			}
			return c.withRepository(func(repo *store.Repository) error {
				return deleteRun(cmd.Context(), repo, arts, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func deleteRun(ctx context.Context, repo *store.Repository, arts *artifacts.Store, id string, out io.Writer) error {
	run, err := repo.GetRun(ctx, id)
	if err != nil {
		return lookupError(id, err)
	}
	if err := repo.DeleteRun(ctx, id); err != nil {
		return lookupError(id, err)
	}
	if err := arts.RemoveBundleDir(run.ResultDir); err != nil {
		slog.Warn("Failed to remove result bundle", "run_id", id, "dir", run.ResultDir, "error", err)
	}
	if err := arts.RemoveUpload(run.ImagePath); err != nil {
		slog.Warn("Failed to remove upload", "run_id", id, "image", run.ImagePath, "error", err)
	}
	_, err = fmt.Fprintf(out, "deleted %s\n", id)
	return err
}

func newRunsSearchCmd(c *cli) *cobra.Command {
	var query store.DetectionQuery
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search stored detections by class and text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRepository(func(repo *store.Repository) error {
				rows, total, err := repo.SearchDetections(cmd.Context(), query)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "RUN\tCLASS\tCONFIDENCE\tBBOX\tTEXT")
				for _, row := range rows {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%.3f\t[%.1f, %.1f, %.1f, %.1f]\t%q\n",
						row.RunID, row.ClassName, row.Confidence,
						row.BBoxX1, row.BBoxY1, row.BBoxX2, row.BBoxY2, row.OCRText)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d detections\n", len(rows), total)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&query.ClassName, "class", "", "exact class name")
	f.StringVar(&query.Text, "q", "", "case-insensitive text fragment")
	f.StringVar(&query.RunID, "run", "", "restrict to one run")
	f.IntVar(&query.Page.Number, "page", 1, "page number")
	f.IntVar(&query.Page.Size, "page-size", store.DefaultPageSize, "rows per page")
	return cmd
}

func newRunsPurgeCmd(c *cli) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete incomplete analyses left behind by a crash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return c.withRepository(func(repo *store.Repository) error {
				n, err := repo.PurgeAbandoned(cmd.Context(), time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d incomplete runs\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age of an incomplete run")
	return cmd
}

func lookupError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("analysis %s not found", id)
	}
	return err
}

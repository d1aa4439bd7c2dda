package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/detscan/internal/batch"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/spf13/cobra"
)

func newBatchCmd(c *cli) *cobra.Command {
	var (
		format  string
		output  string
		stats   bool
		lenient bool
	)

	cmd := &cobra.Command{
		Use:   "batch <path>...",
		Short: "Analyze many image files in parallel",
		Long: `Analyze every image file named on the command line or found in the given
directories. Each file becomes its own stored run with its own result bundle.
Directories are filtered by supported image extensions and the include and
exclude patterns, which match file base names.

Supported formats: JPEG, PNG, BMP, GIF, TIFF, WEBP

Examples:
  detscan batch *.jpg
  detscan batch photos/ --recursive --workers 4
  detscan batch photos/ --exclude 'thumb_*' --format csv --output detections.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := newServices(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close(ctx) }()

			p, err := svc.pipeline(nil, pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug))
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}

			res, err := batch.Process(ctx, p, args, c.cfg.ToBatchConfig())
			if err != nil {
				return err
			}
			slog.Info("Batch complete",
				"files", len(res.Items),
				"failed", res.Failed(),
				"detections", res.Detections(),
				"duration", res.Duration)

			if err := writeBatch(cmd.OutOrStdout(), res, format, output); err != nil {
				return err
			}
			if stats {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), "\n"+res.Summary())
			}
			if !lenient {
				if err := res.Err(); err != nil {
					return fmt.Errorf("%d of %d files failed: %w", res.Failed(), len(res.Items), err)
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", formatText, "output format: json, text or csv")
	f.StringVarP(&output, "output", "o", "", "write results to this file instead of stdout")
	f.BoolVar(&stats, "stats", false, "print processing statistics to stderr")
	f.BoolVar(&lenient, "allow-failures", false, "exit successfully even when some files failed")
	f.Int("workers", 1, "number of files analyzed concurrently")
	f.BoolP("recursive", "r", false, "descend into subdirectories")
	f.StringSlice("include", nil, "only analyze files matching these glob patterns")
	f.StringSlice("exclude", nil, "skip files matching these glob patterns")
	f.Bool("fail-fast", false, "stop starting new files after the first failure")
	f.String("backend", "onnx", "detector backend: onnx or http")
	f.String("model", "", "override detection model path")
	f.String("endpoint", "", "inference endpoint for the http backend")
	f.Float64("conf-threshold", 0.25, "minimum detection confidence (0..1)")
	return cmd
}

// writeBatch prints the formatted batch result or writes it to path.
func writeBatch(w io.Writer, res *batch.Result, format, path string) error {
	out, err := res.Format(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if path == "" {
		_, err = io.WriteString(w, out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, err = fmt.Fprintf(w, "Results written to %s\n", path)
	return err
}

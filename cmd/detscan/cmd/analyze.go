package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/utils"
	"github.com/spf13/cobra"
)

const (
	formatJSON = "json"
	formatText = "text"
	formatCSV  = "csv"
)

func newAnalyzeCmd(c *cli) *cobra.Command {
	var (
		format   string
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze one image file locally",
		Long: `Run detection and region text extraction on an image file, store the
result and write the result bundle, exactly as the HTTP upload does.

Examples:
  detscan analyze street.jpg
  detscan analyze street.jpg --format text --progress
  detscan analyze street.jpg --backend http --endpoint http://localhost:9000/predict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			data, meta, err := utils.ReadImageFile(args[0])
			if err != nil {
				return err
			}
			if err := utils.ValidateImageConstraints(meta, utils.DefaultImageConstraints()); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := newServices(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close(ctx) }()

			var cb pipeline.ProgressCallback = pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug)
			if progress {
				cb = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), filepath.Base(args[0]))
			}
			p, err := svc.pipeline(nil, cb)
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}

			res, err := p.Run(ctx, pipeline.Upload{Filename: filepath.Base(args[0]), Data: data})
			if err != nil {
				return err
			}

			slog.Info(res.Message, "run_id", res.Run.ID, "result_dir", res.ResultDir)
			return writeRun(cmd.OutOrStdout(), pipeline.PresentRun(res.Run), format)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", formatJSON, "output format: json, text or csv")
	f.BoolVar(&progress, "progress", false, "show a progress bar on stderr")
	f.String("backend", "onnx", "detector backend: onnx or http")
	f.String("model", "", "override detection model path")
	f.String("labels", "", "override class labels file")
	f.String("endpoint", "", "inference endpoint for the http backend")
	f.Float64("conf-threshold", 0.25, "minimum detection confidence (0..1)")
	f.StringSlice("languages", nil, "text recognition languages (e.g. eng,kor)")
	f.Bool("trace", false, "enable OpenTelemetry tracing")
	f.String("trace-exporter", "stdout", "trace exporter: stdout, otlp or none")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatText, formatCSV:
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want json, text or csv)", format)
	}
}

// writeRun prints a run in the requested format.
func writeRun(w io.Writer, view *pipeline.RunView, format string) error {
	var (
		out string
		err error
	)
	switch format {
	case formatText:
		out, err = pipeline.ToPlainText(view)
	case formatCSV:
		out, err = pipeline.ToCSV(view)
	default:
		out, err = pipeline.ToJSON(view)
		out += "\n"
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

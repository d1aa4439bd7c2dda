package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/onnx"
	"github.com/MeKo-Tech/detscan/internal/recognizer"
	"github.com/spf13/cobra"
)

func newCheckCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that the detection and text recognition backends load",
		Long: `Load the configured detection backend and the text recognition engine once
and report whether they are usable.

For the onnx backend this checks that ONNX Runtime is installed and the
model file opens; for the http backend it calls <endpoint>/health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Checking analysis backends...")

			detErr := checkDetector(cmd.Context(), c.cfg.ToDetectorConfig())
			report(out, "detector ("+c.cfg.Detector.Backend+")", detErr)

			recErr := checkRecognizer(c.cfg.ToRecognizerConfig())
			report(out, "text recognition", recErr)

			if err := errors.Join(detErr, recErr); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "All backends are ready.")
			return nil
		},
	}
	cmd.Flags().String("backend", "onnx", "detector backend: onnx or http")
	cmd.Flags().String("model", "", "override detection model path")
	cmd.Flags().String("endpoint", "", "inference endpoint for the http backend")
	cmd.Flags().StringSlice("languages", nil, "text recognition languages (e.g. eng,kor)")
	return cmd
}

func checkDetector(ctx context.Context, cfg detector.Config) error {
	if cfg.Backend == detector.BackendONNX && detectorFactory == nil {
		if err := onnx.EnsureEnvironment(cfg.GPU.UseGPU); err != nil {
			return err
		}
	}

	factory := detectorFactory
	if factory == nil {
		factory = detector.DefaultFactory
	}
	model, err := factory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = model.Close() }()

	if hm, ok := model.(*detector.HTTPModel); ok {
		return hm.CheckHealth(ctx)
	}
	return nil
}

func checkRecognizer(cfg recognizer.Config) error {
	factory := engineFactory
	if factory == nil {
		factory = recognizer.NewTesseractEngine
	}
	engine, err := factory(cfg)
	if err != nil {
		return err
	}
	return engine.Close()
}

func report(w io.Writer, name string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(w, "  ✗ %s: %v\n", name, err)
		return
	}
	_, _ = fmt.Fprintf(w, "  ✓ %s\n", name)
}

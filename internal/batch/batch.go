// Package batch analyzes many image files with a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/utils"
	"github.com/sourcegraph/conc/pool"
)

// Analyzer runs one upload through detection and extraction.
type Analyzer interface {
	Run(ctx context.Context, up pipeline.Upload) (*pipeline.Result, error)
}

// Config holds the batch settings.
type Config struct {
	Workers         int
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
	FailFast        bool // stop scheduling new files after the first failure
}

// DefaultConfig returns a sequential batch configuration.
func DefaultConfig() Config {
	return Config{Workers: 1}
}

// Item is the outcome for one file. Exactly one of Run and Err is set.
type Item struct {
	Path string
	Run  *pipeline.RunView
	Err  error
}

// Result collects the outcome of a batch in input order.
type Result struct {
	Items    []Item
	Duration time.Duration
	Workers  int
}

// Succeeded returns the number of files that produced a run.
func (r *Result) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of files that did not produce a run.
func (r *Result) Failed() int {
	return len(r.Items) - r.Succeeded()
}

// Detections returns the total number of detections over all runs.
func (r *Result) Detections() int {
	n := 0
	for _, it := range r.Items {
		if it.Run != nil {
			n += len(it.Run.Detections)
		}
	}
	return n
}

// Err joins the per-file errors, or returns nil when every file succeeded.
func (r *Result) Err() error {
	var errs []error
	for _, it := range r.Items {
		if it.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.Path, it.Err))
		}
	}
	return errors.Join(errs...)
}

// errSkipped marks files that were not attempted because of an earlier failure.
var errSkipped = errors.New("skipped after earlier failure")

// Process discovers the image files under paths and analyzes each of them.
func Process(ctx context.Context, a Analyzer, paths []string, cfg Config) (*Result, error) {
	files, err := Discover(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}
	return ProcessFiles(ctx, a, files, cfg), nil
}

// ProcessFiles analyzes files concurrently with at most cfg.Workers runs in
// flight.
func ProcessFiles(ctx context.Context, a Analyzer, files []string, cfg Config) *Result {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	start := time.Now()
	items := make([]Item, len(files))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithMaxGoroutines(workers)
	for i, path := range files {
		items[i].Path = path
		p.Go(func() {
			if ctx.Err() != nil {
				items[i].Err = errSkipped
				return
			}
			view, err := analyzeFile(ctx, a, path)
			if err != nil {
				items[i].Err = err
				slog.Warn("Batch item failed", "file", path, "error", err)
				if cfg.FailFast {
					cancel()
				}
				return
			}
			items[i].Run = view
			slog.Debug("Batch item complete", "file", path, "run_id", view.ID, "detections", len(view.Detections))
		})
	}
	p.Wait()

	return &Result{Items: items, Duration: time.Since(start), Workers: workers}
}

func analyzeFile(ctx context.Context, a Analyzer, path string) (*pipeline.RunView, error) {
	data, meta, err := utils.ReadImageFile(path)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateImageConstraints(meta, utils.DefaultImageConstraints()); err != nil {
		return nil, err
	}
	res, err := a.Run(ctx, pipeline.Upload{Filename: filepath.Base(path), Data: data})
	if err != nil {
		return nil, err
	}
	return pipeline.PresentRun(res.Run), nil
}

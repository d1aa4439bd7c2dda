// Package pipeline runs one uploaded image through detection and text
// extraction and records the outcome as a run with its artifact bundle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/MeKo-Tech/detscan/internal/telemetry"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Detector finds objects in the image stored at imagePath.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]detector.Detection, error)
}

// TextExtractor reads the text inside an image region. It never fails;
// unreadable regions yield "".
type TextExtractor interface {
	Extract(ctx context.Context, region image.Image) string
}

// RunStore persists run headers and detection rows.
type RunStore interface {
	CreateRun(ctx context.Context, run *store.AnalysisRun) error
	AddDetection(ctx context.Context, det *store.DetectionRecord) error
	MarkComplete(ctx context.Context, id string, analyzedAt time.Time, resultDir string, report []byte) error
	DeleteRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (*store.AnalysisRun, error)
}

// ArtifactStore keeps uploads and result bundles on disk.
type ArtifactStore interface {
	SaveUpload(ctx context.Context, filename string, data []byte) (string, error)
	UploadPath(name string) string
	RemoveUpload(name string) error
	NewBundle(now time.Time) (*artifacts.Bundle, error)
	RemoveBundle(b *artifacts.Bundle) error
	Mirror(ctx context.Context, b *artifacts.Bundle) ([]string, error)
}

// Upload is one submitted image.
type Upload struct {
	Filename string
	Data     []byte
}

// Result is the outcome of a successful run.
type Result struct {
	Run       *store.AnalysisRun
	Report    *artifacts.Report
	ResultDir string
	Message   string
	Mirrored  []string
}

// Pipeline orchestrates a run. Build one with NewBuilder.
type Pipeline struct {
	detector  Detector
	extractor TextExtractor
	store     RunStore
	artifacts ArtifactStore
	events    EventPublisher
	progress  ProgressCallback
	now       func() time.Time
	tracer    trace.Tracer
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	p Pipeline
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{p: Pipeline{
		events:   NoOpPublisher{},
		progress: NoOpProgressCallback{},
		now:      func() time.Time { return time.Now().UTC() },
	}}
}

// WithDetector sets the detection capability.
func (b *Builder) WithDetector(d Detector) *Builder {
	b.p.detector = d
	return b
}

// WithExtractor sets the text extraction capability.
func (b *Builder) WithExtractor(e TextExtractor) *Builder {
	b.p.extractor = e
	return b
}

// WithStore sets the record store.
func (b *Builder) WithStore(s RunStore) *Builder {
	b.p.store = s
	return b
}

// WithArtifacts sets the artifact store.
func (b *Builder) WithArtifacts(a ArtifactStore) *Builder {
	b.p.artifacts = a
	return b
}

// WithEvents sets the publisher notified about finished runs.
func (b *Builder) WithEvents(e EventPublisher) *Builder {
	if e != nil {
		b.p.events = e
	}
	return b
}

// WithProgress sets the progress callback.
func (b *Builder) WithProgress(cb ProgressCallback) *Builder {
	if cb != nil {
		b.p.progress = cb
	}
	return b
}

// WithClock overrides the time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.p.now = now
	}
	return b
}

// timestamp reads the clock at the precision every supported database keeps,
// so the bundle report and the stored run carry identical times.
func (p *Pipeline) timestamp() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

// Build validates the configuration and returns the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	switch {
	case b.p.detector == nil:
		return nil, errors.New("pipeline requires a detector")
	case b.p.extractor == nil:
		return nil, errors.New("pipeline requires a text extractor")
	case b.p.store == nil:
		return nil, errors.New("pipeline requires a record store")
	case b.p.artifacts == nil:
		return nil, errors.New("pipeline requires an artifact store")
	}
	p := b.p
	p.tracer = telemetry.Tracer()
	return &p, nil
}

// run carries the state of one execution.
type run struct {
	header *store.AnalysisRun
	stage  Stage
	bundle *artifacts.Bundle
	rows   []store.DetectionRecord
}

// Run analyzes one upload. On success the run is complete and its bundle
// exists. On failure after the header was created, the header and all of its
// detection rows are deleted again and a *RunError is returned.
func (p *Pipeline) Run(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	r, err := p.create(ctx, up)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues(string(StageAborted)).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("detscan.run_id", r.header.ID))

	res, err := p.execute(ctx, r)
	if err != nil {
		runErr := p.abort(ctx, r, err)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return nil, runErr
	}

	r.stage = StageComplete
	runsTotal.WithLabelValues(string(StageComplete)).Inc()
	runDuration.Observe(time.Since(start).Seconds())
	detectionsPerRun.Observe(float64(len(r.rows)))
	span.SetAttributes(attribute.Int("detscan.detections", len(r.rows)))

	p.progress.OnComplete(r.header.ID)
	p.events.Publish(Event{Type: EventRunCompleted, Payload: CompletedPayload{
		ID:         r.header.ID,
		Detections: len(r.rows),
		ResultDir:  res.ResultDir,
	}})
	slog.Info("Run complete",
		"run_id", r.header.ID,
		"detections", len(r.rows),
		"result_dir", res.ResultDir,
		"duration", time.Since(start))
	return res, nil
}

// create stores the upload and inserts the run header.
func (p *Pipeline) create(ctx context.Context, up Upload) (*run, error) {
	name, err := p.artifacts.SaveUpload(ctx, up.Filename, up.Data)
	if err != nil {
		return nil, &RunError{Stage: StageCreated, Err: err}
	}

	header := &store.AnalysisRun{
		ID:         uuid.NewString(),
		ImagePath:  name,
		UploadedAt: p.timestamp(),
	}
	if err := p.store.CreateRun(ctx, header); err != nil {
		if rmErr := p.artifacts.RemoveUpload(name); rmErr != nil {
			slog.Warn("Failed to remove upload", "upload", name, "error", rmErr)
		}
		return nil, &RunError{Stage: StageCreated, Err: err}
	}
	slog.Debug("Run created", "run_id", header.ID, "image", name)
	return &run{header: header, stage: StageCreated}, nil
}

// execute runs every step after header creation.
func (p *Pipeline) execute(ctx context.Context, r *run) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imagePath := p.artifacts.UploadPath(r.header.ImagePath)
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	r.stage = StageDetecting
	dets, err := p.detect(ctx, imagePath)
	if err != nil {
		return nil, err
	}

	r.stage = StageExtracting
	if err := p.extract(ctx, r, img, dets); err != nil {
		return nil, err
	}

	r.stage = StagePersistingArtifacts
	analyzedAt := p.timestamp()
	report := BuildReport(r.header, r.rows, &analyzedAt)
	if err := p.writeBundle(ctx, r, img, imagePath, dets, report); err != nil {
		return nil, err
	}

	reportJSON, err := report.Marshal()
	if err != nil {
		return nil, err
	}
	if err := p.store.MarkComplete(ctx, r.header.ID, analyzedAt, r.bundle.Dir, reportJSON); err != nil {
		return nil, err
	}

	mirrored, err := p.artifacts.Mirror(ctx, r.bundle)
	if err != nil {
		slog.Warn("Failed to mirror result bundle", "run_id", r.header.ID, "bundle", r.bundle.Name, "error", err)
	}

	hydrated, err := p.store.GetRun(ctx, r.header.ID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Run:       hydrated,
		Report:    report,
		ResultDir: r.bundle.Dir,
		Message:   fmt.Sprintf("%d detections found", len(r.rows)),
		Mirrored:  mirrored,
	}, nil
}

func (p *Pipeline) detect(ctx context.Context, imagePath string) ([]detector.Detection, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.detect")
	defer span.End()

	dets, err := p.detector.Detect(ctx, imagePath)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("detscan.detections", len(dets)))
	return dets, nil
}

// extract reads the text of every region and persists one row per detection
// in detection order.
func (p *Pipeline) extract(ctx context.Context, r *run, img image.Image, dets []detector.Detection) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.extract")
	defer span.End()

	p.progress.OnStart(r.header.ID, len(dets))
	r.rows = make([]store.DetectionRecord, 0, len(dets))
	for i, det := range dets {
		text := ""
		if region := cropRegion(img, det.Box); region != nil {
			text = p.extractor.Extract(ctx, region)
		}

		row := newRecord(r.header.ID, det, text)
		if err := p.store.AddDetection(ctx, &row); err != nil {
			span.RecordError(err)
			return err
		}
		r.rows = append(r.rows, row)
		p.progress.OnProgress(r.header.ID, i+1, len(dets))
	}
	return nil
}

func (p *Pipeline) writeBundle(ctx context.Context, r *run, img image.Image, imagePath string, dets []detector.Detection, report *artifacts.Report) error {
	_, span := p.tracer.Start(ctx, "pipeline.writeBundle")
	defer span.End()

	bundle, err := p.artifacts.NewBundle(p.now())
	if err != nil {
		return err
	}
	r.bundle = bundle
	span.SetAttributes(attribute.String("detscan.bundle", bundle.Name))

	if err := bundle.WriteReport(report); err != nil {
		return err
	}
	if err := bundle.WriteAnnotated(img, annotations(dets, r.rows)); err != nil {
		return err
	}
	return bundle.WriteOriginal(imagePath, img)
}

// abort rolls the run back and returns the tagged failure. Rollback runs even
// when ctx is already cancelled.
func (p *Pipeline) abort(ctx context.Context, r *run, cause error) *RunError {
	runErr := &RunError{Stage: r.stage, RunID: r.header.ID, Err: cause}
	r.stage = StageAborted
	runsTotal.WithLabelValues(string(StageAborted)).Inc()

	p.rollback(context.WithoutCancel(ctx), r)

	p.progress.OnError(r.header.ID, runErr.Stage, cause)
	p.events.Publish(Event{Type: EventRunFailed, Payload: FailedPayload{
		ID:      r.header.ID,
		Stage:   runErr.Stage,
		Message: cause.Error(),
	}})
	slog.Error("Run aborted", "run_id", r.header.ID, "stage", runErr.Stage, "error", cause)
	return runErr
}

// rollback deletes the header and its rows, then removes the bundle and the
// upload. Only the record deletion is required; file cleanup is best effort.
func (p *Pipeline) rollback(ctx context.Context, r *run) {
	if err := p.store.DeleteRun(ctx, r.header.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to delete aborted run", "run_id", r.header.ID, "error", err)
	}
	if r.bundle != nil {
		if err := p.artifacts.RemoveBundle(r.bundle); err != nil {
			slog.Warn("Failed to remove bundle of aborted run", "run_id", r.header.ID, "bundle", r.bundle.Name, "error", err)
		}
	}
	if err := p.artifacts.RemoveUpload(r.header.ImagePath); err != nil {
		slog.Warn("Failed to remove upload of aborted run", "run_id", r.header.ID, "error", err)
	}
}

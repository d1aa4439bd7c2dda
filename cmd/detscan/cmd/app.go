package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/config"
	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/recognizer"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/MeKo-Tech/detscan/internal/telemetry"
	"github.com/MeKo-Tech/detscan/internal/version"
	"gorm.io/gorm"
)

// Backend factories. Nil selects the configured production backend.
var (
	detectorFactory detector.ModelFactory
	engineFactory   recognizer.EngineFactory
)

// services holds the collaborators built from the configuration.
type services struct {
	db        *gorm.DB
	repo      *store.Repository
	artifacts *artifacts.Store
	detector  *detector.Adapter
	extractor *recognizer.Extractor
	shutdown  telemetry.ShutdownFunc
}

func openRepository(cfg *config.Config) (*gorm.DB, *store.Repository, error) {
	db, err := store.Open(cfg.ToStoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return db, store.NewRepository(db), nil
}

func openArtifacts(ctx context.Context, cfg *config.Config) (*artifacts.Store, error) {
	var opts []artifacts.Option
	if mcfg, enabled := cfg.ToMirrorConfig(); enabled {
		mirror, err := artifacts.NewMinioMirror(ctx, mcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure bundle mirror: %w", err)
		}
		opts = append(opts, artifacts.WithMirror(mirror))
	}
	return artifacts.New(cfg.ToArtifactsConfig(), opts...)
}

// newServices wires everything a pipeline needs. Backends load lazily on the
// first run.
func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	shutdown, err := telemetry.Init(ctx, cfg.ToTelemetryConfig(version.Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, repo, err := openRepository(cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	arts, err := openArtifacts(ctx, cfg)
	if err != nil {
		_ = store.Close(db)
		_ = shutdown(ctx)
		return nil, err
	}

	return &services{
		db:        db,
		repo:      repo,
		artifacts: arts,
		detector:  detector.NewAdapter(cfg.ToDetectorConfig(), detectorFactory),
		extractor: recognizer.NewExtractor(cfg.ToRecognizerConfig(), engineFactory),
		shutdown:  shutdown,
	}, nil
}

func (s *services) pipeline(events pipeline.EventPublisher, progress pipeline.ProgressCallback) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithDetector(s.detector).
		WithExtractor(s.extractor).
		WithStore(s.repo).
		WithArtifacts(s.artifacts)
	if events != nil {
		b = b.WithEvents(events)
	}
	if progress != nil {
		b = b.WithProgress(progress)
	}
	return b.Build()
}

// Close releases the backends, the database and the tracer provider.
func (s *services) Close(ctx context.Context) error {
	var errs []error
	if err := s.detector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.extractor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := store.Close(s.db); err != nil {
		errs = append(errs, err)
	}
	if err := s.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Cleanup finished with errors", "error", err)
		return err
	}
	return nil
}

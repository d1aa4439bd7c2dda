package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/server"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// StubDetector returns a fixed list of detections or a fixed error.
type StubDetector struct {
	mu   sync.Mutex
	Dets []detector.Detection
	Err  error
}

// Detect implements pipeline.Detector.
func (s *StubDetector) Detect(context.Context, string) ([]detector.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]detector.Detection(nil), s.Dets...), nil
}

// StubExtractor returns the same text for every region.
type StubExtractor struct {
	Text string
}

// Extract implements pipeline.TextExtractor.
func (s *StubExtractor) Extract(context.Context, image.Image) string {
	return s.Text
}

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir     string
	MediaRoot   string
	ResultsRoot string

	DB        *gorm.DB
	Repo      *store.Repository
	Artifacts *artifacts.Store
	Detector  *StubDetector
	Extractor *StubExtractor
	Hub       *server.Hub
	API       *server.Server
	Server    *httptest.Server

	// HTTP response state
	LastStatus  int
	LastBody    []byte
	LastHeaders map[string]string
	LastRunID   string

	// WebSocket subscriber
	WS *websocket.Conn
}

// NewTestContext builds a server over a fresh SQLite database and temp dirs.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "detscan-api-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	tc := &TestContext{
		TempDir:     tempDir,
		MediaRoot:   filepath.Join(tempDir, "media"),
		ResultsRoot: filepath.Join(tempDir, "results"),
		Detector:    &StubDetector{},
		Extractor:   &StubExtractor{},
	}

	tc.DB, err = gorm.Open(sqlite.Open(filepath.Join(tempDir, "detscan.db")+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.AutoMigrate(tc.DB); err != nil {
		return nil, err
	}
	tc.Repo = store.NewRepository(tc.DB)

	tc.Artifacts, err = artifacts.New(artifacts.Config{MediaRoot: tc.MediaRoot, ResultsRoot: tc.ResultsRoot})
	if err != nil {
		return nil, err
	}

	tc.Hub = server.NewHub()
	p, err := pipeline.NewBuilder().
		WithDetector(tc.Detector).
		WithExtractor(tc.Extractor).
		WithStore(tc.Repo).
		WithArtifacts(tc.Artifacts).
		WithEvents(tc.Hub).
		Build()
	if err != nil {
		return nil, err
	}

	tc.API, err = server.NewServer(server.Config{MediaRoot: tc.MediaRoot, Version: "integration"}, server.Deps{
		Analyzer: p,
		Runs:     tc.Repo,
		Files:    tc.Artifacts,
		Hub:      tc.Hub,
	})
	if err != nil {
		return nil, err
	}
	tc.Server = httptest.NewServer(tc.API.Handler())
	return tc, nil
}

// Cleanup stops the server and removes all files of the scenario.
func (tc *TestContext) Cleanup() error {
	var errs []error
	if tc.WS != nil {
		errs = append(errs, tc.WS.Close())
	}
	if tc.API != nil {
		errs = append(errs, tc.API.Close())
	}
	if tc.Server != nil {
		tc.Server.Close()
	}
	if tc.DB != nil {
		errs = append(errs, store.Close(tc.DB))
	}
	errs = append(errs, os.RemoveAll(tc.TempDir))
	return errors.Join(errs...)
}

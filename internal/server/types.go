package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/store"
)

// Analyzer runs the analysis pipeline for one upload.
type Analyzer interface {
	Run(ctx context.Context, up pipeline.Upload) (*pipeline.Result, error)
}

// RunRepository reads and deletes stored runs.
type RunRepository interface {
	GetRun(ctx context.Context, id string) (*store.AnalysisRun, error)
	ListRuns(ctx context.Context, page store.Page) ([]store.AnalysisRun, int64, error)
	SearchDetections(ctx context.Context, query store.DetectionQuery) ([]store.DetectionRecord, int64, error)
	DeleteRun(ctx context.Context, id string) error
}

// FileRemover deletes the files that belong to a run.
type FileRemover interface {
	RemoveBundleDir(dir string) error
	RemoveUpload(name string) error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	analyzer    Analyzer
	runs        RunRepository
	files       FileRemover
	hub         *Hub
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	mediaRoot   string
	version     string
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	MediaRoot   string // served under /media/ when set
	Version     string
	RateLimit   RateLimitConfig
}

// Deps are the collaborators of the server.
type Deps struct {
	Analyzer Analyzer
	Runs     RunRepository
	Files    FileRemover
	Hub      *Hub
}

// NewServer creates a server over the given dependencies.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Analyzer == nil:
		return nil, errors.New("server requires an analyzer")
	case deps.Runs == nil:
		return nil, errors.New("server requires a run repository")
	case deps.Files == nil:
		return nil, errors.New("server requires a file remover")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}

	s := &Server{
		analyzer:    deps.Analyzer,
		runs:        deps.Runs,
		files:       deps.Files,
		hub:         hub,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		mediaRoot:   cfg.MediaRoot,
		version:     cfg.Version,
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit)
	}
	return s, nil
}

// Hub returns the websocket hub that receives run events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects all websocket clients.
func (s *Server) Close() error {
	s.hub.Close()
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	s.handle(mux, "GET /health", s.healthHandler)
	s.handle(mux, "POST /images/analyze", s.rateLimitMiddleware(s.analyzeHandler))
	s.handle(mux, "GET /images", s.listRunsHandler)
	s.handle(mux, "GET /images/{id}", s.resultHandler)
	s.handle(mux, "GET /images/{id}/result", s.resultHandler)
	s.handle(mux, "DELETE /images/{id}", s.deleteRunHandler)
	s.handle(mux, "GET /detections", s.searchDetectionsHandler)
	s.handle(mux, "GET /ws/runs", s.hub.ServeWS)
	mux.Handle("GET /metrics", metricsHandler())
	if s.mediaRoot != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaRoot))))
	}
}

// Handler returns the complete HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s.corsMiddleware(mux)
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// AnalyzeResponse is the body of a successful POST /images/analyze.
type AnalyzeResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Data         *pipeline.RunView `json:"data"`
	ResultFolder string            `json:"result_folder"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// RunListResponse is one page of completed runs.
type RunListResponse struct {
	Count    int64               `json:"count"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Results  []*pipeline.RunView `json:"results"`
}

// DetectionResult is a stored detection row returned by GET /detections.
type DetectionResult struct {
	ID         uint           `json:"id"`
	RunID      string         `json:"run_id"`
	Class      string         `json:"class"`
	Confidence float64        `json:"confidence"`
	BBox       artifacts.BBox `json:"bbox"`
	OCRText    string         `json:"ocr_text"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DetectionListResponse is one page of detection rows.
type DetectionListResponse struct {
	Count    int64             `json:"count"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Results  []DetectionResult `json:"results"`
}

// ValidationError rejects a request before any analysis starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/MeKo-Tech/detscan/internal/utils"
)

const (
	formatText = "text"
	formatCSV  = "csv"

	uploadField = "image"

	msgNoFile       = "No file was submitted."
	msgEmptyFile    = "The submitted file is empty."
	msgInvalidImage = "Upload a valid image. The file you uploaded was either not an image or a corrupted image."
	msgNotFound     = "analysis not found"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// analyzeHandler accepts one image upload and runs the analysis pipeline on it.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			writeErrorResponse(w, http.StatusBadRequest, "invalid upload", map[string][]string{vErr.Field: {vErr.Message}})
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	res, err := s.analyzer.Run(r.Context(), up)
	if err != nil {
		message := err.Error()
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			message = runErr.Cause()
		}
		writeErrorResponse(w, http.StatusInternalServerError, message, nil)
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Status:       "success",
		Message:      res.Message,
		Data:         s.present(res.Run),
		ResultFolder: res.ResultDir,
	})
}

// readUpload extracts and validates the image field of a multipart request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Upload, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			uploadsRejected.WithLabelValues("too_large").Inc()
			return pipeline.Upload{}, &ValidationError{
				Field:   uploadField,
				Message: fmt.Sprintf("The submitted file exceeds the %d MB limit.", s.maxUploadMB),
			}
		}
		uploadsRejected.WithLabelValues("missing").Inc()
		return pipeline.Upload{}, &ValidationError{Field: uploadField, Message: msgNoFile}
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		uploadsRejected.WithLabelValues("missing").Inc()
		return pipeline.Upload{}, &ValidationError{Field: uploadField, Message: msgNoFile}
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Upload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		uploadsRejected.WithLabelValues("empty").Inc()
		return pipeline.Upload{}, &ValidationError{Field: uploadField, Message: msgEmptyFile}
	}

	meta, err := utils.InspectImage(data)
	if err != nil {
		uploadsRejected.WithLabelValues("invalid_image").Inc()
		return pipeline.Upload{}, &ValidationError{Field: uploadField, Message: msgInvalidImage}
	}
	if err := utils.ValidateImageConstraints(meta, utils.DefaultImageConstraints()); err != nil {
		uploadsRejected.WithLabelValues("invalid_image").Inc()
		return pipeline.Upload{}, &ValidationError{Field: uploadField, Message: errors.Unwrap(err).Error()}
	}

	uploadSizeBytes.Observe(float64(meta.SizeBytes))
	return pipeline.Upload{Filename: header.Filename, Data: data}, nil
}

// resultHandler returns a completed run. The format query parameter selects
// json (default), text or csv.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	view := s.present(run)

	switch r.URL.Query().Get("format") {
	case formatText:
		body, err := pipeline.ToPlainText(view)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("formatting failed: %v", err), nil)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, body)
	case formatCSV:
		body, err := pipeline.ToCSV(view)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("formatting failed: %v", err), nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, body)
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// deleteRunHandler removes a run, its detections and its files.
func (s *Server) deleteRunHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if err := s.runs.DeleteRun(r.Context(), run.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, msgNotFound, nil)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	if err := s.files.RemoveBundleDir(run.ResultDir); err != nil {
		slog.Warn("Failed to remove result bundle", "run_id", run.ID, "dir", run.ResultDir, "error", err)
	}
	if err := s.files.RemoveUpload(run.ImagePath); err != nil {
		slog.Warn("Failed to remove upload", "run_id", run.ID, "image", run.ImagePath, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// listRunsHandler returns one page of completed runs, newest first.
func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	runs, total, err := s.runs.ListRuns(r.Context(), page)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	resp := RunListResponse{
		Count:    total,
		Page:     page.Number,
		PageSize: page.Size,
		Results:  make([]*pipeline.RunView, 0, len(runs)),
	}
	for i := range runs {
		resp.Results = append(resp.Results, s.present(&runs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// searchDetectionsHandler filters detection rows by class and OCR text.
func (s *Server) searchDetectionsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	q := r.URL.Query()
	rows, total, err := s.runs.SearchDetections(r.Context(), store.DetectionQuery{
		ClassName: q.Get("class"),
		Text:      q.Get("q"),
		RunID:     q.Get("run"),
		Page:      page,
	})
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	resp := DetectionListResponse{
		Count:    total,
		Page:     page.Number,
		PageSize: page.Size,
		Results:  make([]DetectionResult, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Results = append(resp.Results, DetectionResult{
			ID:         row.ID,
			RunID:      row.RunID,
			Class:      row.ClassName,
			Confidence: row.Confidence,
			BBox:       pipeline.BoxOf(row),
			OCRText:    row.OCRText,
			CreatedAt:  row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*store.AnalysisRun, bool) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, msgNotFound, nil)
		return nil, false
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), nil)
		return nil, false
	}
	return run, true
}

// present serializes a run and links its image when media is served.
func (s *Server) present(run *store.AnalysisRun) *pipeline.RunView {
	view := pipeline.PresentRun(run)
	if view != nil && s.mediaRoot != "" && view.Image != "" {
		view.ImageURL = path.Join("/media", view.Image)
	}
	return view
}

func parsePage(r *http.Request) (store.Page, error) {
	var page store.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return store.Page{}, fmt.Errorf("invalid page: %q", v)
		}
		page.Number = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return store.Page{}, fmt.Errorf("invalid page_size: %q", v)
		}
		page.Size = n
	}
	return page.Normalize(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes the error envelope shared by every endpoint.
func writeErrorResponse(w http.ResponseWriter, status int, message string, fields map[string][]string) {
	writeJSON(w, status, ErrorResponse{
		Status:  "error",
		Message: message,
		Errors:  fields,
	})
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a window of a listing. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// DetectionQuery filters detection rows of completed runs.
type DetectionQuery struct {
	ClassName string // exact match when set
	Text      string // case-insensitive substring of ocr_text when set
	RunID     string
	Page      Page
}

// Repository provides the record store operations used by the pipeline and the API.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on top of an open database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateRun inserts a new run header. ID and UploadedAt must already be set.
func (r *Repository) CreateRun(ctx context.Context, run *AnalysisRun) error {
	if run.ID == "" {
		return errors.New("run id cannot be empty")
	}
	if run.AnalyzedAt != nil {
		return errors.New("new run cannot be complete")
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// AddDetection inserts a single detection row. Every call is its own write.
func (r *Repository) AddDetection(ctx context.Context, det *DetectionRecord) error {
	if det.RunID == "" {
		return errors.New("detection run id cannot be empty")
	}
	if det.BBoxX2 < det.BBoxX1 || det.BBoxY2 < det.BBoxY1 {
		return fmt.Errorf("invalid bounding box (%.1f,%.1f,%.1f,%.1f)", det.BBoxX1, det.BBoxY1, det.BBoxX2, det.BBoxY2)
	}
	if err := r.db.WithContext(ctx).Create(det).Error; err != nil {
		return fmt.Errorf("failed to create detection for run %s: %w", det.RunID, err)
	}
	return nil
}

// MarkComplete sets the completion timestamp together with the bundle location
// and report. It fails with ErrAlreadyComplete if the run was completed before.
func (r *Repository) MarkComplete(ctx context.Context, id string, analyzedAt time.Time, resultDir string, report []byte) error {
	updates := map[string]interface{}{
		"analyzed_at": analyzedAt,
		"result_dir":  resultDir,
	}
	if report != nil {
		updates["result_json"] = datatypes.JSON(report)
	}

	res := r.db.WithContext(ctx).Model(&AnalysisRun{}).
		Where("id = ? AND analyzed_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		exists, err := r.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyComplete
	}
	return nil
}

// DeleteRun removes a run and all of its detection rows. The child rows are
// deleted explicitly so the result does not depend on the driver enforcing the
// foreign key cascade.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&DetectionRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete detections of run %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&AnalysisRun{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete run %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetRun returns a completed run with its detections in creation order.
func (r *Repository) GetRun(ctx context.Context, id string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := r.db.WithContext(ctx).
		Preload("Detections", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ? AND analyzed_at IS NOT NULL", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return &run, nil
}

// Exists reports whether a run row exists regardless of its state.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&AnalysisRun{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up run %s: %w", id, err)
	}
	return count > 0, nil
}

// CountDetections returns the number of detection rows stored for a run.
func (r *Repository) CountDetections(ctx context.Context, runID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&DetectionRecord{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count detections of run %s: %w", runID, err)
	}
	return count, nil
}

// ListRuns returns completed runs, newest upload first, and the total count.
func (r *Repository) ListRuns(ctx context.Context, page Page) ([]AnalysisRun, int64, error) {
	page = page.Normalize()
	q := r.db.WithContext(ctx).Model(&AnalysisRun{}).Where("analyzed_at IS NOT NULL").Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []AnalysisRun
	err := q.Preload("Detections", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("uploaded_at DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, total, nil
}

// SearchDetections returns detection rows of completed runs matching the query.
func (r *Repository) SearchDetections(ctx context.Context, query DetectionQuery) ([]DetectionRecord, int64, error) {
	page := query.Page.Normalize()
	q := r.db.WithContext(ctx).Model(&DetectionRecord{}).
		Joins("JOIN analysis_runs ON analysis_runs.id = detection_records.run_id").
		Where("analysis_runs.analyzed_at IS NOT NULL")

	if query.ClassName != "" {
		q = q.Where("detection_records.class_name = ?", query.ClassName)
	}
	if query.RunID != "" {
		q = q.Where("detection_records.run_id = ?", query.RunID)
	}
	if text := strings.TrimSpace(query.Text); text != "" {
		q = q.Where("LOWER(detection_records.ocr_text) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(text))+"%")
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count detections: %w", err)
	}

	var rows []DetectionRecord
	err := q.Select("detection_records.*").
		Order("detection_records.id ASC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search detections: %w", err)
	}
	return rows, total, nil
}

// PurgeAbandoned deletes incomplete runs uploaded before the cutoff, which are
// left behind only when the process died mid-run.
func (r *Repository) PurgeAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&AnalysisRun{}).
		Where("analyzed_at IS NULL AND uploaded_at < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find abandoned runs: %w", err)
	}

	var purged int64
	for _, id := range ids {
		if err := r.DeleteRun(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

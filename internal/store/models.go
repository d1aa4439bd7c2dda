package store

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisRun is the header row of one end-to-end analysis of an uploaded image.
// AnalyzedAt stays nil until the run completes; incomplete runs are never returned
// by the read operations of Repository.
type AnalysisRun struct {
	ID         string            `gorm:"type:varchar(36);primaryKey"`
	ImagePath  string            `gorm:"type:varchar(512);not null"`
	UploadedAt time.Time         `gorm:"not null;index"`
	AnalyzedAt *time.Time        `gorm:"index"`
	ResultDir  string            `gorm:"type:varchar(512);not null;default:''"`
	ResultJSON datatypes.JSON    `gorm:"column:result_json"`
	Detections []DetectionRecord `gorm:"foreignKey:RunID;references:ID;constraint:OnDelete:CASCADE"`
}

func (AnalysisRun) TableName() string { return "analysis_runs" }

// Complete reports whether the run finished successfully.
func (r *AnalysisRun) Complete() bool {
	return r.AnalyzedAt != nil
}

// DetectionRecord is one detected object of a run. Rows are created in detection
// order and never modified afterwards.
type DetectionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"type:varchar(36);not null;index"`
	ClassName  string    `gorm:"type:varchar(100);not null;index"`
	Confidence float64   `gorm:"not null"`
	BBoxX1     float64   `gorm:"column:bbox_x1;not null"`
	BBoxY1     float64   `gorm:"column:bbox_y1;not null"`
	BBoxX2     float64   `gorm:"column:bbox_x2;not null"`
	BBoxY2     float64   `gorm:"column:bbox_y2;not null"`
	BBoxWidth  float64   `gorm:"column:bbox_width;not null"`
	BBoxHeight float64   `gorm:"column:bbox_height;not null"`
	OCRText    string    `gorm:"column:ocr_text;type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (DetectionRecord) TableName() string { return "detection_records" }

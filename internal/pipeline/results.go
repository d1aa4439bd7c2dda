package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/store"
)

// BuildReport assembles the bundle report from stored rows. Detection ids are
// positions in the run, starting at 1.
func BuildReport(run *store.AnalysisRun, rows []store.DetectionRecord, analyzedAt *time.Time) *artifacts.Report {
	report := &artifacts.Report{
		AnalysisID: run.ID,
		Image:      run.ImagePath,
		UploadedAt: run.UploadedAt,
		AnalyzedAt: analyzedAt,
		Detections: make([]artifacts.ReportDetection, 0, len(rows)),
	}
	for i, row := range rows {
		report.Detections = append(report.Detections, artifacts.ReportDetection{
			ID:         i + 1,
			Class:      row.ClassName,
			Confidence: row.Confidence,
			BBox:       BoxOf(row),
			OCRText:    row.OCRText,
		})
	}
	return report
}

// RunView is the serialized form of a completed run.
type RunView struct {
	ID         string          `json:"id"`
	Image      string          `json:"image"`
	ImageURL   string          `json:"image_url,omitempty"`
	UploadedAt time.Time       `json:"uploaded_at"`
	AnalyzedAt *time.Time      `json:"analyzed_at"`
	ResultDir  string          `json:"result_dir"`
	Detections []DetectionView `json:"detections"`
}

// DetectionView is one detection of a RunView. ID is the 1-based position.
type DetectionView struct {
	ID         int            `json:"id"`
	Class      string         `json:"class"`
	Confidence float64        `json:"confidence"`
	BBox       artifacts.BBox `json:"bbox"`
	OCRText    string         `json:"ocr_text"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PresentRun converts a stored run with its detections into a RunView.
func PresentRun(run *store.AnalysisRun) *RunView {
	if run == nil {
		return nil
	}
	view := &RunView{
		ID:         run.ID,
		Image:      run.ImagePath,
		UploadedAt: run.UploadedAt,
		AnalyzedAt: run.AnalyzedAt,
		ResultDir:  run.ResultDir,
		Detections: make([]DetectionView, 0, len(run.Detections)),
	}
	for i, row := range run.Detections {
		view.Detections = append(view.Detections, DetectionView{
			ID:         i + 1,
			Class:      row.ClassName,
			Confidence: row.Confidence,
			BBox:       BoxOf(row),
			OCRText:    row.OCRText,
			CreatedAt:  row.CreatedAt,
		})
	}
	return view
}

// BoxOf returns the stored bounding box of a detection row.
func BoxOf(row store.DetectionRecord) artifacts.BBox {
	return artifacts.BBox{
		X1:     row.BBoxX1,
		Y1:     row.BBoxY1,
		X2:     row.BBoxX2,
		Y2:     row.BBoxY2,
		Width:  row.BBoxWidth,
		Height: row.BBoxHeight,
	}
}

// ToJSON serializes a run view to pretty JSON.
func ToJSON(view *RunView) (string, error) {
	if view == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText lists one detection per line followed by its text, if any.
func ToPlainText(view *RunView) (string, error) {
	if view == nil {
		return "", errors.New("nil result")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s (%s): %d detections\n", view.ID, view.Image, len(view.Detections))
	for _, d := range view.Detections {
		fmt.Fprintf(&sb, "%d. %s %.3f [%.1f, %.1f, %.1f, %.1f]",
			d.ID, d.Class, d.Confidence, d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
		if t := strings.TrimSpace(d.OCRText); t != "" {
			fmt.Fprintf(&sb, " %q", t)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// ToCSV exports the detections as CSV with header.
func ToCSV(view *RunView) (string, error) {
	if view == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "class", "confidence", "x1", "y1", "x2", "y2", "width", "height", "ocr_text"})
	for _, d := range view.Detections {
		_ = w.Write([]string{
			strconv.Itoa(d.ID),
			d.Class,
			strconv.FormatFloat(d.Confidence, 'f', 3, 64),
			strconv.FormatFloat(d.BBox.X1, 'f', 1, 64),
			strconv.FormatFloat(d.BBox.Y1, 'f', 1, 64),
			strconv.FormatFloat(d.BBox.X2, 'f', 1, 64),
			strconv.FormatFloat(d.BBox.Y2, 'f', 1, 64),
			strconv.FormatFloat(d.BBox.Width, 'f', 1, 64),
			strconv.FormatFloat(d.BBox.Height, 'f', 1, 64),
			d.OCRText,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

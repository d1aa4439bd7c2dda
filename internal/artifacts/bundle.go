package artifacts

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/detscan/internal/utils"
	"github.com/disintegration/imaging"
)

// Bundle file names.
const (
	ReportFile    = "detections.json"
	AnnotatedFile = "detection_result.jpg"
	OriginalFile  = "original_image.jpg"
)

// BundleFiles lists the files of a complete bundle in the order they are written.
var BundleFiles = []string{ReportFile, AnnotatedFile, OriginalFile}

// Bundle is one result directory named <YYYYMMDD_HHMMSS>_<8 hex>.
type Bundle struct {
	Name string
	Dir  string

	store *Store
}

// Path returns the absolute-or-relative path of a file inside the bundle.
func (b *Bundle) Path(file string) string {
	return filepath.Join(b.Dir, file)
}

// WriteReport writes the JSON report with two space indentation.
func (b *Bundle) WriteReport(report *Report) error {
	data, err := report.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.Path(ReportFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteAnnotated draws the boxes and labels over img and writes it as JPEG.
func (b *Bundle) WriteAnnotated(img image.Image, boxes []Annotation) error {
	out := b.store.Annotate(img, boxes)
	if err := imaging.Save(out, b.Path(AnnotatedFile), imaging.JPEGQuality(b.store.cfg.JPEGQuality)); err != nil {
		return fmt.Errorf("failed to write annotated image: %w", err)
	}
	return nil
}

// WriteOriginal stores the source image. Sources whose content is JPEG are
// copied byte for byte, anything else is re-encoded from img. The file name
// of the source is not trusted.
func (b *Bundle) WriteOriginal(srcPath string, img image.Image) error {
	data, err := os.ReadFile(srcPath) //nolint:gosec // G304: path comes from the upload store
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", srcPath, err)
	}
	if meta, err := utils.InspectImage(data); err == nil && meta.Format == "jpeg" {
		if err := os.WriteFile(b.Path(OriginalFile), data, 0o644); err != nil {
			return fmt.Errorf("failed to write original image: %w", err)
		}
		return nil
	}
	if img == nil {
		return fmt.Errorf("no decoded image for %s", srcPath)
	}
	if err := imaging.Save(img, b.Path(OriginalFile), imaging.JPEGQuality(b.store.cfg.JPEGQuality)); err != nil {
		return fmt.Errorf("failed to write original image: %w", err)
	}
	return nil
}

// Report is the content of detections.json.
type Report struct {
	AnalysisID string            `json:"analysis_id"`
	Image      string            `json:"image"`
	UploadedAt time.Time         `json:"uploaded_at"`
	AnalyzedAt *time.Time        `json:"analyzed_at"`
	Detections []ReportDetection `json:"detections"`
}

// Marshal encodes the report as written to detections.json.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// ReportDetection is one entry of a report. ID is the 1-based position in the run.
type ReportDetection struct {
	ID         int     `json:"id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	OCRText    string  `json:"ocr_text"`
}

// BBox is a rounded bounding box with derived size.
type BBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ReadReport loads detections.json from a bundle directory.
func ReadReport(dir string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

package pipeline

import (
	"image"
	"math"
	"strconv"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/disintegration/imaging"
)

// RoundConfidence rounds a score to 3 decimals.
func RoundConfidence(v float64) float64 {
	return roundTo(v, 3)
}

// RoundCoord rounds a pixel coordinate or extent to 1 decimal.
func RoundCoord(v float64) float64 {
	return roundTo(v, 1)
}

// roundTo rounds the exact binary value of v to the given number of
// decimals, sending exact halves to the even digit.
func roundTo(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// cropRegion cuts the box out of img. Coordinates are truncated toward zero
// and clamped to the image; nil is returned for an empty region.
func cropRegion(img image.Image, box detector.Box) image.Image {
	bounds := img.Bounds()
	rect := image.Rect(
		int(box.X1), int(box.Y1),
		int(box.X2), int(box.Y2),
	).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}

// newRecord rounds a detection into a row. Width and height are derived from
// the unrounded corners.
func newRecord(runID string, det detector.Detection, text string) store.DetectionRecord {
	return store.DetectionRecord{
		RunID:      runID,
		ClassName:  det.Label,
		Confidence: RoundConfidence(det.Confidence),
		BBoxX1:     RoundCoord(det.Box.X1),
		BBoxY1:     RoundCoord(det.Box.Y1),
		BBoxX2:     RoundCoord(det.Box.X2),
		BBoxY2:     RoundCoord(det.Box.Y2),
		BBoxWidth:  RoundCoord(det.Box.X2 - det.Box.X1),
		BBoxHeight: RoundCoord(det.Box.Y2 - det.Box.Y1),
		OCRText:    text,
	}
}

// annotations pairs the raw boxes with the text stored for them.
func annotations(dets []detector.Detection, rows []store.DetectionRecord) []artifacts.Annotation {
	out := make([]artifacts.Annotation, 0, len(dets))
	for i, det := range dets {
		a := artifacts.Annotation{
			Class:      det.Label,
			Confidence: det.Confidence,
			X1:         det.Box.X1,
			Y1:         det.Box.Y1,
			X2:         det.Box.X2,
			Y2:         det.Box.Y2,
		}
		if i < len(rows) {
			a.Text = rows[i].OCRText
		}
		out = append(out, a)
	}
	return out
}

package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
)

// Format renders the batch result as json, csv or text (the default).
func (r *Result) Format(format string) (string, error) {
	switch format {
	case "json":
		return r.formatJSON()
	case "csv":
		return r.formatCSV()
	default:
		return r.formatText()
	}
}

type jsonItem struct {
	File  string            `json:"file"`
	Run   *pipeline.RunView `json:"run,omitempty"`
	Error string            `json:"error,omitempty"`
}

func (r *Result) formatJSON() (string, error) {
	out := struct {
		Images    []jsonItem `json:"images"`
		Succeeded int        `json:"succeeded"`
		Failed    int        `json:"failed"`
	}{
		Images:    make([]jsonItem, 0, len(r.Items)),
		Succeeded: r.Succeeded(),
		Failed:    r.Failed(),
	}
	for _, it := range r.Items {
		ji := jsonItem{File: it.Path, Run: it.Run}
		if it.Err != nil {
			ji.Error = it.Err.Error()
		}
		out.Images = append(out.Images, ji)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func (r *Result) formatCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"file", "run_id", "detection_id", "class", "confidence", "x1", "y1", "x2", "y2", "ocr_text", "error"})
	for _, it := range r.Items {
		if it.Err != nil {
			_ = w.Write([]string{it.Path, "", "", "", "", "", "", "", "", "", it.Err.Error()})
			continue
		}
		for _, d := range it.Run.Detections {
			_ = w.Write([]string{
				it.Path,
				it.Run.ID,
				strconv.Itoa(d.ID),
				d.Class,
				strconv.FormatFloat(d.Confidence, 'f', 3, 64),
				strconv.FormatFloat(d.BBox.X1, 'f', 1, 64),
				strconv.FormatFloat(d.BBox.Y1, 'f', 1, 64),
				strconv.FormatFloat(d.BBox.X2, 'f', 1, 64),
				strconv.FormatFloat(d.BBox.Y2, 'f', 1, 64),
				d.OCRText,
				"",
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Result) formatText() (string, error) {
	var sb strings.Builder
	for i, it := range r.Items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "# %s\n", it.Path)
		if it.Err != nil {
			fmt.Fprintf(&sb, "error: %v\n", it.Err)
			continue
		}
		text, err := pipeline.ToPlainText(it.Run)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// Summary returns the processing statistics as indented lines.
func (r *Result) Summary() string {
	var sb strings.Builder
	total := len(r.Items)
	fmt.Fprintf(&sb, "Processing Statistics:\n")
	fmt.Fprintf(&sb, "  Total images: %d\n", total)
	fmt.Fprintf(&sb, "  Analyzed: %d\n", r.Succeeded())
	fmt.Fprintf(&sb, "  Failed: %d\n", r.Failed())
	fmt.Fprintf(&sb, "  Detections: %d\n", r.Detections())
	fmt.Fprintf(&sb, "  Workers: %d\n", r.Workers)
	fmt.Fprintf(&sb, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if total > 0 && r.Duration > 0 {
		fmt.Fprintf(&sb, "  Throughput: %.1f images/sec\n", float64(total)/r.Duration.Seconds())
	}
	return sb.String()
}

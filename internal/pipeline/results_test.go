package pipeline

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() *store.AnalysisRun {
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	analyzed := uploaded.Add(3 * time.Second)
	return &store.AnalysisRun{
		ID:         "0b6f6d0c-8d1e-4a55-9a7e-3f1c2b4d5e6f",
		ImagePath:  "uploads/a.jpg",
		UploadedAt: uploaded,
		AnalyzedAt: &analyzed,
		ResultDir:  "/results/20240501_120003_abcdef01",
		Detections: []store.DetectionRecord{
			{ID: 41, ClassName: "sign", Confidence: 0.912, BBoxX1: 40.3, BBoxY1: 60, BBoxX2: 200.6, BBoxY2: 121, BBoxWidth: 160.3, BBoxHeight: 61, OCRText: "STOP"},
			{ID: 42, ClassName: "car", Confidence: 0.5, BBoxX1: 1, BBoxY1: 2, BBoxX2: 3, BBoxY2: 4, BBoxWidth: 2, BBoxHeight: 2, OCRText: ""},
		},
	}
}

func TestPresentRunUsesPositionalIDs(t *testing.T) {
	view := PresentRun(sampleRun())
	require.NotNil(t, view)
	require.Len(t, view.Detections, 2)
	assert.Equal(t, 1, view.Detections[0].ID)
	assert.Equal(t, 2, view.Detections[1].ID)
	assert.Equal(t, 160.3, view.Detections[0].BBox.Width)

	assert.Nil(t, PresentRun(nil))
}

func TestBuildReportMatchesView(t *testing.T) {
	run := sampleRun()
	report := BuildReport(run, run.Detections, run.AnalyzedAt)
	view := PresentRun(run)

	assert.Equal(t, run.ID, report.AnalysisID)
	assert.Equal(t, "uploads/a.jpg", report.Image)
	require.Len(t, report.Detections, len(view.Detections))
	for i, d := range report.Detections {
		assert.Equal(t, view.Detections[i].ID, d.ID)
		assert.Equal(t, view.Detections[i].BBox, d.BBox)
		assert.Equal(t, view.Detections[i].Confidence, d.Confidence)
	}

	empty := BuildReport(run, nil, nil)
	data, err := empty.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections": []`)
	assert.Contains(t, string(data), `"analyzed_at": null`)
}

func TestToJSON(t *testing.T) {
	out, err := ToJSON(PresentRun(sampleRun()))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "uploads/a.jpg", decoded["image"])
	dets, ok := decoded["detections"].([]any)
	require.True(t, ok)
	first, ok := dets[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sign", first["class"])
	assert.EqualValues(t, 1, first["id"])
	assert.NotContains(t, out, "image_url")

	_, err = ToJSON(nil)
	require.Error(t, err)
}

func TestToPlainText(t *testing.T) {
	out, err := ToPlainText(PresentRun(sampleRun()))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "2 detections")
	assert.Equal(t, `1. sign 0.912 [40.3, 60.0, 200.6, 121.0] "STOP"`, lines[1])
	assert.Equal(t, `2. car 0.500 [1.0, 2.0, 3.0, 4.0]`, lines[2])

	_, err = ToPlainText(nil)
	require.Error(t, err)
}

func TestToCSV(t *testing.T) {
	out, err := ToCSV(PresentRun(sampleRun()))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,class,confidence,x1,y1,x2,y2,width,height,ocr_text", lines[0])
	assert.Equal(t, "1,sign,0.912,40.3,60.0,200.6,121.0,160.3,61.0,STOP", lines[1])
	assert.Equal(t, "2,car,0.500,1.0,2.0,3.0,4.0,2.0,2.0,", lines[2])

	_, err = ToCSV(nil)
	require.Error(t, err)
}

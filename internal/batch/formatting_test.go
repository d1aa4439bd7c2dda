package batch

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	return &Result{
		Workers:  2,
		Duration: 2 * time.Second,
		Items: []Item{
			{Path: "a.jpg", Run: &pipeline.RunView{
				ID:    "r1",
				Image: "uploads/a.jpg",
				Detections: []pipeline.DetectionView{
					{ID: 1, Class: "sign", Confidence: 0.912, BBox: artifacts.BBox{X1: 40.3, Y1: 60, X2: 200.6, Y2: 121}, OCRText: "STOP"},
				},
			}},
			{Path: "b.jpg", Err: errors.New("detector unavailable")},
		},
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := sampleResult().Format("json")
	require.NoError(t, err)

	var decoded struct {
		Images []struct {
			File  string            `json:"file"`
			Run   *pipeline.RunView `json:"run"`
			Error string            `json:"error"`
		} `json:"images"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Images, 2)
	assert.Equal(t, "r1", decoded.Images[0].Run.ID)
	assert.Nil(t, decoded.Images[1].Run)
	assert.Equal(t, "detector unavailable", decoded.Images[1].Error)
	assert.Equal(t, 1, decoded.Succeeded)
	assert.Equal(t, 1, decoded.Failed)
}

func TestFormatCSV(t *testing.T) {
	out, err := sampleResult().Format("csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "file,run_id,detection_id,class,confidence,x1,y1,x2,y2,ocr_text,error", lines[0])
	assert.Equal(t, "a.jpg,r1,1,sign,0.912,40.3,60.0,200.6,121.0,STOP,", lines[1])
	assert.Equal(t, "b.jpg,,,,,,,,,,detector unavailable", lines[2])
}

func TestFormatText(t *testing.T) {
	out, err := sampleResult().Format("text")
	require.NoError(t, err)
	assert.Contains(t, out, "# a.jpg\nrun r1 (uploads/a.jpg): 1 detections\n")
	assert.Contains(t, out, `1. sign 0.912 [40.3, 60.0, 200.6, 121.0] "STOP"`)
	assert.Contains(t, out, "# b.jpg\nerror: detector unavailable\n")
}

func TestSummary(t *testing.T) {
	s := sampleResult().Summary()
	assert.Contains(t, s, "Total images: 2")
	assert.Contains(t, s, "Analyzed: 1")
	assert.Contains(t, s, "Failed: 1")
	assert.Contains(t, s, "Detections: 1")
	assert.Contains(t, s, "Workers: 2")
	assert.Contains(t, s, "Throughput: 1.0 images/sec")
}

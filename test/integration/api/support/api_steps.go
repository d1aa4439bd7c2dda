package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/server"
	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// theDetectorFinds queues a detection returned for every upload.
func (tc *TestContext) theDetectorFinds(class string, conf, x1, y1, x2, y2 float64) error {
	tc.Detector.mu.Lock()
	defer tc.Detector.mu.Unlock()
	tc.Detector.Dets = append(tc.Detector.Dets, detector.Detection{
		Label:      class,
		Confidence: conf,
		Box:        detector.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
	})
	return nil
}

func (tc *TestContext) theDetectorFails(message string) error {
	tc.Detector.mu.Lock()
	defer tc.Detector.mu.Unlock()
	tc.Detector.Err = errors.New(message)
	return nil
}

func (tc *TestContext) theTextReaderReturns(text string) error {
	tc.Extractor.Text = text
	return nil
}

func sceneJPEG() ([]byte, error) {
	img := testutil.CreateSceneImage(testutil.SmallSize, testutil.Region{
		Rect: image.Rect(40, 60, 200, 120),
		Fill: color.RGBA{200, 30, 30, 255},
	})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (tc *TestContext) upload(path, field, filename string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tc.Server.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.Server.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	tc.LastStatus = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		tc.LastHeaders[k] = resp.Header.Get(k)
	}

	if resp.StatusCode == http.StatusOK {
		var analyzed server.AnalyzeResponse
		if json.Unmarshal(tc.LastBody, &analyzed) == nil && analyzed.Data != nil {
			tc.LastRunID = analyzed.Data.ID
		}
	}
	return nil
}

func (tc *TestContext) iUploadASceneImageTo(path string) error {
	data, err := sceneJPEG()
	if err != nil {
		return err
	}
	return tc.upload(path, "image", "scene.jpg", data)
}

func (tc *TestContext) iUploadAFileContaining(path, content string) error {
	return tc.upload(path, "image", "notes.txt", []byte(content))
}

func (tc *TestContext) iPostAFormWithoutAnImageTo(path string) error {
	return tc.upload(path, "", "", nil)
}

func (tc *TestContext) iSendRequest(method, path string) error {
	path = strings.ReplaceAll(path, "{id}", tc.LastRunID)
	req, err := http.NewRequest(method, tc.Server.URL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	if tc.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseMessageShouldBe(message string) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	if body.Message != message {
		return fmt.Errorf("expected message %q, got %q", message, body.Message)
	}
	return nil
}

func (tc *TestContext) theFieldErrorShouldBe(field, message string) error {
	var body server.ErrorResponse
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	msgs := body.Errors[field]
	if len(msgs) != 1 || msgs[0] != message {
		return fmt.Errorf("expected %s error %q, got %v", field, message, msgs)
	}
	return nil
}

// lastRun decodes the run of the last response, either an analyze envelope
// or a bare run.
func (tc *TestContext) lastRun() (*pipeline.RunView, error) {
	var envelope server.AnalyzeResponse
	if err := json.Unmarshal(tc.LastBody, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	var view pipeline.RunView
	if err := json.Unmarshal(tc.LastBody, &view); err != nil {
		return nil, fmt.Errorf("response is not a run: %w", err)
	}
	if view.ID == "" {
		return nil, fmt.Errorf("response is not a run: %s", tc.LastBody)
	}
	return &view, nil
}

func (tc *TestContext) detection(n int) (*pipeline.DetectionView, error) {
	run, err := tc.lastRun()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(run.Detections) {
		return nil, fmt.Errorf("run has %d detections, no detection %d", len(run.Detections), n)
	}
	return &run.Detections[n-1], nil
}

func (tc *TestContext) theRunShouldHaveDetections(count int) error {
	run, err := tc.lastRun()
	if err != nil {
		return err
	}
	if len(run.Detections) != count {
		return fmt.Errorf("expected %d detections, got %d", count, len(run.Detections))
	}
	for i, d := range run.Detections {
		if d.ID != i+1 {
			return fmt.Errorf("detection at position %d has id %d", i+1, d.ID)
		}
	}
	return nil
}

func (tc *TestContext) detectionShouldHaveClassAndConfidence(n int, class string, conf float64) error {
	d, err := tc.detection(n)
	if err != nil {
		return err
	}
	if d.Class != class || !sameFloat(d.Confidence, conf) {
		return fmt.Errorf("expected %s %.3f, got %s %v", class, conf, d.Class, d.Confidence)
	}
	return nil
}

func (tc *TestContext) detectionShouldHaveBBox(n int, x1, y1, x2, y2, w, h float64) error {
	d, err := tc.detection(n)
	if err != nil {
		return err
	}
	got := []float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2, d.BBox.Width, d.BBox.Height}
	want := []float64{x1, y1, x2, y2, w, h}
	for i := range want {
		if !sameFloat(got[i], want[i]) {
			return fmt.Errorf("expected bbox %v, got %v", want, got)
		}
	}
	return nil
}

func (tc *TestContext) detectionShouldHaveText(n int, text string) error {
	d, err := tc.detection(n)
	if err != nil {
		return err
	}
	if d.OCRText != text {
		return fmt.Errorf("expected text %q, got %q", text, d.OCRText)
	}
	return nil
}

func (tc *TestContext) theHeaderShouldBe(name, value string) error {
	if got := tc.LastHeaders[name]; got != value {
		return fmt.Errorf("expected header %s=%q, got %q", name, value, got)
	}
	return nil
}

func (tc *TestContext) theListShouldReportResults(count int) error {
	var body struct {
		Count   int64             `json:"count"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return fmt.Errorf("response is not a listing: %w", err)
	}
	if int(body.Count) != count || len(body.Results) != count {
		return fmt.Errorf("expected %d results, got count=%d len=%d", count, body.Count, len(body.Results))
	}
	return nil
}

func sameFloat(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// RegisterAPISteps registers the HTTP steps.
func (tc *TestContext) RegisterAPISteps(sc *godog.ScenarioContext) {
	sc.Step(`^the detector finds a "([^"]*)" with confidence ([0-9.]+) at ([0-9.]+),([0-9.]+),([0-9.]+),([0-9.]+)$`, tc.theDetectorFinds)
	sc.Step(`^the detector fails with "([^"]*)"$`, tc.theDetectorFails)
	sc.Step(`^the text reader returns "([^"]*)"$`, tc.theTextReaderReturns)

	sc.Step(`^I upload a scene image to "([^"]*)"$`, tc.iUploadASceneImageTo)
	sc.Step(`^I upload a file containing "([^"]*)" to "([^"]*)"$`, func(content, path string) error {
		return tc.iUploadAFileContaining(path, content)
	})
	sc.Step(`^I post a form without an image to "([^"]*)"$`, tc.iPostAFormWithoutAnImageTo)
	sc.Step(`^I send ([A-Z]+) "([^"]*)"$`, tc.iSendRequest)

	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response message should be "([^"]*)"$`, tc.theResponseMessageShouldBe)
	sc.Step(`^the "([^"]*)" field error should be "([^"]*)"$`, tc.theFieldErrorShouldBe)
	sc.Step(`^the run should have (\d+) detections?$`, tc.theRunShouldHaveDetections)
	sc.Step(`^detection (\d+) should have class "([^"]*)" and confidence ([0-9.]+)$`, tc.detectionShouldHaveClassAndConfidence)
	sc.Step(`^detection (\d+) should have bbox ([0-9.]+),([0-9.]+),([0-9.]+),([0-9.]+) sized ([0-9.]+)x([0-9.]+)$`, tc.detectionShouldHaveBBox)
	sc.Step(`^detection (\d+) should have text "([^"]*)"$`, tc.detectionShouldHaveText)
	sc.Step(`^the "([^"]*)" header should be "([^"]*)"$`, tc.theHeaderShouldBe)
	sc.Step(`^the listing should report (\d+) results?$`, tc.theListShouldReportResults)
}

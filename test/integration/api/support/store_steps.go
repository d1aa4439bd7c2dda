package support

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

func (tc *TestContext) theRecordStoreShouldHoldRuns(runs, detections int) error {
	var runCount, detCount int64
	if err := tc.DB.Model(&store.AnalysisRun{}).Count(&runCount).Error; err != nil {
		return err
	}
	if err := tc.DB.Model(&store.DetectionRecord{}).Count(&detCount).Error; err != nil {
		return err
	}
	if int(runCount) != runs || int(detCount) != detections {
		return fmt.Errorf("expected %d runs and %d detections, got %d and %d", runs, detections, runCount, detCount)
	}
	return nil
}

func (tc *TestContext) theResultFolderShouldContainTheBundle() error {
	run, err := tc.lastRun()
	if err != nil {
		return err
	}
	if filepath.Dir(run.ResultDir) != tc.ResultsRoot {
		return fmt.Errorf("result folder %s is not under %s", run.ResultDir, tc.ResultsRoot)
	}
	for _, name := range artifacts.BundleFiles {
		if _, err := os.Stat(filepath.Join(run.ResultDir, name)); err != nil {
			return fmt.Errorf("bundle file %s missing: %w", name, err)
		}
	}

	report, err := artifacts.ReadReport(run.ResultDir)
	if err != nil {
		return err
	}
	if report.AnalysisID != run.ID || len(report.Detections) != len(run.Detections) {
		return fmt.Errorf("report %s with %d detections does not match run %s with %d",
			report.AnalysisID, len(report.Detections), run.ID, len(run.Detections))
	}
	for i, d := range report.Detections {
		if d.ID != i+1 || d.OCRText != run.Detections[i].OCRText || d.BBox != run.Detections[i].BBox {
			return fmt.Errorf("report detection %d differs from stored detection", i+1)
		}
	}
	return nil
}

func (tc *TestContext) noResultBundleShouldExist() error {
	entries, err := os.ReadDir(tc.ResultsRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("expected no bundles, found %d", len(entries))
	}
	return nil
}

func (tc *TestContext) theStoredRunShouldBeGone() error {
	exists, err := tc.Repo.Exists(context.Background(), tc.LastRunID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("run %s still exists", tc.LastRunID)
	}
	return nil
}

func (tc *TestContext) iSubscribeToRunEvents() error {
	url := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	tc.WS = conn

	deadline := time.Now().Add(2 * time.Second)
	for tc.Hub.Clients() == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("subscriber was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (tc *TestContext) iShouldReceiveEvent(eventType string) error {
	if tc.WS == nil {
		return fmt.Errorf("not subscribed")
	}
	if err := tc.WS.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	_, data, err := tc.WS.ReadMessage()
	if err != nil {
		return err
	}

	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.Type != eventType {
		return fmt.Errorf("expected event %s, got %s", eventType, ev.Type)
	}

	if ev.Type == pipeline.EventRunCompleted {
		var payload pipeline.CompletedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		if payload.ID != tc.LastRunID {
			return fmt.Errorf("event is for run %s, expected %s", payload.ID, tc.LastRunID)
		}
	}
	return nil
}

// RegisterStoreSteps registers the record store, filesystem and event steps.
func (tc *TestContext) RegisterStoreSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the record store should hold (\d+) runs? with (\d+) detections?$`, tc.theRecordStoreShouldHoldRuns)
	sc.Step(`^the result folder should contain the bundle files$`, tc.theResultFolderShouldContainTheBundle)
	sc.Step(`^no result bundle should exist$`, tc.noResultBundleShouldExist)
	sc.Step(`^the stored run should be gone$`, tc.theStoredRunShouldBeGone)
	sc.Step(`^I subscribe to run events$`, tc.iSubscribeToRunEvents)
	sc.Step(`^I should receive a "([^"]*)" event$`, tc.iShouldReceiveEvent)
}

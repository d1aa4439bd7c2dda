package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	seen     []string
	failOn   string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeAnalyzer) Run(_ context.Context, up pipeline.Upload) (*pipeline.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.seen = append(f.seen, up.Filename)
	f.mu.Unlock()

	if up.Filename == f.failOn {
		return nil, errors.New("detector unavailable")
	}
	run := &store.AnalysisRun{
		ID:        "run-" + up.Filename,
		ImagePath: "uploads/" + up.Filename,
		Detections: []store.DetectionRecord{
			{ClassName: "sign", Confidence: 0.9, BBoxX1: 1, BBoxY1: 2, BBoxX2: 11, BBoxY2: 22, OCRText: "STOP"},
		},
	}
	return &pipeline.Result{Run: run}, nil
}

func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, testutil.WriteSceneJPEG(t, dir, name, testutil.SmallSize))
	}
	return paths
}

func TestProcessFilesKeepsInputOrder(t *testing.T) {
	dir := t.TempDir()
	files := writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	a := &fakeAnalyzer{}

	res := ProcessFiles(context.Background(), a, files, Config{Workers: 3})
	require.Len(t, res.Items, 4)
	for i, it := range res.Items {
		assert.Equal(t, files[i], it.Path)
		require.NoError(t, it.Err)
		assert.Equal(t, "run-"+filepath.Base(files[i]), it.Run.ID)
	}
	assert.Equal(t, 4, res.Succeeded())
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, 4, res.Detections())
	assert.NoError(t, res.Err())
	assert.Equal(t, 3, res.Workers)
	assert.LessOrEqual(t, a.peak.Load(), int32(3))
}

func TestProcessFilesCollectsFailures(t *testing.T) {
	dir := t.TempDir()
	files := writeImages(t, dir, "a.jpg", "b.jpg")
	files = append(files, filepath.Join(dir, "missing.jpg"))
	a := &fakeAnalyzer{failOn: "b.jpg"}

	res := ProcessFiles(context.Background(), a, files, Config{})
	assert.Equal(t, 1, res.Workers)
	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 2, res.Failed())
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "detector unavailable")
	assert.ErrorIs(t, res.Items[2].Err, os.ErrNotExist)
}

func TestProcessFilesFailFast(t *testing.T) {
	dir := t.TempDir()
	files := writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")
	a := &fakeAnalyzer{failOn: "a.jpg"}

	res := ProcessFiles(context.Background(), a, files, Config{Workers: 1, FailFast: true})
	require.Error(t, res.Items[0].Err)
	assert.ErrorIs(t, res.Items[1].Err, errSkipped)
	assert.ErrorIs(t, res.Items[2].Err, errSkipped)
	assert.Equal(t, []string{"a.jpg"}, a.seen)
}

func TestProcessDiscovers(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	res, err := Process(context.Background(), &fakeAnalyzer{}, []string{dir}, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	empty := t.TempDir()
	_, err = Process(context.Background(), &fakeAnalyzer{}, []string{empty}, DefaultConfig())
	require.EqualError(t, err, "no image files found")

	_, err = Process(context.Background(), &fakeAnalyzer{}, []string{filepath.Join(dir, "nope")}, DefaultConfig())
	require.ErrorContains(t, err, "cannot access")
}

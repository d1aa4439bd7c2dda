package artifacts

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/MeKo-Tech/detscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bundleNamePattern = regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{8}$`)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	media, results := testutil.ResultDirs(t)
	cfg := DefaultConfig()
	cfg.MediaRoot = media
	cfg.ResultsRoot = results
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{MediaRoot: "m"})
	require.Error(t, err)

	_, err = New(Config{ResultsRoot: "r"})
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.BoxColor = "green"
	_, err = New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.FontPath = filepath.Join(t.TempDir(), "missing.ttf")
	_, err = New(cfg)
	require.Error(t, err)
}

func TestSaveUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	name, err := s.SaveUpload(ctx, "Photo.PNG", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(name))
	assert.True(t, strings.HasPrefix(name, UploadsDir+"/"))
	assert.True(t, testutil.FileExists(s.UploadPath(name)))

	other, err := s.SaveUpload(ctx, "photo.png", []byte("data"))
	require.NoError(t, err)
	assert.NotEqual(t, name, other)

	noExt, err := s.SaveUpload(ctx, "blob", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(noExt))

	_, err = s.SaveUpload(ctx, "empty.jpg", nil)
	require.Error(t, err)

	require.NoError(t, s.RemoveUpload(name))
	assert.False(t, testutil.FileExists(s.UploadPath(name)))
	require.NoError(t, s.RemoveUpload(name))
}

func TestNewBundleNaming(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 9, 7, 5, 3, 0, time.UTC)

	b, err := s.NewBundle(now)
	require.NoError(t, err)
	assert.Regexp(t, bundleNamePattern, b.Name)
	assert.Equal(t, "20240309_070503", b.Name[:15])
	assert.True(t, testutil.DirExists(b.Dir))
	assert.Equal(t, s.ResultsRoot(), filepath.Dir(b.Dir))
}

func TestNewBundleRetriesOnCollision(t *testing.T) {
	suffixes := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	i := 0
	s := newTestStore(t, WithSuffixFunc(func() string {
		v := suffixes[i]
		i++
		return v
	}))
	now := time.Now()

	first, err := s.NewBundle(now)
	require.NoError(t, err)
	second, err := s.NewBundle(now)
	require.NoError(t, err)

	assert.NotEqual(t, first.Dir, second.Dir)
	assert.Equal(t, "bbbbbbbb", second.Name[len(second.Name)-8:])
}

func TestNewBundleGivesUp(t *testing.T) {
	s := newTestStore(t, WithSuffixFunc(func() string { return "cafebabe" }))
	now := time.Now()

	_, err := s.NewBundle(now)
	require.NoError(t, err)
	_, err = s.NewBundle(now)
	require.Error(t, err)
}

func TestBundleWritesAllFiles(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	src := testutil.WriteSceneJPEG(t, dir, "in.jpg", testutil.SmallSize,
		testutil.Region{Rect: image.Rect(40, 60, 140, 110), Caption: "12A"})
	img := testutil.LoadImage(t, src)

	b, err := s.NewBundle(time.Now())
	require.NoError(t, err)

	analyzed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	report := &Report{
		AnalysisID: "run-1",
		Image:      src,
		UploadedAt: analyzed.Add(-time.Second),
		AnalyzedAt: &analyzed,
		Detections: []ReportDetection{{
			ID: 1, Class: "plate", Confidence: 0.913,
			BBox:    BBox{X1: 40, Y1: 60, X2: 140, Y2: 110, Width: 100, Height: 50},
			OCRText: "12A",
		}},
	}
	require.NoError(t, b.WriteReport(report))
	require.NoError(t, b.WriteAnnotated(img, []Annotation{{Class: "plate", Confidence: 0.913, X1: 40, Y1: 60, X2: 140, Y2: 110, Text: "12A"}}))
	require.NoError(t, b.WriteOriginal(src, img))

	assert.ElementsMatch(t, BundleFiles, testutil.ListDir(t, b.Dir))

	raw, err := os.ReadFile(b.Path(ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"analysis_id\": \"run-1\"")

	loaded, err := ReadReport(b.Dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.AnalysisID)
	require.Len(t, loaded.Detections, 1)
	assert.Equal(t, "12A", loaded.Detections[0].OCRText)

	orig, err := os.ReadFile(b.Path(OriginalFile))
	require.NoError(t, err)
	srcBytes, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, srcBytes, orig)

	annotated := testutil.LoadImage(t, b.Path(AnnotatedFile))
	assert.Equal(t, img.Bounds().Dx(), annotated.Bounds().Dx())
	assert.Equal(t, img.Bounds().Dy(), annotated.Bounds().Dy())

	require.NoError(t, s.RemoveBundle(b))
	assert.False(t, testutil.DirExists(b.Dir))
}

func TestWriteOriginalReencodesNonJPEG(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	img := testutil.CreateTestImage(32, 24, color.White)
	src := filepath.Join(dir, "in.png")
	testutil.SaveImage(t, img, src)

	b, err := s.NewBundle(time.Now())
	require.NoError(t, err)
	require.NoError(t, b.WriteOriginal(src, img))

	out := testutil.LoadImage(t, b.Path(OriginalFile))
	assert.Equal(t, 32, out.Bounds().Dx())
	assert.True(t, testutil.CompareImages(img, out, 0.02))
}

func TestWriteOriginalSniffsContentNotExtension(t *testing.T) {
	s := newTestStore(t)
	img := testutil.CreateTestImage(32, 24, color.White)
	src := filepath.Join(t.TempDir(), "x.jpg")
	require.NoError(t, os.WriteFile(src, testutil.EncodePNG(t, img), 0o600))

	b, err := s.NewBundle(time.Now())
	require.NoError(t, err)
	require.NoError(t, b.WriteOriginal(src, img))

	raw, err := os.ReadFile(b.Path(OriginalFile))
	require.NoError(t, err)
	meta, err := utils.InspectImage(raw)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", meta.Format)
	assert.Equal(t, 32, meta.Width)
}

func TestRemoveBundleDirStaysInsideRoot(t *testing.T) {
	s := newTestStore(t)
	b, err := s.NewBundle(time.Now())
	require.NoError(t, err)

	outside := t.TempDir()
	require.Error(t, s.RemoveBundleDir(outside))
	assert.True(t, testutil.DirExists(outside))

	require.Error(t, s.RemoveBundleDir(s.ResultsRoot()))
	assert.True(t, testutil.DirExists(s.ResultsRoot()))

	require.NoError(t, s.RemoveBundleDir(b.Dir))
	assert.False(t, testutil.DirExists(b.Dir))
	require.NoError(t, s.RemoveBundleDir(""))
}

type recordingUploader struct {
	bundles []string
	err     error
}

func (r *recordingUploader) UploadBundle(_ context.Context, b *Bundle) ([]string, error) {
	r.bundles = append(r.bundles, b.Name)
	return []string{b.Name}, r.err
}

func TestMirror(t *testing.T) {
	plain := newTestStore(t)
	b, err := plain.NewBundle(time.Now())
	require.NoError(t, err)
	keys, err := plain.Mirror(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, keys)

	up := &recordingUploader{err: errors.New("offline")}
	mirrored := newTestStore(t, WithMirror(up))
	b, err = mirrored.NewBundle(time.Now())
	require.NoError(t, err)
	_, err = mirrored.Mirror(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, []string{b.Name}, up.bundles)
}

func TestObjectKeyAndContentType(t *testing.T) {
	assert.Equal(t, "results/20240101_000000_abcdef01/detections.json", objectKey("results", "20240101_000000_abcdef01", ReportFile))
	assert.Equal(t, "b/f.jpg", objectKey("", "b", "f.jpg"))
	assert.Equal(t, "application/json", contentType(ReportFile))
	assert.Equal(t, "image/jpeg", contentType(AnnotatedFile))
	assert.Equal(t, "application/octet-stream", contentType("x.bin"))
}

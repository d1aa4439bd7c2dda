// Package artifacts stores uploaded images and writes per-run result bundles.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	// UploadsDir is the sub directory of the media root that holds uploaded images.
	UploadsDir = "uploads"

	// BundleTimeLayout formats the timestamp part of a bundle directory name.
	BundleTimeLayout = "20060102_150405"
)

// Config holds artifact storage settings.
type Config struct {
	MediaRoot   string  // uploaded images live under <MediaRoot>/uploads
	ResultsRoot string  // bundles are created under this directory
	JPEGQuality int     // quality of written JPEG files (1-100)
	FontPath    string  // optional TTF font for labels
	FontSize    float64 // point size when FontPath is set
	BoxColor    string  // hex colour of boxes and label backgrounds
	TextColor   string  // hex colour of label text
}

// DefaultConfig returns the default artifact configuration.
func DefaultConfig() Config {
	return Config{
		MediaRoot:   "media",
		ResultsRoot: "results",
		JPEGQuality: 95,
		FontSize:    14,
		BoxColor:    "#00FF00",
		TextColor:   "#000000",
	}
}

// Uploader copies a finished bundle to secondary storage.
type Uploader interface {
	UploadBundle(ctx context.Context, b *Bundle) ([]string, error)
}

// Store writes uploads and result bundles to the local filesystem.
type Store struct {
	cfg       Config
	boxColor  color.Color
	textColor color.Color
	newFace   func() font.Face
	mirror    Uploader
	suffix    func() string
}

// Option customises a Store.
type Option func(*Store)

// WithMirror copies every bundle to the given uploader after it is written.
func WithMirror(u Uploader) Option {
	return func(s *Store) { s.mirror = u }
}

// WithSuffixFunc overrides the random bundle suffix generator.
func WithSuffixFunc(fn func() string) Option {
	return func(s *Store) { s.suffix = fn }
}

// New creates a Store. Directories are created lazily on first write.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.ResultsRoot == "" {
		return nil, errors.New("results root cannot be empty")
	}
	if cfg.MediaRoot == "" {
		return nil, errors.New("media root cannot be empty")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}

	boxColor, err := parseColor(cfg.BoxColor, color.RGBA{0, 255, 0, 255})
	if err != nil {
		return nil, fmt.Errorf("invalid box color: %w", err)
	}
	textColor, err := parseColor(cfg.TextColor, color.Black)
	if err != nil {
		return nil, fmt.Errorf("invalid text color: %w", err)
	}

	newFace := func() font.Face { return basicfont.Face7x13 }
	if cfg.FontPath != "" {
		newFace, err = loadFontFace(cfg.FontPath, cfg.FontSize)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{
		cfg:       cfg,
		boxColor:  boxColor,
		textColor: textColor,
		newFace:   newFace,
		suffix:    randomSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ResultsRoot returns the directory bundles are created in.
func (s *Store) ResultsRoot() string {
	return s.cfg.ResultsRoot
}

// SaveUpload stores uploaded image bytes under a unique name and returns its
// path relative to the media root, e.g. "uploads/<uuid>.jpg".
func (s *Store) SaveUpload(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("upload is empty")
	}

	dir := filepath.Join(s.cfg.MediaRoot, UploadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	name := path.Join(UploadsDir, uuid.NewString()+ext)
	if err := os.WriteFile(s.UploadPath(name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return name, nil
}

// UploadPath resolves a name returned by SaveUpload to a filesystem path.
func (s *Store) UploadPath(name string) string {
	return filepath.Join(s.cfg.MediaRoot, filepath.FromSlash(name))
}

// MediaRoot returns the directory uploads are stored under.
func (s *Store) MediaRoot() string {
	return s.cfg.MediaRoot
}

// RemoveUpload deletes a stored upload by name. Missing files are ignored.
func (s *Store) RemoveUpload(name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(s.UploadPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove upload %s: %w", name, err)
	}
	return nil
}

// NewBundle creates a uniquely named, empty bundle directory for a run that
// finished detection at now.
func (s *Store) NewBundle(now time.Time) (*Bundle, error) {
	if err := os.MkdirAll(s.cfg.ResultsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results root: %w", err)
	}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		name := now.Format(BundleTimeLayout) + "_" + s.suffix()
		dir := filepath.Join(s.cfg.ResultsRoot, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return &Bundle{Name: name, Dir: dir, store: s}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create bundle directory: %w", err)
		}
		slog.Debug("Bundle directory exists, retrying", "name", name)
	}
	return nil, fmt.Errorf("could not create a unique bundle directory after %d attempts", attempts)
}

// RemoveBundle deletes a bundle directory and everything in it.
func (s *Store) RemoveBundle(b *Bundle) error {
	if b == nil || b.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(b.Dir); err != nil {
		return fmt.Errorf("failed to remove bundle %s: %w", b.Name, err)
	}
	return nil
}

// RemoveBundleDir deletes a bundle by directory, refusing paths outside the results root.
func (s *Store) RemoveBundleDir(dir string) error {
	if dir == "" {
		return nil
	}
	root, err := filepath.Abs(s.cfg.ResultsRoot)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) != root {
		return fmt.Errorf("refusing to remove %s: not a bundle under %s", dir, s.cfg.ResultsRoot)
	}
	return os.RemoveAll(abs)
}

// Mirror uploads the bundle when a mirror is configured and returns the object keys.
func (s *Store) Mirror(ctx context.Context, b *Bundle) ([]string, error) {
	if s.mirror == nil {
		return nil, nil
	}
	return s.mirror.UploadBundle(ctx, b)
}

// randomSuffix returns 8 hex characters taken from a v4 UUID.
func randomSuffix() string {
	return uuid.NewString()[:8]
}

package recognizer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	spans  []string
	err    error
	panic  bool
	calls  atomic.Int32
	closed bool
}

func (s *stubEngine) Recognize(_ context.Context, png []byte) ([]string, error) {
	s.calls.Add(1)
	if s.panic {
		panic("engine crashed")
	}
	if len(png) == 0 {
		return nil, errors.New("empty png")
	}
	return s.spans, s.err
}

func (s *stubEngine) Close() error {
	s.closed = true
	return nil
}

func factoryFor(e Engine, err error) (EngineFactory, *atomic.Int32) {
	var n atomic.Int32
	return func(Config) (Engine, error) {
		n.Add(1)
		if err != nil {
			return nil, err
		}
		return e, nil
	}, &n
}

func region() image.Image {
	return testutil.CreateTestImage(60, 20, color.White)
}

func TestExtractJoinsSpans(t *testing.T) {
	engine := &stubEngine{spans: []string{"  STOP ", "", "here\n"}}
	factory, created := factoryFor(engine, nil)
	ex := NewExtractor(DefaultConfig(), factory)

	assert.False(t, ex.Loaded())
	assert.Equal(t, "STOP here", ex.Extract(context.Background(), region()))
	assert.Equal(t, "STOP here", ex.Extract(context.Background(), region()))
	assert.True(t, ex.Loaded())
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(2), engine.calls.Load())

	require.NoError(t, ex.Close())
	assert.True(t, engine.closed)
	assert.False(t, ex.Loaded())
}

func TestExtractDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		engine  *stubEngine
		initErr error
		region  image.Image
	}{
		{"engine error", &stubEngine{err: errors.New("tesseract failed")}, nil, region()},
		{"engine panic", &stubEngine{panic: true}, nil, region()},
		{"init error", nil, errors.New("no tessdata"), region()},
		{"nil region", &stubEngine{spans: []string{"x"}}, nil, nil},
		{"empty region", &stubEngine{spans: []string{"x"}}, nil, image.NewRGBA(image.Rect(0, 0, 0, 5))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var engine Engine
			if tt.engine != nil {
				engine = tt.engine
			}
			factory, _ := factoryFor(engine, tt.initErr)
			ex := NewExtractor(DefaultConfig(), factory)
			assert.Equal(t, "", ex.Extract(context.Background(), tt.region))
		})
	}
}

func TestExtractEmptyRegionSkipsEngine(t *testing.T) {
	engine := &stubEngine{spans: []string{"x"}}
	factory, created := factoryFor(engine, nil)
	ex := NewExtractor(DefaultConfig(), factory)

	assert.Equal(t, "", ex.Extract(context.Background(), image.NewRGBA(image.Rect(3, 3, 3, 9))))
	assert.Equal(t, int32(0), created.Load())
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestExtractRecoversAfterInitFailure(t *testing.T) {
	engine := &stubEngine{spans: []string{"ok"}}
	var attempts atomic.Int32
	ex := NewExtractor(DefaultConfig(), func(Config) (Engine, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return engine, nil
	})

	assert.Equal(t, "", ex.Extract(context.Background(), region()))
	assert.Equal(t, "ok", ex.Extract(context.Background(), region()))
}

func TestExtractCancelledContext(t *testing.T) {
	engine := &stubEngine{spans: []string{"x"}}
	factory, _ := factoryFor(engine, nil)
	ex := NewExtractor(DefaultConfig(), factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "", ex.Extract(ctx, region()))
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestExtractConcurrent(t *testing.T) {
	engine := &stubEngine{spans: []string{"A1"}}
	factory, created := factoryFor(engine, nil)
	ex := NewExtractor(DefaultConfig(), factory)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "A1", ex.Extract(context.Background(), region()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestNewTesseractEngineRequiresLanguages(t *testing.T) {
	_, err := NewTesseractEngine(Config{})
	require.Error(t, err)
}

package recognizer

import (
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanSpan(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  hello   world ", "hello world"},
		{"line\none", "line one"},
		{"zero\u200bwidth", "zerowidth"},
		{"bell\x07", "bell"},
		{"e\u0301", "\u00e9"},
		{"가", "가"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanSpan(tt.in), "input %q", tt.in)
	}
}

func TestJoinSpans(t *testing.T) {
	assert.Equal(t, "", JoinSpans(nil))
	assert.Equal(t, "", JoinSpans([]string{" ", "\u200b"}))
	assert.Equal(t, "서울 12가 3456", JoinSpans([]string{"서울", " 12가 ", "", "3456"}))
}

func TestPreprocess(t *testing.T) {
	src := testutil.CreateTestImage(40, 10, color.RGBA{200, 30, 30, 255})

	out := preprocess(src, DefaultConfig())
	assert.Equal(t, 32, out.Bounds().Dy())
	assert.Equal(t, 128, out.Bounds().Dx())

	r, g, b, _ := out.At(5, 5).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)

	cfg := DefaultConfig()
	cfg.Upscale = 0
	cfg.Contrast = 0
	out = preprocess(src, cfg)
	assert.Equal(t, image.Rect(0, 0, 40, 10), out.Bounds())
}

func TestEncodeForRecognition(t *testing.T) {
	data, err := encodeForRecognition(testutil.CreateTestImage(20, 40, color.White), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestClampContrast(t *testing.T) {
	assert.InDelta(t, 100, clampContrast(250), 1e-9)
	assert.InDelta(t, -100, clampContrast(-101), 1e-9)
	assert.InDelta(t, 15, clampContrast(15), 1e-9)
}

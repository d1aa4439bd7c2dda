package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSceneImage(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	img := CreateSceneImage(SmallSize, Region{Rect: image.Rect(10, 10, 50, 40), Fill: red})

	assert.Equal(t, SmallSize.Width, img.Bounds().Dx())
	assert.Equal(t, SmallSize.Height, img.Bounds().Dy())
	assert.Equal(t, red, img.RGBAAt(20, 20))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(100, 100))
}

func TestWriteSceneJPEGRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := WriteSceneJPEG(t, dir, "scene.jpg", SmallSize, Region{Rect: image.Rect(0, 0, 80, 60), Caption: "AB12"})

	img := LoadImage(t, path)
	assert.Equal(t, SmallSize.Width, img.Bounds().Dx())
}

func TestSaveImagePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "img.png")
	src := CreateTestImage(40, 30, color.Black)
	SaveImage(t, src, path)

	loaded := LoadImage(t, path)
	assert.True(t, CompareImages(src, loaded, 0.0))
}

func TestEncoders(t *testing.T) {
	img := CreateTestImage(8, 8, color.White)
	jpg := EncodeJPEG(t, img)
	png := EncodePNG(t, img)
	require.NotEmpty(t, jpg)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpg[:2])
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestCompareImages(t *testing.T) {
	white := CreateTestImage(10, 10, color.White)
	black := CreateTestImage(10, 10, color.Black)
	small := CreateTestImage(5, 5, color.White)

	assert.True(t, CompareImages(white, white, 0))
	assert.False(t, CompareImages(white, black, 0.1))
	assert.False(t, CompareImages(white, small, 1))
}

package detector

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/detscan/internal/mempool"
	"github.com/disintegration/imaging"
)

// letterboxFill is the grey used by YOLO exports for padding.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox describes how a source image was mapped into the square model input.
type letterbox struct {
	Scale float64
	PadX  int
	PadY  int
	Size  int
}

// toSource maps a point from model input coordinates back to the source image.
func (l letterbox) toSource(x, y float64) (float64, float64) {
	return (x - float64(l.PadX)) / l.Scale, (y - float64(l.PadY)) / l.Scale
}

// letterboxImage resizes img to fit a size x size square, keeping the aspect
// ratio and centring it on a grey canvas.
func letterboxImage(img image.Image, size int) (*image.NRGBA, letterbox, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, letterbox{}, errors.New("image has no pixels")
	}
	if size <= 0 {
		return nil, letterbox{}, errors.New("input size must be positive")
	}

	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, letterbox{Scale: scale, PadX: padX, PadY: padY, Size: size}, nil
}

// toCHW converts an NRGBA image to RGB float32 data in CHW order scaled to [0,1].
// The buffer comes from mempool and should be returned with mempool.PutFloat32.
func toCHW(img *image.NRGBA) []float32 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	data := mempool.GetFloat32(3 * plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			p := y*w + x
			data[p] = float32(row[i]) / 255
			data[plane+p] = float32(row[i+1]) / 255
			data[2*plane+p] = float32(row[i+2]) / 255
		}
	}
	return data
}

package artifacts

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
)

const (
	boxLineWidth  = 2.0
	labelPadding  = 10.0
	labelBaseline = 5.0
)

// Annotation is a box to draw on the annotated image.
type Annotation struct {
	Class      string
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
	Text       string
}

// Label returns "<class>: <conf>" followed by " [<text>]" when text is present.
func (a Annotation) Label() string {
	label := fmt.Sprintf("%s: %.2f", a.Class, a.Confidence)
	if a.Text != "" {
		label += " [" + a.Text + "]"
	}
	return label
}

// Annotate returns a copy of img with every box outlined and labelled.
func (s *Store) Annotate(img image.Image, boxes []Annotation) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(s.newFace())

	for _, a := range boxes {
		x1, y1 := math.Trunc(a.X1), math.Trunc(a.Y1)
		x2, y2 := math.Trunc(a.X2), math.Trunc(a.Y2)

		dc.SetColor(s.boxColor)
		dc.SetLineWidth(boxLineWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		label := a.Label()
		tw, th := dc.MeasureString(label)
		dc.DrawRectangle(x1, y1-th-labelPadding, tw, th+labelPadding)
		dc.Fill()

		dc.SetColor(s.textColor)
		dc.DrawString(label, x1, y1-labelBaseline)
	}

	return dc.Image()
}

func parseColor(hex string, fallback color.Color) (color.Color, error) {
	if hex == "" {
		return fallback, nil
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// loadFontFace parses a TTF file and returns a constructor for faces of it.
// A truetype face caches glyphs and must not be shared between goroutines.
func loadFontFace(fontPath string, size float64) (func() font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	if size <= 0 {
		size = DefaultConfig().FontSize
	}
	opts := &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}
	return func() font.Face { return truetype.NewFace(parsed, opts) }, nil
}

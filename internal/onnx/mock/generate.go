// Package mock builds synthetic model outputs for tests.
package mock

// Anchor is one candidate box in model input coordinates.
type Anchor struct {
	CX, CY, W, H float32
	Class        int
	Score        float32
}

// YOLOOutput lays anchors out as a [1, 4+classes, N] tensor: box rows first,
// then one score row per class. Scores of other classes are zero.
func YOLOOutput(classes int, anchors []Anchor) ([]float32, []int64) {
	n := len(anchors)
	rows := 4 + classes
	data := make([]float32, rows*n)
	for i, a := range anchors {
		data[0*n+i] = a.CX
		data[1*n+i] = a.CY
		data[2*n+i] = a.W
		data[3*n+i] = a.H
		if a.Class >= 0 && a.Class < classes {
			data[(4+a.Class)*n+i] = clamp01(a.Score)
		}
	}
	return data, []int64{1, int64(rows), int64(n)}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

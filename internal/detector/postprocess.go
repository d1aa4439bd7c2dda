package detector

import "fmt"

// decodeYOLO turns a [1, 4+classes, anchors] output into detections in source
// image coordinates. Each anchor contributes at most one detection, for its
// best scoring class, when that score reaches confThreshold.
func decodeYOLO(data []float32, classes, anchors int, lb letterbox, labels Labels, confThreshold float32) ([]Detection, error) {
	if len(data) != (4+classes)*anchors {
		return nil, fmt.Errorf("output has %d values, want %d", len(data), (4+classes)*anchors)
	}

	var dets []Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < confThreshold {
			continue
		}

		cx := float64(data[i])
		cy := float64(data[anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)

		dets = append(dets, Detection{
			Label:      labels.Name(best),
			Confidence: float64(bestScore),
			Box:        Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		})
	}
	return dets, nil
}

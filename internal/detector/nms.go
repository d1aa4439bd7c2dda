package detector

import "sort"

// IoU returns the intersection over union of two boxes.
func IoU(a, b Box) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	inter := Box{X1: ix1, Y1: iy1, X2: ix2, Y2: iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// sortByConfidenceDesc sorts detections in place, highest confidence first.
// Equal scores keep their input order.
func sortByConfidenceDesc(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

// NonMaxSuppression performs greedy class-aware NMS. Boxes of different
// labels never suppress each other. The result is ordered by confidence.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sortByConfidenceDesc(sorted)

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))

	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])

		for b := a + 1; b < len(sorted); b++ {
			if suppressed[b] || sorted[a].Label != sorted[b].Label {
				continue
			}
			if IoU(sorted[a].Box, sorted[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

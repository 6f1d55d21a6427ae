package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-live-detect/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap above which the lower scoring box is suppressed.
	// 1.0 disables suppression.
	IoUThreshold float32 `json:"iouThreshold" yaml:"iouThreshold"`
	// ClassAgnostic suppresses overlapping boxes regardless of class.
	ClassAgnostic bool `json:"classAgnostic" yaml:"classAgnostic"`
	// MaxDetections caps the number of kept boxes. 0 keeps all.
	MaxDetections int `json:"maxDetections" yaml:"maxDetections"`
}

// ApplyNMS performs deterministic greedy Non-Maximum Suppression.
//
// Detections are visited by descending confidence, ties broken by their
// position in the input. A detection is kept unless a previously kept
// detection of the same class (any class when ClassAgnostic) overlaps it by
// more than IoUThreshold. Running ApplyNMS on its own output returns the same
// detections.
//
// Arguments:
//   - detections: Candidate detections in any order. The slice is not modified.
//   - config: NMS configuration.
//
// Returns:
//   - The kept detections, highest confidence first. Nil when detections is empty.
func ApplyNMS(detections []Detection, config NMSConfig) []Detection {
	n := len(detections)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	kept := make([]Detection, 0, min(n, 64))
	byClass := make(map[int][]images.Rect)

	for _, idx := range order {
		d := detections[idx]
		class := d.ClassID
		if config.ClassAgnostic {
			class = -1
		}

		suppressed := false
		for _, k := range byClass[class] {
			if images.CalculateIoU(k, d.Box) > config.IoUThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}

		kept = append(kept, d)
		byClass[class] = append(byClass[class], d.Box)
		if config.MaxDetections > 0 && len(kept) == config.MaxDetections {
			break
		}
	}

	return kept
}

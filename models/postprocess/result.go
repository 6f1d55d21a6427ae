// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-live-detect/images"
)

// Detection represents a single detection result in original frame space.
type Detection struct {
	// The bounding box, clipped to the frame.
	Box images.Rect `json:"box" yaml:"box"`
	// The predicted class index.
	ClassID int `json:"classId" yaml:"classId"`
	// The class name, or "class N" when the model has no label for the index.
	Label string `json:"label" yaml:"label"`
	// The confidence score in [0,1].
	Confidence float32 `json:"confidence" yaml:"confidence"`
}

// LabelText formats the caption drawn next to a detection: "<label> <pct>%".
func LabelText(d Detection) string {
	return fmt.Sprintf("%s %.1f%%", d.Label, d.Confidence*100)
}

// String implements fmt.Stringer.
func (d Detection) String() string {
	return fmt.Sprintf("%s (%d) %.3f [%.1f %.1f %.1f %.1f]",
		d.Label, d.ClassID, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
}

// labelFor returns the class name for id.
func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) && labels[id] != "" {
		return labels[id]
	}
	return fmt.Sprintf("class %d", id)
}

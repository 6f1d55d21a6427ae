// Package models - Loading of detection model artifacts and the catalogue of
// models a session can select.
package models

// Entry describes a selectable model.
type Entry struct {
	// ID is the identifier used in the artifact path convention.
	ID string `json:"id" yaml:"id"`
	// Title is shown when listing models.
	Title string `json:"title" yaml:"title"`
	// Labels are used when the manifest carries none.
	Labels []string `json:"-" yaml:"-"`
}

const (
	// ModelYOLOv8n is the COCO object detector.
	ModelYOLOv8n = "yolov8n"
	// ModelWarehouse is the warehouse detector.
	ModelWarehouse = "warehouse"
)

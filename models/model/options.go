package model

import "github.com/pkg/errors"

// Precision is the numeric precision the weights were exported with. It is
// forwarded to execution providers that compile the graph (OpenVINO).
//
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type Precision string

const (
	// PrecisionAccuracy lets the provider keep the graph's native precision.
	// (OpenVINO's default input precision type.)
	PrecisionAccuracy Precision = "ACCURACY"
	// PrecisionFP32 represents 32-bit floating point precision.
	PrecisionFP32 Precision = "FP32"
	// PrecisionFP16 represents 16-bit floating point precision.
	PrecisionFP16 Precision = "FP16"
	// PrecisionINT8 represents 8-bit integer precision.
	PrecisionINT8 Precision = "INT8"
)

// Validate reports an unknown precision. The empty value is accepted.
func (p Precision) Validate() error {
	switch p {
	case "", PrecisionAccuracy, PrecisionFP32, PrecisionFP16, PrecisionINT8:
		return nil
	}
	return errors.Errorf("unknown precision %q", string(p))
}

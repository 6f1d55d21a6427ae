package inference

// EngineType names the runtime that executes a model graph.
type EngineType string

const (
	// EngineONNX executes graphs with onnxruntime.
	EngineONNX EngineType = "onnx"
	// EngineOpenCV executes graphs with the OpenCV DNN module.
	EngineOpenCV EngineType = "opencv"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineONNX, EngineOpenCV}

// Supported reports whether e is a known engine.
func (e EngineType) Supported() bool {
	for _, known := range Engines {
		if e == known {
			return true
		}
	}
	return false
}

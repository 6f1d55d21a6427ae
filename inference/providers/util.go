package providers

import (
	"os"
	"path/filepath"
	"runtime"
)

// LibraryPathEnv overrides the shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	return filepath.Join("third_party", sharedLibName(runtime.GOOS, runtime.GOARCH))
}

func sharedLibName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	}
	if goarch == "arm64" {
		return "onnxruntime_arm64.so"
	}
	return "onnxruntime.so"
}

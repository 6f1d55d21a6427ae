package images

import (
	"crypto/md5"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FrameFromMat converts a BGR OpenCV matrix, as returned by VideoCapture.Read,
// into an RGB frame.
//
// Arguments:
//   - mat: A 3-channel 8-bit BGR Mat.
//
// Returns:
//   - *Frame: A frame that owns a copy of the pixels.
//   - error: An error if the Mat is empty or not 8UC3.
func FrameFromMat(mat gocv.Mat) (*Frame, error) {
	if mat.Empty() {
		return nil, errors.Wrap(ErrInvalidFrame, "empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Wrapf(ErrInvalidFrame, "unsupported mat type %v", mat.Type())
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	return &Frame{
		Width:    rgb.Cols(),
		Height:   rgb.Rows(),
		Channels: 3,
		Pix:      rgb.ToBytes(),
	}, nil
}

// MatFromImage converts an image into a BGR Mat suitable for gocv windows and writers.
// The caller owns the returned Mat.
func MatFromImage(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "image to mat")
	}

	return mat, nil
}

// ComputeFrameChecksum generates a deterministic checksum for a frame's pixels.
//
// Arguments:
//   - f: The frame to compute checksum for.
//
// Returns:
//   - A hex-encoded MD5 checksum string.
//
// Example:
//
// ```go
//
//	checksum := ComputeFrameChecksum(frame)
//	fmt.Printf("Frame checksum: %s\n", checksum)
//
// ```
func ComputeFrameChecksum(f *Frame) string {
	if f == nil || len(f.Pix) == 0 {
		return "empty"
	}

	return fmt.Sprintf("%x", md5.Sum(f.Pix))
}

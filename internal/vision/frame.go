// Package vision adapts OpenCV (gocv) to the pipeline: capture, image
// preprocessing, annotation and the preview window.
package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
)

// Frame owns one gocv.Mat.
type Frame struct {
	mat gocv.Mat
}

func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

// Mat exposes the underlying matrix. It stays owned by the frame.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

// MatOf returns the matrix behind a pipeline frame produced by this package.
func MatOf(f pipeline.Frame) (gocv.Mat, error) {
	vf, ok := f.(*Frame)
	if !ok || vf == nil {
		return gocv.Mat{}, fmt.Errorf("%w: unsupported frame type %T", anpr.ErrInvalidInput, f)
	}
	if vf.mat.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: empty frame", anpr.ErrInvalidInput)
	}
	return vf.mat, nil
}

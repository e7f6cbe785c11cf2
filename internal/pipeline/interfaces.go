package pipeline

import (
	"context"
	"image"
	"time"

	"platewatch/internal/domain/anpr"
)

// Frame is one decoded image owned by the pipeline until Close.
type Frame interface {
	Bounds() image.Rectangle
	Close() error
}

// FrameSource yields frames until it returns io.EOF or fails.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

type Preprocessor interface {
	// Normalize returns the canonical-size, sharpened copy of f.
	Normalize(f Frame) (Frame, error)
	// Crop returns the region r of f as a new frame.
	Crop(f Frame, r image.Rectangle) (Frame, error)
	// Binarize returns the encoded image handed to the recognizer.
	Binarize(f Frame) ([]byte, error)
	// Encode returns f as an archive image.
	Encode(f Frame) ([]byte, error)
}

type Detector interface {
	Detect(ctx context.Context, f Frame) ([]anpr.Detection, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]string, error)
}

type Tracker interface {
	Consider(key string, now time.Time) bool
}

// Recorder persists an accepted sighting, either in-process or through the
// store owner.
type Recorder interface {
	Record(ctx context.Context, c anpr.Capture) (*anpr.Sighting, error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, c anpr.Capture) (*anpr.Sighting, error)

func (f RecorderFunc) Record(ctx context.Context, c anpr.Capture) (*anpr.Sighting, error) {
	return f(ctx, c)
}

type Annotator interface {
	Annotate(f Frame, box image.Rectangle, label string) error
}

type Display interface {
	// Show renders f and reports whether the operator asked to stop.
	Show(f Frame) bool
}

type ResultSink interface {
	SaveResult(data []byte, ts time.Time) (string, error)
}

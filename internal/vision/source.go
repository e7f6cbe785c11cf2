package vision

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
)

// CameraSource reads frames from a capture device index or a stream URL.
type CameraSource struct {
	mu      sync.Mutex
	device  string
	capture *gocv.VideoCapture
	log     zerolog.Logger
}

func OpenCamera(device string, width, height int, log zerolog.Logger) (*CameraSource, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open capture %q: %w", anpr.ErrUpstream, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: capture %q is not opened", anpr.ErrUpstream, device)
	}
	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	log = log.With().Str("component", "camera").Str("device", device).Logger()
	log.Info().Msg("capture opened")
	return &CameraSource{device: device, capture: capture, log: log}, nil
}

// Next blocks for the next frame. A failed read is reported as io.EOF: the
// stream ended or the device went away.
func (s *CameraSource) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		s.log.Warn().Msg("frame read failed, stream ended")
		return nil, io.EOF
	}
	return NewFrame(mat), nil
}

func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture.Close()
}

// ImageSource yields a single still image.
type ImageSource struct {
	path string
	done bool
}

func NewImageSource(path string) *ImageSource {
	return &ImageSource{path: path}
}

func (s *ImageSource) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true

	mat := gocv.IMRead(s.path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: cannot read image %q", anpr.ErrInvalidInput, s.path)
	}
	return NewFrame(mat), nil
}

package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
	"platewatch/internal/vision"
)

// candidateScore is the YOLOv5 default confidence floor applied before NMS.
// The pipeline applies its own, usually higher, threshold afterwards.
const candidateScore = 0.25

type Config struct {
	ModelPath string
	InputSize int
	NMS       float64
}

// ONNX runs a YOLOv5 plate model through the OpenCV DNN module. Inference is
// serialised; a call that outlives its context keeps running in the
// background and the next call waits for it.
type ONNX struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	nms       float32
	log       zerolog.Logger
}

func NewONNX(cfg Config, log zerolog.Logger) (*ONNX, error) {
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot load model %q", anpr.ErrUpstream, cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set backend: %w", anpr.ErrUpstream, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set target: %w", anpr.ErrUpstream, err)
	}

	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.NMS <= 0 {
		cfg.NMS = 0.45
	}

	log.Info().Str("model", cfg.ModelPath).Int("input_size", cfg.InputSize).Msg("detector model loaded")
	return &ONNX{
		net:       net,
		inputSize: cfg.InputSize,
		nms:       float32(cfg.NMS),
		log:       log,
	}, nil
}

func (d *ONNX) Detect(ctx context.Context, f pipeline.Frame) ([]anpr.Detection, error) {
	src, err := vision.MatOf(f)
	if err != nil {
		return nil, err
	}
	mat := src.Clone()

	type result struct {
		detections []anpr.Detection
		err        error
	}
	done := make(chan result, 1)
	go func() {
		defer mat.Close()
		d.mu.Lock()
		defer d.mu.Unlock()
		dets, err := d.infer(mat)
		done <- result{detections: dets, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.detections, r.err
	}
}

func (d *ONNX) infer(mat gocv.Mat) ([]anpr.Detection, error) {
	size := image.Pt(d.inputSize, d.inputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) < 2 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", anpr.ErrUpstream, dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", anpr.ErrUpstream, err)
	}

	frame := image.Rect(0, 0, mat.Cols(), mat.Rows())
	boxes, scores, err := decodeYOLOv5(data, dims[len(dims)-1], d.inputSize, frame, candidateScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", anpr.ErrUpstream, err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, candidateScore, d.nms)
	detections := make([]anpr.Detection, 0, len(indices))
	for _, i := range indices {
		detections = append(detections, anpr.Detection{
			Box:        boxes[i],
			Confidence: float64(scores[i]),
		})
	}
	return detections, nil
}

func (d *ONNX) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

package worker

import (
	"context"
	"image"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
)

// Encoder turns a frame into the image bytes sent to the worker.
type Encoder interface {
	Encode(f pipeline.Frame) ([]byte, error)
}

// Detector runs plate detection in the worker.
type Detector struct {
	client  *Client
	encoder Encoder
}

func NewDetector(client *Client, encoder Encoder) *Detector {
	return &Detector{client: client, encoder: encoder}
}

func (d *Detector) Detect(ctx context.Context, f pipeline.Frame) ([]anpr.Detection, error) {
	img, err := d.encoder.Encode(f)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.call(ctx, OpDetect, img)
	if err != nil {
		return nil, err
	}

	detections := make([]anpr.Detection, 0, len(resp.Detections))
	for _, b := range resp.Detections {
		detections = append(detections, anpr.Detection{
			Box:        image.Rect(b.X1, b.Y1, b.X2, b.Y2),
			Confidence: b.Confidence,
		})
	}
	return detections, nil
}

// Recognizer runs OCR in the worker.
type Recognizer struct {
	client *Client
}

func NewRecognizer(client *Client) *Recognizer {
	return &Recognizer{client: client}
}

func (r *Recognizer) Recognize(ctx context.Context, img []byte) ([]string, error) {
	resp, err := r.client.call(ctx, OpRecognize, img)
	if err != nil {
		return nil, err
	}
	return resp.Fragments, nil
}

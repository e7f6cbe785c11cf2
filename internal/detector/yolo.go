// Package detector finds licence plate regions with a YOLOv5 model.
package detector

import (
	"fmt"
	"image"
	"math"
)

// decodeYOLOv5 turns a flattened [N, 5+classes] YOLOv5 output into boxes in
// frame coordinates. Each row is cx, cy, w, h, objectness and class scores,
// in the inputSize x inputSize space the frame was stretched into. Rows
// scoring below minScore are dropped.
func decodeYOLOv5(data []float32, stride, inputSize int, frame image.Rectangle, minScore float32) ([]image.Rectangle, []float32, error) {
	if stride < 5 {
		return nil, nil, fmt.Errorf("yolo output row has %d values, want at least 5", stride)
	}
	if len(data)%stride != 0 {
		return nil, nil, fmt.Errorf("yolo output length %d is not a multiple of %d", len(data), stride)
	}

	sx := float32(frame.Dx()) / float32(inputSize)
	sy := float32(frame.Dy()) / float32(inputSize)

	var (
		boxes  []image.Rectangle
		scores []float32
	)
	for off := 0; off+stride <= len(data); off += stride {
		row := data[off : off+stride]
		score := row[4]
		if stride > 5 {
			best := row[5]
			for _, s := range row[6:] {
				best = max(best, s)
			}
			score *= best
		}
		if score < minScore || math.IsNaN(float64(score)) {
			continue
		}

		cx, cy, w, h := row[0]*sx, row[1]*sy, row[2]*sx, row[3]*sy
		boxes = append(boxes, image.Rect(
			frame.Min.X+round(cx-w/2),
			frame.Min.Y+round(cy-h/2),
			frame.Min.X+round(cx+w/2),
			frame.Min.Y+round(cy+h/2),
		))
		scores = append(scores, score)
	}
	return boxes, scores, nil
}

func round(v float32) int {
	return int(math.Round(float64(v)))
}

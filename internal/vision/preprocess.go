package vision

import (
	"bytes"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
)

var sharpenKernel = [3][3]float32{
	{0, -1, 0},
	{-1, 5, -1},
	{0, -1, 0},
}

// Preprocessor prepares frames for the detector and plate crops for OCR.
type Preprocessor struct {
	Width    int
	Height   int
	OCRScale float64
}

func NewPreprocessor(width, height int, ocrScale float64) *Preprocessor {
	return &Preprocessor{Width: width, Height: height, OCRScale: ocrScale}
}

// Normalize resizes to the canonical frame size and sharpens.
func (p *Preprocessor) Normalize(f pipeline.Frame) (pipeline.Frame, error) {
	src, err := MatOf(f)
	if err != nil {
		return nil, err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(p.Width, p.Height), 0, 0, gocv.InterpolationLinear)

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for r, row := range sharpenKernel {
		for c, v := range row {
			kernel.SetFloatAt(r, c, v)
		}
	}

	sharpened := gocv.NewMat()
	gocv.Filter2D(resized, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return NewFrame(sharpened), nil
}

func (p *Preprocessor) Crop(f pipeline.Frame, r image.Rectangle) (pipeline.Frame, error) {
	src, err := MatOf(f)
	if err != nil {
		return nil, err
	}
	r = r.Intersect(f.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty crop", anpr.ErrInvalidInput)
	}

	region := src.Region(r)
	defer region.Close()
	return NewFrame(region.Clone()), nil
}

// Binarize converts to grayscale, applies Otsu thresholding and downscales
// by OCRScale. The result is PNG encoded.
func (p *Preprocessor) Binarize(f pipeline.Frame) ([]byte, error) {
	src, err := MatOf(f)
	if err != nil {
		return nil, err
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(binary, &scaled, image.Point{}, p.OCRScale, p.OCRScale, gocv.InterpolationLinear)
	if scaled.Empty() {
		return nil, fmt.Errorf("%w: region too small to binarize", anpr.ErrInvalidInput)
	}

	return encode(gocv.PNGFileExt, scaled)
}

// Encode returns f as JPEG.
func (p *Preprocessor) Encode(f pipeline.Frame) ([]byte, error) {
	src, err := MatOf(f)
	if err != nil {
		return nil, err
	}
	return encode(gocv.JPEGFileExt, src)
}

func encode(ext gocv.FileExt, mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(ext, mat)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

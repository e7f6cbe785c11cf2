package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"platewatch/internal/pipeline"
)

var (
	boxColor   = color.RGBA{G: 255}
	labelColor = color.RGBA{R: 12, G: 255, B: 36}
)

// Annotator draws detection boxes and labels in place.
type Annotator struct{}

func (Annotator) Annotate(f pipeline.Frame, box image.Rectangle, label string) error {
	vf, ok := f.(*Frame)
	if !ok {
		_, err := MatOf(f)
		return err
	}
	gocv.Rectangle(&vf.mat, box, boxColor, 2)
	gocv.PutText(&vf.mat, label, image.Pt(box.Min.X, box.Min.Y-10), gocv.FontHersheySimplex, 0.7, labelColor, 2)
	return nil
}

// Window is the interactive preview. Pressing q asks the pipeline to stop.
type Window struct {
	window *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

func (w *Window) Show(f pipeline.Frame) bool {
	mat, err := MatOf(f)
	if err != nil {
		return false
	}
	w.window.IMShow(mat)
	return w.window.WaitKey(1) == 'q'
}

func (w *Window) Close() error {
	return w.window.Close()
}

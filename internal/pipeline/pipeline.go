// Package pipeline turns frames into recorded sightings: detect, crop,
// recognize, dedupe, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/utils"
)

const (
	DefaultConfidenceThreshold = 0.4
	DefaultUpstreamTimeout     = 2 * time.Second
)

type Options struct {
	Source       FrameSource
	Preprocessor Preprocessor
	Detector     Detector
	Recognizer   Recognizer
	Recorder     Recorder

	// Tracker is nil in batch mode; every read is then recorded.
	Tracker Tracker

	Annotator  Annotator
	Display    Display
	ResultSink ResultSink

	Clock func() time.Time

	// ConfidenceThreshold drops detections scoring below it. Zero selects
	// DefaultConfidenceThreshold.
	ConfidenceThreshold float64
	// UpstreamTimeout bounds each detector and recognizer call.
	UpstreamTimeout time.Duration
	// Strict makes detector and recognizer failures end the run.
	Strict bool

	Logger zerolog.Logger
}

type Stats struct {
	Frames         int `json:"frames"`
	Detections     int `json:"detections"`
	BelowThreshold int `json:"below_threshold"`
	Unreadable     int `json:"unreadable"`
	Duplicates     int `json:"duplicates"`
	Accepted       int `json:"accepted"`
	Timeouts       int `json:"timeouts"`
	UpstreamErrors int `json:"upstream_errors"`
}

type Pipeline struct {
	opts  Options
	seq   int
	stats Stats
	log   zerolog.Logger
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, fmt.Errorf("%w: frame source is required", anpr.ErrInvalidInput)
	case opts.Preprocessor == nil:
		return nil, fmt.Errorf("%w: preprocessor is required", anpr.ErrInvalidInput)
	case opts.Detector == nil:
		return nil, fmt.Errorf("%w: detector is required", anpr.ErrInvalidInput)
	case opts.Recognizer == nil:
		return nil, fmt.Errorf("%w: recognizer is required", anpr.ErrInvalidInput)
	case opts.Recorder == nil:
		return nil, fmt.Errorf("%w: recorder is required", anpr.ErrInvalidInput)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return &Pipeline{opts: opts, log: opts.Logger}, nil
}

// Run processes frames until the source is exhausted, the display asks to
// stop, ctx is cancelled or a fatal error occurs. Each accepted sighting is
// recorded before the next detection is looked at.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	p.log = p.opts.Logger.With().Str("run_id", uuid.NewString()).Logger()
	p.log.Info().
		Bool("batch", p.opts.Tracker == nil).
		Float64("confidence_threshold", p.opts.ConfidenceThreshold).
		Dur("upstream_timeout", p.opts.UpstreamTimeout).
		Msg("pipeline started")

	err := p.loop(ctx)

	event := p.log.Info()
	if err != nil {
		event = p.log.Error().Err(err)
	}
	event.Interface("stats", p.stats).Msg("pipeline stopped")
	return p.stats, err
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := p.opts.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		stop, err := p.processFrame(ctx, frame)
		_ = frame.Close()
		if err != nil || stop {
			return err
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame Frame) (bool, error) {
	p.stats.Frames++
	now := p.opts.Clock()
	log := p.log.With().Int("frame", p.stats.Frames).Logger()

	norm, err := p.opts.Preprocessor.Normalize(frame)
	if err != nil {
		return false, p.upstreamFailure(log, "normalize", err)
	}
	defer norm.Close()

	detections, err := p.detect(ctx, log, norm)
	if err != nil {
		return false, err
	}

	var original []byte
	for _, det := range detections {
		if err := p.handleDetection(ctx, log, norm, det, now, &original); err != nil {
			return false, err
		}
		if ctx.Err() != nil {
			return true, nil
		}
	}

	if p.opts.Display != nil && p.opts.Display.Show(norm) {
		log.Info().Msg("stop requested from display")
		return true, nil
	}

	if p.opts.ResultSink != nil {
		data, err := p.opts.Preprocessor.Encode(norm)
		if err != nil {
			return false, fmt.Errorf("%w: encode result image: %w", anpr.ErrStorage, err)
		}
		name, err := p.opts.ResultSink.SaveResult(data, now)
		if err != nil {
			return false, fmt.Errorf("%w: save result image: %w", anpr.ErrStorage, err)
		}
		log.Info().Str("result_image", name).Msg("saved annotated result")
	}
	return false, nil
}

func (p *Pipeline) detect(ctx context.Context, log zerolog.Logger, norm Frame) ([]anpr.Detection, error) {
	dctx, cancel := context.WithTimeout(ctx, p.opts.UpstreamTimeout)
	defer cancel()

	detections, err := p.opts.Detector.Detect(dctx, norm)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.stats.Timeouts++
			log.Warn().Dur("timeout", p.opts.UpstreamTimeout).Msg("detector timed out, no detections this frame")
			return nil, nil
		}
		return nil, p.upstreamFailure(log, "detect", err)
	}

	kept := detections[:0:0]
	for _, det := range detections {
		p.stats.Detections++
		if det.Confidence < p.opts.ConfidenceThreshold {
			p.stats.BelowThreshold++
			continue
		}
		kept = append(kept, det)
	}
	return kept, nil
}

// handleDetection reads one detection and records it when the tracker
// accepts it. original caches the frame encoding, taken before any
// annotation is drawn on norm.
func (p *Pipeline) handleDetection(ctx context.Context, log zerolog.Logger, norm Frame, det anpr.Detection, now time.Time, original *[]byte) error {
	box := det.Box.Canon().Intersect(norm.Bounds())
	if box.Empty() {
		p.stats.Unreadable++
		return nil
	}

	crop, err := p.opts.Preprocessor.Crop(norm, box)
	if err != nil {
		return p.upstreamFailure(log, "crop", err)
	}
	defer crop.Close()

	binary, err := p.opts.Preprocessor.Binarize(crop)
	if err != nil {
		return p.upstreamFailure(log, "binarize", err)
	}

	text, err := p.recognize(ctx, log, binary)
	if err != nil {
		return err
	}
	key := utils.NormalizePlate(text)
	if key == "" {
		p.stats.Unreadable++
		return nil
	}

	if p.opts.Tracker != nil && !p.opts.Tracker.Consider(key, now) {
		p.stats.Duplicates++
		log.Debug().Str("plate", key).Msg("duplicate sighting")
		return nil
	}

	p.seq++
	plateImage, err := p.opts.Preprocessor.Encode(crop)
	if err != nil {
		return fmt.Errorf("%w: encode plate image: %w", anpr.ErrStorage, err)
	}
	if *original == nil {
		if *original, err = p.opts.Preprocessor.Encode(norm); err != nil {
			return fmt.Errorf("%w: encode original image: %w", anpr.ErrStorage, err)
		}
	}

	sighting, err := p.opts.Recorder.Record(ctx, anpr.Capture{
		Plate:         text,
		CapturedAt:    now,
		Sequence:      p.seq,
		Confidence:    det.Confidence,
		PlateImage:    plateImage,
		OriginalImage: *original,
	})
	if err != nil {
		return fmt.Errorf("%w: record sighting %q: %w", anpr.ErrStorage, text, err)
	}
	p.stats.Accepted++

	log.Info().
		Int64("sighting_id", sighting.ID).
		Str("plate", sighting.Plate).
		Float64("confidence", det.Confidence).
		Int("sequence", p.seq).
		Msg("sighting recorded")

	if p.opts.Annotator != nil {
		label := fmt.Sprintf("%s (%.2f)", text, det.Confidence)
		if err := p.opts.Annotator.Annotate(norm, box, label); err != nil {
			log.Warn().Err(err).Msg("failed to annotate frame")
		}
	}
	return nil
}

func (p *Pipeline) recognize(ctx context.Context, log zerolog.Logger, binary []byte) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.opts.UpstreamTimeout)
	defer cancel()

	fragments, err := p.opts.Recognizer.Recognize(rctx, binary)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.stats.Timeouts++
			log.Warn().Dur("timeout", p.opts.UpstreamTimeout).Msg("recognizer timed out, skipping region")
			return "", nil
		}
		return "", p.upstreamFailure(log, "recognize", err)
	}
	return utils.JoinFragments(fragments), nil
}

// upstreamFailure counts err and returns it wrapped in ErrUpstream when the
// run is strict. Otherwise the frame or region is skipped.
func (p *Pipeline) upstreamFailure(log zerolog.Logger, stage string, err error) error {
	p.stats.UpstreamErrors++
	if p.opts.Strict {
		return fmt.Errorf("%w: %s: %w", anpr.ErrUpstream, stage, err)
	}
	log.Warn().Err(err).Str("stage", stage).Msg("upstream failure, skipping")
	return nil
}


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"platewatch/internal/archive"
	"platewatch/internal/client"
	"platewatch/internal/config"
	"platewatch/internal/detector"
	"platewatch/internal/ocr"
	"platewatch/internal/pipeline"
	"platewatch/internal/tracker"
	"platewatch/internal/vision"
	"platewatch/internal/worker"
)

// ingest holds the collaborators shared by watch and analyze along with
// everything that must be released when the run ends.
type ingest struct {
	recorder   pipeline.Recorder
	pre        *vision.Preprocessor
	detector   pipeline.Detector
	recognizer pipeline.Recognizer
	closers    []io.Closer
}

func (in *ingest) Close(log zerolog.Logger) {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release resource")
		}
	}
}

func runWatch(args []string) error {
	fs := newFlagSet("watch")
	fs.String("ingest.device", "", "camera index or stream URL")
	fs.String("ingest.store_url", "", "record through a running access service instead of the local store")
	fs.Bool("ingest.display", false, "show annotated frames in a window; press q to stop")
	fs.String("detector.model_path", "", "ONNX plate model")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openIngest(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.Close(log)

	cam, err := vision.OpenCamera(cfg.Ingest.Device, cfg.Ingest.FrameWidth, cfg.Ingest.FrameHeight, log)
	if err != nil {
		return err
	}
	in.closers = append(in.closers, cam)

	opts := baseOptions(cfg, log, in)
	opts.Source = cam
	opts.Tracker = tracker.New(tracker.Config{
		Cooldown:   cfg.Tracker.Cooldown,
		Similarity: cfg.Tracker.Similarity,
		Retention:  cfg.Tracker.Retention,
	})
	if cfg.Ingest.Display {
		win := vision.NewWindow("platewatch")
		in.closers = append(in.closers, win)
		opts.Annotator = vision.Annotator{}
		opts.Display = win
	}

	return run(ctx, opts, log)
}

func runAnalyze(args []string) error {
	fs := newFlagSet("analyze")
	fs.String("ingest.store_url", "", "record through a running access service instead of the local store")
	fs.String("detector.model_path", "", "ONNX plate model")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("analyze takes exactly one image path")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openIngest(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.Close(log)

	results, err := archive.New(archive.Config{
		ResultsDir: cfg.Archive.ResultsDir,
		Ext:        cfg.Archive.Ext,
	})
	if err != nil {
		return err
	}

	opts := baseOptions(cfg, log, in)
	opts.Source = vision.NewImageSource(fs.Arg(0))
	opts.Strict = true
	opts.Annotator = vision.Annotator{}
	opts.ResultSink = results

	return run(ctx, opts, log)
}

func baseOptions(cfg *config.Config, log zerolog.Logger, in *ingest) pipeline.Options {
	return pipeline.Options{
		Preprocessor:        in.pre,
		Detector:            in.detector,
		Recognizer:          in.recognizer,
		Recorder:            in.recorder,
		ConfidenceThreshold: cfg.Ingest.Confidence,
		UpstreamTimeout:     cfg.Ingest.UpstreamTimeout,
		Logger:              log.With().Str("component", "pipeline").Logger(),
	}
}

func run(ctx context.Context, opts pipeline.Options, log zerolog.Logger) error {
	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}
	stats, err := p.Run(ctx)
	log.Info().Interface("stats", stats).Msg("run finished")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openIngest wires the recorder and both models. The recorder talks to a
// running access service when ingest.store_url is set and otherwise opens
// the store directly, which fails with store.ErrLocked while serve runs.
func openIngest(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ingest, error) {
	in := &ingest{
		pre: vision.NewPreprocessor(cfg.Ingest.FrameWidth, cfg.Ingest.FrameHeight, cfg.Ingest.OCRScale),
	}

	if cfg.Ingest.StoreURL != "" {
		c := client.New(cfg.Ingest.StoreURL, cfg.Auth.JWTSecret)
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		in.recorder = c
		log.Info().Str("store_url", cfg.Ingest.StoreURL).Msg("recording through access service")
	} else {
		o, err := openOwner(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, o)
		in.recorder = pipeline.RecorderFunc(o.service.RecordSighting)
	}

	var wc *worker.Client
	if cfg.UsesWorker() {
		var err error
		wc, err = worker.Start(worker.Config{Command: cfg.Worker.Command, Args: cfg.Worker.Args}, log)
		if err != nil {
			in.Close(log)
			return nil, err
		}
		in.closers = append(in.closers, wc)

		pctx, cancel := context.WithTimeout(ctx, cfg.Worker.Timeout)
		err = wc.Ping(pctx)
		cancel()
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("worker did not answer: %w", err)
		}
	}

	switch cfg.Detector.Backend {
	case "worker":
		in.detector = worker.NewDetector(wc, in.pre)
	default:
		d, err := detector.NewONNX(detector.Config{
			ModelPath: cfg.Detector.ModelPath,
			InputSize: cfg.Detector.InputSize,
			NMS:       cfg.Detector.NMS,
		}, log)
		if err != nil {
			in.Close(log)
			return nil, err
		}
		in.closers = append(in.closers, d)
		in.detector = d
	}

	switch cfg.Recognizer.Backend {
	case "worker":
		in.recognizer = worker.NewRecognizer(wc)
	default:
		r, err := ocr.NewTesseract(ocr.Config{
			Languages: cfg.Recognizer.Languages,
			Whitelist: cfg.Recognizer.Whitelist,
		}, log)
		if err != nil {
			in.Close(log)
			return nil, err
		}
		in.closers = append(in.closers, r)
		in.recognizer = r
	}

	return in, nil
}

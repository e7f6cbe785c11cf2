// Package ocr reads plate text with Tesseract.
package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"platewatch/internal/domain/anpr"
)

type Config struct {
	Languages []string
	Whitelist string
}

// Tesseract returns one fragment per recognised word. The client is not
// safe for concurrent use, so calls are serialised.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
	log    zerolog.Logger
}

func NewTesseract(cfg Config, log zerolog.Logger) (*Tesseract, error) {
	client := gosseract.NewClient()
	if len(cfg.Languages) > 0 {
		if err := client.SetLanguage(cfg.Languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: set language: %w", anpr.ErrUpstream, err)
		}
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: set whitelist: %w", anpr.ErrUpstream, err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: set page segmentation mode: %w", anpr.ErrUpstream, err)
	}

	log.Info().Strs("languages", cfg.Languages).Str("version", client.Version()).Msg("tesseract ready")
	return &Tesseract{client: client, log: log}, nil
}

func (t *Tesseract) Recognize(ctx context.Context, img []byte) ([]string, error) {
	type result struct {
		words []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		words, err := t.read(img)
		done <- result{words: words, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.words, r.err
	}
}

func (t *Tesseract) read(img []byte) ([]string, error) {
	if err := t.client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("%w: set image: %w", anpr.ErrUpstream, err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("%w: recognize: %w", anpr.ErrUpstream, err)
	}

	words := make([]string, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, b.Word)
	}
	return words, nil
}

func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

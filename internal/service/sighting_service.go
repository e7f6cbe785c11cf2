package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/archive"
	"platewatch/internal/domain/anpr"
	"platewatch/internal/store"
	"platewatch/internal/utils"
)

var (
	ErrInvalidInput = anpr.ErrInvalidInput
	ErrNotFound     = anpr.ErrNotFound
)

// ImageArchive is the part of the image archive the service needs.
type ImageArchive interface {
	Save(role archive.Role, data []byte, ts time.Time, seq int) (string, error)
	Fetch(role archive.Role, filename string) ([]byte, error)
}

// Notifier is told about every stored sighting.
type Notifier interface {
	Notify(ctx context.Context, s anpr.Sighting) error
}

// SightingService is the owner-side glue between the record store, the
// image archive and notifications. It backs both the HTTP API and ingest
// runs that own the store themselves.
type SightingService struct {
	store    store.Store
	archive  ImageArchive
	notifier Notifier
	loc      *time.Location
	log      zerolog.Logger
}

// NewSightingService wires the service. notifier may be nil.
func NewSightingService(st store.Store, ar ImageArchive, notifier Notifier, log zerolog.Logger) *SightingService {
	return &SightingService{
		store:    st,
		archive:  ar,
		notifier: notifier,
		loc:      time.Local,
		log:      log,
	}
}

// RecordSighting archives both images and appends the record. It satisfies
// the pipeline recorder contract.
func (s *SightingService) RecordSighting(ctx context.Context, c anpr.Capture) (*anpr.Sighting, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ts := c.CapturedAt.In(s.loc)

	plateName, err := s.archive.Save(archive.RolePlate, c.PlateImage, ts, c.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to save plate image: %w", err)
	}
	originalName, err := s.archive.Save(archive.RoleOriginal, c.OriginalImage, ts, c.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to save original image: %w", err)
	}

	sighting := &anpr.Sighting{
		Date:          ts.Format(anpr.DateLayout),
		Time:          ts.Format(anpr.TimeLayout),
		Plate:         c.Plate,
		PlateImage:    plateName,
		OriginalImage: originalName,
	}
	if err := s.store.Append(ctx, sighting); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", c.Plate).
			Str("plate_image", plateName).
			Msg("failed to append sighting")
		return nil, fmt.Errorf("failed to append sighting: %w", err)
	}

	s.log.Info().
		Int64("sighting_id", sighting.ID).
		Str("plate", sighting.Plate).
		Float64("confidence", c.Confidence).
		Int("sequence", c.Sequence).
		Time("captured_at", ts).
		Msg("saved sighting")

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, *sighting); err != nil {
			s.log.Warn().Err(err).Int64("sighting_id", sighting.ID).Msg("failed to publish sighting")
		}
	}
	return sighting, nil
}

// ListSightings returns the records matching f in store order, or reversed
// when f.Desc is set.
func (s *SightingService) ListSightings(ctx context.Context, f anpr.ListFilter) ([]anpr.Sighting, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings: %w", err)
	}

	key := utils.NormalizePlate(f.Plate)
	result := make([]anpr.Sighting, 0, len(all))
	for _, rec := range all {
		if key != "" && !strings.Contains(utils.NormalizePlate(rec.Plate), key) {
			continue
		}
		if f.From != nil || f.To != nil {
			at, err := rec.CapturedAt(s.loc)
			if err != nil {
				continue
			}
			if f.From != nil && at.Before(*f.From) {
				continue
			}
			if f.To != nil && at.After(*f.To) {
				continue
			}
		}
		result = append(result, rec)
	}

	if f.Desc {
		slices.Reverse(result)
	}
	if f.Offset >= len(result) {
		return []anpr.Sighting{}, nil
	}
	result = result[f.Offset:]
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *SightingService) UpdatePlate(ctx context.Context, id int64, plate string) error {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if id < 0 {
		return fmt.Errorf("%w: invalid id %d", ErrInvalidInput, id)
	}
	if err := s.store.UpdatePlate(ctx, id, plate); err != nil {
		return err
	}
	s.log.Info().Int64("sighting_id", id).Str("plate", plate).Msg("updated sighting plate")
	return nil
}

func (s *SightingService) DeleteSighting(ctx context.Context, id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: invalid id %d", ErrInvalidInput, id)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Int64("sighting_id", id).Msg("deleted sighting")
	return nil
}

func (s *SightingService) DeleteSightings(ctx context.Context, ids []int64) (*anpr.DeleteResult, error) {
	deleted, err := s.store.BulkDelete(ctx, ids)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		deleted = []int64{}
	}
	s.log.Info().
		Int("requested", len(ids)).
		Int("deleted_count", len(deleted)).
		Msg("deleted sightings")
	return &anpr.DeleteResult{Deleted: deleted}, nil
}

// FetchImage reads an archived image. Only plate and original images are
// reachable this way.
func (s *SightingService) FetchImage(_ context.Context, role archive.Role, filename string) ([]byte, error) {
	if role != archive.RolePlate && role != archive.RoleOriginal {
		return nil, fmt.Errorf("%w: unknown image role %q", ErrInvalidInput, role)
	}
	return s.archive.Fetch(role, filename)
}

// ExportCSV writes the records matching f in the store's CSV layout.
func (s *SightingService) ExportCSV(ctx context.Context, w io.Writer, f anpr.ListFilter) (int, error) {
	records, err := s.ListSightings(ctx, f)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(store.Header); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(store.EncodeRow(rec)); err != nil {
			return 0, fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush export: %w", err)
	}
	return len(records), nil
}

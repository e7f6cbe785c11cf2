package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"platewatch/internal/db"
	"platewatch/internal/domain/anpr"
)

// SightingRepository is the PostgreSQL record store. Ids come from a
// BIGSERIAL column and are never reused.
type SightingRepository struct {
	db *gorm.DB
}

func NewSightingRepository(db *gorm.DB) *SightingRepository {
	return &SightingRepository{db: db}
}

type Sighting struct {
	ID            int64          `gorm:"primaryKey"`
	Date          datatypes.Date `gorm:"not null"`
	Time          datatypes.Time `gorm:"not null"`
	Plate         string         `gorm:"not null"`
	PlateImage    string         `gorm:"not null"`
	OriginalImage string         `gorm:"not null"`
	CreatedAt     time.Time
}

func (Sighting) TableName() string {
	return "sightings"
}

func (r *SightingRepository) Append(ctx context.Context, s *anpr.Sighting) error {
	row, err := toRow(*s)
	if err != nil {
		return err
	}
	row.CreatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: insert sighting: %w", anpr.ErrStorage, err)
	}
	s.ID = row.ID
	return nil
}

func (r *SightingRepository) List(ctx context.Context) ([]anpr.Sighting, error) {
	var rows []Sighting
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list sightings: %w", anpr.ErrStorage, err)
	}

	result := make([]anpr.Sighting, 0, len(rows))
	for _, row := range rows {
		result = append(result, fromRow(row))
	}
	return result, nil
}

func (r *SightingRepository) UpdatePlate(ctx context.Context, id int64, plate string) error {
	if strings.ContainsAny(plate, "\r\n") {
		return fmt.Errorf("%w: line breaks are not allowed", anpr.ErrInvalidInput)
	}
	res := r.db.WithContext(ctx).
		Model(&Sighting{}).
		Where("id = ?", id).
		Update("plate", plate)
	if res.Error != nil {
		return fmt.Errorf("%w: update sighting %d: %w", anpr.ErrStorage, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sighting %d", anpr.ErrNotFound, id)
	}
	return nil
}

func (r *SightingRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&Sighting{}, id)
	if res.Error != nil {
		return fmt.Errorf("%w: delete sighting %d: %w", anpr.ErrStorage, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sighting %d", anpr.ErrNotFound, id)
	}
	return nil
}

func (r *SightingRepository) BulkDelete(ctx context.Context, ids []int64) ([]int64, error) {
	deleted := []int64{}
	if len(ids) == 0 {
		return deleted, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Sighting{}).
			Where("id IN ?", ids).
			Order("id ASC").
			Pluck("id", &deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return tx.Where("id IN ?", deleted).Delete(&Sighting{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bulk delete: %w", anpr.ErrStorage, err)
	}
	return deleted, nil
}

func (r *SightingRepository) Close() error {
	if err := db.Close(r.db); err != nil && !errors.Is(err, gorm.ErrInvalidDB) {
		return fmt.Errorf("%w: close database: %w", anpr.ErrStorage, err)
	}
	return nil
}

func toRow(s anpr.Sighting) (Sighting, error) {
	if strings.ContainsAny(s.Plate, "\r\n") {
		return Sighting{}, fmt.Errorf("%w: line breaks are not allowed", anpr.ErrInvalidInput)
	}
	day, err := time.Parse(anpr.DateLayout, s.Date)
	if err != nil {
		return Sighting{}, fmt.Errorf("%w: invalid date %q", anpr.ErrInvalidInput, s.Date)
	}
	clock, err := time.Parse(anpr.TimeLayout, s.Time)
	if err != nil {
		return Sighting{}, fmt.Errorf("%w: invalid time %q", anpr.ErrInvalidInput, s.Time)
	}
	return Sighting{
		Date:          datatypes.Date(day),
		Time:          datatypes.NewTime(clock.Hour(), clock.Minute(), clock.Second(), 0),
		Plate:         s.Plate,
		PlateImage:    s.PlateImage,
		OriginalImage: s.OriginalImage,
	}, nil
}

func fromRow(row Sighting) anpr.Sighting {
	d := time.Duration(row.Time)
	return anpr.Sighting{
		ID:            row.ID,
		Date:          time.Time(row.Date).Format(anpr.DateLayout),
		Time:          fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60),
		Plate:         row.Plate,
		PlateImage:    row.PlateImage,
		OriginalImage: row.OriginalImage,
	}
}

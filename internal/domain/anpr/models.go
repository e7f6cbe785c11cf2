package anpr

import (
	"fmt"
	"image"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Detection is one candidate plate region returned by a detector.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

// Sighting is one persisted record of an accepted plate read.
type Sighting struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Plate         string `json:"plate"`
	PlateImage    string `json:"plate_image"`
	OriginalImage string `json:"original_image"`
}

// CapturedAt joins Date and Time in loc.
func (s Sighting) CapturedAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, s.Date+" "+s.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: sighting %d has invalid date/time", ErrInvalidInput, s.ID)
	}
	return t, nil
}

// Capture is an accepted sighting on its way to the record owner. The owner
// names and stores the images, then appends the record.
type Capture struct {
	Plate         string
	CapturedAt    time.Time
	Sequence      int
	Confidence    float64
	PlateImage    []byte
	OriginalImage []byte
}

// Validate checks the fields the owner needs to persist the capture.
func (c Capture) Validate() error {
	switch {
	case c.Plate == "":
		return fmt.Errorf("%w: plate is required", ErrInvalidInput)
	case c.CapturedAt.IsZero():
		return fmt.Errorf("%w: captured_at is required", ErrInvalidInput)
	case c.Sequence < 0:
		return fmt.Errorf("%w: sequence must be non-negative", ErrInvalidInput)
	case len(c.PlateImage) == 0:
		return fmt.Errorf("%w: plate image is required", ErrInvalidInput)
	case len(c.OriginalImage) == 0:
		return fmt.Errorf("%w: original image is required", ErrInvalidInput)
	}
	return nil
}

// ListFilter narrows a listing. Zero values mean "no constraint".
type ListFilter struct {
	Plate  string
	From   *time.Time
	To     *time.Time
	Desc   bool
	Limit  int
	Offset int
}

type DeleteResult struct {
	Deleted []int64 `json:"deleted"`
}

package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"platewatch/internal/domain/anpr"
)

// Header is the fixed first row of the CSV store.
var Header = []string{"id", "date", "time", "plate", "plate_image", "original_image"}

// EncodeRow renders s in header order.
func EncodeRow(s anpr.Sighting) []string {
	return []string{
		strconv.FormatInt(s.ID, 10),
		s.Date,
		s.Time,
		s.Plate,
		s.PlateImage,
		s.OriginalImage,
	}
}

// DecodeRow parses a row produced by EncodeRow.
func DecodeRow(row []string) (anpr.Sighting, error) {
	if len(row) != len(Header) {
		return anpr.Sighting{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(row))
	}
	id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil || id < 0 {
		return anpr.Sighting{}, fmt.Errorf("invalid id %q", row[0])
	}
	if _, err := time.Parse(anpr.DateLayout, row[1]); err != nil {
		return anpr.Sighting{}, fmt.Errorf("invalid date %q", row[1])
	}
	if _, err := time.Parse(anpr.TimeLayout, row[2]); err != nil {
		return anpr.Sighting{}, fmt.Errorf("invalid time %q", row[2])
	}
	return anpr.Sighting{
		ID:            id,
		Date:          row[1],
		Time:          row[2],
		Plate:         row[3],
		PlateImage:    row[4],
		OriginalImage: row[5],
	}, nil
}

// rowID returns the id of a decodable row. Rows that List would skip never
// match a mutation.
func rowID(row []string) (int64, bool) {
	s, err := DecodeRow(row)
	if err != nil {
		return 0, false
	}
	return s.ID, true
}

func isHeader(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i, h := range Header {
		if strings.TrimSpace(row[i]) != h {
			return false
		}
	}
	return true
}

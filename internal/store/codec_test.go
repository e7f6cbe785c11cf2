package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/domain/anpr"
)

func TestDecodeRow(t *testing.T) {
	rec := anpr.Sighting{
		ID:            7,
		Date:          "2024-05-01",
		Time:          "12:30:05",
		Plate:         "AB 123, CD",
		PlateImage:    "plate_20240501_123005_1.jpg",
		OriginalImage: "original_20240501_123005.jpg",
	}

	got, err := DecodeRow(EncodeRow(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDecodeRow_Rejects(t *testing.T) {
	tests := []struct {
		name string
		row  []string
	}{
		{name: "too few fields", row: []string{"1", "2024-05-01", "12:00:00", "ABC"}},
		{name: "too many fields", row: []string{"1", "2024-05-01", "12:00:00", "ABC", "p.jpg", "o.jpg", "extra"}},
		{name: "non numeric id", row: []string{"x", "2024-05-01", "12:00:00", "ABC", "p.jpg", "o.jpg"}},
		{name: "negative id", row: []string{"-1", "2024-05-01", "12:00:00", "ABC", "p.jpg", "o.jpg"}},
		{name: "bad date", row: []string{"1", "01/05/2024", "12:00:00", "ABC", "p.jpg", "o.jpg"}},
		{name: "bad time", row: []string{"1", "2024-05-01", "noon", "ABC", "p.jpg", "o.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRow(tt.row)
			assert.Error(t, err)
		})
	}
}

func TestEncodeLine_QuotesSpecialCharacters(t *testing.T) {
	line := encodeLine([]string{"1", "2024-05-01", "12:00:00", `A"B,C`, "p.jpg", "o.jpg"})
	assert.Equal(t, `1,2024-05-01,12:00:00,"A""B,C",p.jpg,o.jpg`, line)
	assert.Equal(t, `A"B,C`, parseLine(line)[3])
}

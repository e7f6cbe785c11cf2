package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/db"
	"platewatch/internal/domain/anpr"
)

func TestRowConversion(t *testing.T) {
	in := anpr.Sighting{
		Date:          "2024-03-01",
		Time:          "09:05:07",
		Plate:         "ABC 123",
		PlateImage:    "plate_20240301_090507_1.jpg",
		OriginalImage: "original_20240301_090507.jpg",
	}
	row, err := toRow(in)
	require.NoError(t, err)

	if diff := cmp.Diff(in, fromRow(row)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToRow_Rejects(t *testing.T) {
	_, err := toRow(anpr.Sighting{Date: "01/03/2024", Time: "09:05:07", Plate: "A"})
	assert.ErrorIs(t, err, anpr.ErrInvalidInput)

	_, err = toRow(anpr.Sighting{Date: "2024-03-01", Time: "9h", Plate: "A"})
	assert.ErrorIs(t, err, anpr.ErrInvalidInput)

	_, err = toRow(anpr.Sighting{Date: "2024-03-01", Time: "09:05:07", Plate: "A\nB"})
	assert.ErrorIs(t, err, anpr.ErrInvalidInput)
}

func TestSightingRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PLATEWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PLATEWATCH_TEST_POSTGRES_DSN not set")
	}

	conn, err := db.Open(dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, conn.Exec("TRUNCATE sightings").Error)

	repo := NewSightingRepository(conn)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	var ids []int64
	for _, plate := range []string{"AAA111", "BBB222", "CCC333"} {
		s := &anpr.Sighting{Date: "2024-03-01", Time: "10:00:00", Plate: plate, PlateImage: "p.jpg", OriginalImage: "o.jpg"}
		require.NoError(t, repo.Append(ctx, s))
		ids = append(ids, s.ID)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	require.NoError(t, repo.UpdatePlate(ctx, ids[1], "BBB999"))
	assert.ErrorIs(t, repo.UpdatePlate(ctx, ids[2]+100, "X"), anpr.ErrNotFound)

	deleted, err := repo.BulkDelete(ctx, []int64{ids[2], ids[0], ids[2] + 100})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[0], ids[2]}, deleted)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BBB999", list[0].Plate)

	require.NoError(t, repo.Delete(ctx, ids[1]))
	assert.ErrorIs(t, repo.Delete(ctx, ids[1]), anpr.ErrNotFound)
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/domain/anpr"
)

func openTestStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSighting(plate string) *anpr.Sighting {
	return &anpr.Sighting{
		Date:          "2024-05-01",
		Time:          "12:00:00",
		Plate:         plate,
		PlateImage:    "plate_" + plate + ".jpg",
		OriginalImage: "original_" + plate + ".jpg",
	}
}

func appendAll(t *testing.T, s *FileStore, plates ...string) []anpr.Sighting {
	t.Helper()
	out := make([]anpr.Sighting, 0, len(plates))
	for _, p := range plates {
		rec := newSighting(p)
		require.NoError(t, s.Append(context.Background(), rec))
		out = append(out, *rec)
	}
	return out
}

func TestOpen_CreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "plates.csv")
	openTestStore(t, path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,date,time,plate,plate_image,original_image\n", string(content))
}

func TestOpen_SecondOwnerIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	first := openTestStore(t, path)

	_, err := Open(path, zerolog.Nop())
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestAppend_ListPreservesOrderAndDistinctIDs(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	want := appendAll(t, s, "AAA111", "BBB222", "CCC333", "DDD444")

	got, err := s.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	seen := map[int64]bool{}
	for i, rec := range got {
		assert.False(t, seen[rec.ID], "duplicate id %d", rec.ID)
		seen[rec.ID] = true
		assert.Equal(t, int64(i), rec.ID)
	}
}

func TestOpen_ContinuesFromMaxID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	content := "id,date,time,plate,plate_image,original_image\n" +
		"4,2024-05-01,12:00:00,AAA,p.jpg,o.jpg\n" +
		"9,2024-05-01,12:00:01,BBB,p.jpg\n" +
		"2,2024-05-01,12:00:02,CCC,p.jpg,o.jpg\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := openTestStore(t, path)
	rec := newSighting("DDD")
	require.NoError(t, s.Append(context.Background(), rec))

	// The malformed row still reserves its id.
	assert.Equal(t, int64(10), rec.ID)
}

func TestOpen_HighWaterMarkSurvivesDeleteOfMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	recs := appendAll(t, s, "AAA", "BBB", "CCC")
	require.NoError(t, s.Delete(context.Background(), recs[2].ID))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	rec := newSighting("DDD")
	require.NoError(t, reopened.Append(context.Background(), rec))
	assert.Equal(t, int64(3), rec.ID, "deleted id must not be reused")
}

func TestList_SkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	content := "id,date,time,plate,plate_image,original_image\n" +
		"0,2024-05-01,12:00:00,AAA,p0.jpg,o0.jpg\n" +
		"1,2024-05-01,12:00:01,BBB\n" +
		"\n" +
		"two,2024-05-01,12:00:02,CCC,p2.jpg,o2.jpg\n" +
		"3,2024-05-01,12:00:03,DDD,p3.jpg,o3.jpg,extra\n" +
		"4,2024-05-01,12:00:04,EEE,p4.jpg,o4.jpg\r\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := openTestStore(t, path)
	got, err := s.List(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Plate)
	assert.Equal(t, "EEE", got[1].Plate)
	assert.Equal(t, "o4.jpg", got[1].OriginalImage)
}

func TestUpdatePlate(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	recs := appendAll(t, s, "AAA", "BBB", "CCC")

	require.NoError(t, s.UpdatePlate(context.Background(), recs[1].ID, "B8B 222"))

	got, err := s.List(context.Background())
	require.NoError(t, err)
	want := append([]anpr.Sighting(nil), recs...)
	want[1].Plate = "B8B 222"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() after update mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdatePlate_NotFoundLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	s := openTestStore(t, path)
	appendAll(t, s, "AAA", "BBB")

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = s.UpdatePlate(context.Background(), 42, "ZZZ")
	assert.ErrorIs(t, err, anpr.ErrNotFound)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdatePlate_RejectsLineBreaks(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	recs := appendAll(t, s, "AAA")

	err := s.UpdatePlate(context.Background(), recs[0].ID, "A\nB")
	assert.ErrorIs(t, err, anpr.ErrInvalidInput)
}

func TestRewrite_PreservesMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	content := "id,date,time,plate,plate_image,original_image\n" +
		"0,2024-05-01,12:00:00,AAA,p0.jpg,o0.jpg\n" +
		"garbage line\n" +
		"1,2024-05-01,12:00:01,BBB,p1.jpg,o1.jpg\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := openTestStore(t, path)
	require.NoError(t, s.Delete(context.Background(), 0))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,date,time,plate,plate_image,original_image\n"+
		"garbage line\n"+
		"1,2024-05-01,12:00:01,BBB,p1.jpg,o1.jpg\n", string(after))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	recs := appendAll(t, s, "AAA", "BBB", "CCC")

	require.NoError(t, s.Delete(context.Background(), recs[1].ID))
	assert.ErrorIs(t, s.Delete(context.Background(), recs[1].ID), anpr.ErrNotFound)

	got, err := s.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff([]anpr.Sighting{recs[0], recs[2]}, got); diff != "" {
		t.Errorf("List() after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	recs := appendAll(t, s, "AAA", "BBB", "CCC", "DDD")

	a, c := recs[0].ID, recs[2].ID
	deleted, err := s.BulkDelete(context.Background(), []int64{a, 99, c, a})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, c}, deleted)

	got, err := s.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff([]anpr.Sighting{recs[1], recs[3]}, got); diff != "" {
		t.Errorf("List() after bulk delete mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkDelete_NothingMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	s := openTestStore(t, path)
	appendAll(t, s, "AAA")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	deleted, err := s.BulkDelete(context.Background(), []int64{5, 6})
	require.NoError(t, err)
	assert.Empty(t, deleted)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAppend_AfterTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.csv")
	content := "id,date,time,plate,plate_image,original_image\n" +
		"0,2024-05-01,12:00:00,AAA,p0.jpg,o0.jpg\n" +
		"1,2024-05-01,12:0"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := openTestStore(t, path)
	rec := newSighting("BBB")
	require.NoError(t, s.Append(context.Background(), rec))

	got, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Plate)
	assert.Equal(t, "BBB", got[1].Plate)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "plates.csv"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append(context.Background(), newSighting("AAA")), anpr.ErrStorage)
	_, err = s.List(context.Background())
	assert.ErrorIs(t, err, anpr.ErrStorage)
}

func TestConcurrentAppendAndDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "plates.csv"))
	seeded := appendAll(t, s, "S0", "S1", "S2", "S3", "S4", "S5", "S6", "S7")

	const appenders = 24
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		appended []int64
	)
	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := newSighting(fmt.Sprintf("N%02d", i))
			if assert.NoError(t, s.Append(context.Background(), rec)) {
				mu.Lock()
				appended = append(appended, rec.ID)
				mu.Unlock()
			}
		}(i)
	}
	for _, rec := range seeded[:4] {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, s.Delete(context.Background(), id))
		}(rec.ID)
	}
	wg.Wait()

	got, err := s.List(context.Background())
	require.NoError(t, err)

	var ids []int64
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	want := append([]int64(nil), appended...)
	for _, rec := range seeded[4:] {
		want = append(want, rec.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assert.Equal(t, want, ids)
	assert.Len(t, got, appenders+4)
}

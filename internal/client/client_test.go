package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/archive"
	"platewatch/internal/auth"
	"platewatch/internal/domain/anpr"
	handler "platewatch/internal/http"
	"platewatch/internal/service"
	"platewatch/internal/store"
)

const secret = "shared-secret"

func newOwner(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "plates.csv"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ar, err := archive.New(archive.Config{
		PlatesDir:    filepath.Join(dir, "plates"),
		OriginalsDir: filepath.Join(dir, "original_images"),
	})
	require.NoError(t, err)

	r := handler.NewRouter(handler.RouterConfig{}, zerolog.Nop())
	svc := service.NewSightingService(st, ar, nil, zerolog.Nop())
	handler.NewHandler(svc, zerolog.Nop()).Register(r, auth.Middleware(secret, zerolog.Nop()))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func testCapture(plate string, seq int) anpr.Capture {
	return anpr.Capture{
		Plate:         plate,
		CapturedAt:    time.Date(2024, 3, 1, 9, 5, 7, 0, time.Local),
		Sequence:      seq,
		Confidence:    0.91,
		PlateImage:    []byte("plate"),
		OriginalImage: []byte("frame"),
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	srv, st := newOwner(t)
	c := New(srv.URL+"/", secret)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	first, err := c.Record(ctx, testCapture("ABC123", 1))
	require.NoError(t, err)
	second, err := c.Record(ctx, testCapture("XYZ789", 2))
	require.NoError(t, err)

	assert.Equal(t, "plate_20240301_090507_1.jpg", first.PlateImage)
	assert.Less(t, first.ID, second.ID)

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, *first, list[0])
	assert.Equal(t, *second, list[1])
}

func TestRecord_WrongSecret(t *testing.T) {
	srv, _ := newOwner(t)
	c := New(srv.URL, "wrong")

	_, err := c.Record(context.Background(), testCapture("ABC123", 1))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRecord_InvalidCaptureNeverLeavesProcess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	capture := testCapture("", 1)
	_, err := New(srv.URL, secret).Record(context.Background(), capture)
	assert.ErrorIs(t, err, anpr.ErrInvalidInput)
	assert.Zero(t, calls)
}

func TestRecord_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Record(context.Background(), testCapture("ABC123", 1))
	assert.ErrorIs(t, err, anpr.ErrStorage)
	assert.ErrorContains(t, err, "internal error")
}

func TestPing_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, "", WithHTTPClient(&http.Client{Timeout: time.Second})).Ping(context.Background())
	assert.ErrorIs(t, err, anpr.ErrStorage)
}

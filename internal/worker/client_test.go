package worker

import (
	"bytes"
	"context"
	"image"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/domain/anpr"
	"platewatch/internal/pipeline"
)

// fakeWorker answers requests read from the client with handle. A nil
// response means "do not answer".
type fakeWorker struct {
	in     *io.PipeReader
	out    *io.PipeWriter
	handle func(req Request, w io.Writer)
}

func startFake(t *testing.T, handle func(req Request, w io.Writer)) *Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	fw := &fakeWorker{in: reqR, out: respW, handle: handle}
	go func() {
		defer respW.Close()
		for {
			var req Request
			if err := readMessage(fw.in, &req); err != nil {
				return
			}
			fw.handle(req, fw.out)
		}
	}()

	c := newClient(reqW, respR, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func reply(t *testing.T, w io.Writer, resp Response) {
	require.NoError(t, writeMessage(w, resp))
}

func TestProtocol_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Response{ID: "a", Detections: []Box{{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.5}}, Fragments: []string{"AB"}}
	require.NoError(t, writeMessage(&buf, in))

	assert.Equal(t, []byte{0, 0, 0}, buf.Bytes()[:3])

	var out Response
	require.NoError(t, readMessage(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadMessage_RejectsOversizedLength(t *testing.T) {
	var out Response
	err := readMessage(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}), &out)
	assert.ErrorContains(t, err, "exceeds limit")
}

type bytesEncoder struct{}

func (bytesEncoder) Encode(pipeline.Frame) ([]byte, error) { return []byte("jpeg"), nil }

func TestDetectorAndRecognizer(t *testing.T) {
	c := startFake(t, func(req Request, w io.Writer) {
		switch req.Op {
		case OpPing:
			reply(t, w, Response{ID: req.ID})
		case OpDetect:
			assert.Equal(t, []byte("jpeg"), req.Image)
			reply(t, w, Response{ID: req.ID, Detections: []Box{{X1: 10, Y1: 20, X2: 110, Y2: 60, Confidence: 0.8}}})
		case OpRecognize:
			reply(t, w, Response{ID: req.ID, Fragments: []string{"ABC", "123"}})
		}
	})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	dets, err := NewDetector(c, bytesEncoder{}).Detect(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []anpr.Detection{{Box: image.Rect(10, 20, 110, 60), Confidence: 0.8}}, dets)

	frags, err := NewRecognizer(c).Recognize(ctx, []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "123"}, frags)
}

func TestCall_WorkerError(t *testing.T) {
	c := startFake(t, func(req Request, w io.Writer) {
		reply(t, w, Response{ID: req.ID, Error: "model not loaded"})
	})

	_, err := NewRecognizer(c).Recognize(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, anpr.ErrUpstream)
	assert.ErrorContains(t, err, "model not loaded")
}

func TestCall_StaleResponseIsDiscarded(t *testing.T) {
	var held []Request
	c := startFake(t, func(req Request, w io.Writer) {
		if len(held) == 0 {
			held = append(held, req)
			return
		}
		// Answer the timed-out request first, then the live one.
		reply(t, w, Response{ID: held[0].ID, Fragments: []string{"STALE"}})
		reply(t, w, Response{ID: req.ID, Fragments: []string{"FRESH"}})
	})
	r := NewRecognizer(c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Recognize(ctx, []byte("one"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	frags, err := r.Recognize(context.Background(), []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, []string{"FRESH"}, frags)
}

func TestCall_WorkerExit(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	c := newClient(reqW, respR, zerolog.Nop())
	defer c.Close()

	go func() {
		var req Request
		_ = readMessage(reqR, &req)
		_ = respW.Close()
	}()

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, anpr.ErrUpstream)

	err = c.Ping(context.Background())
	assert.ErrorIs(t, err, anpr.ErrUpstream)
}

package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize caps a single frame so a corrupt length prefix cannot
// trigger a huge allocation.
const maxMessageSize = 64 << 20

const (
	OpPing      = "ping"
	OpDetect    = "detect"
	OpRecognize = "recognize"
)

type Request struct {
	ID    string `msgpack:"id"`
	Op    string `msgpack:"op"`
	Image []byte `msgpack:"image,omitempty"`
}

type Box struct {
	X1         int     `msgpack:"x1"`
	Y1         int     `msgpack:"y1"`
	X2         int     `msgpack:"x2"`
	Y2         int     `msgpack:"y2"`
	Confidence float64 `msgpack:"confidence"`
}

type Response struct {
	ID         string   `msgpack:"id"`
	Detections []Box    `msgpack:"detections,omitempty"`
	Fragments  []string `msgpack:"fragments,omitempty"`
	Error      string   `msgpack:"error,omitempty"`
}

// writeMessage writes v as a 4-byte big-endian length followed by msgpack.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"platewatch/internal/domain/anpr"
)

// FileStore is the CSV-backed record store. One process owns it at a time,
// enforced by an advisory lock next to the data file. Within the owner all
// operations are serialised; rewrites go through a temporary file and an
// atomic rename so readers never see a partial file.
type FileStore struct {
	mu      sync.Mutex
	path    string
	seqPath string
	lock    *flock.Flock
	next    int64
	closed  bool
	log     zerolog.Logger
}

// Open takes ownership of the store at path, creating it with a header row
// when it does not exist or is empty.
func Open(path string, log zerolog.Logger) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store directory: %w", anpr.ErrStorage, err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock store: %w", anpr.ErrStorage, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	s := &FileStore{
		path:    path,
		seqPath: path + ".seq",
		lock:    lock,
		log:     log.With().Str("component", "file_store").Str("path", path).Logger(),
	}
	if err := s.init(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s.log.Info().Int64("next_id", s.next).Msg("record store opened")
	return s, nil
}

func (s *FileStore) init() error {
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0):
		if err := renameio.WriteFile(s.path, []byte(encodeLine(Header)+"\n"), 0o644); err != nil {
			return fmt.Errorf("%w: create store: %w", anpr.ErrStorage, err)
		}
	case err != nil:
		return fmt.Errorf("%w: stat store: %w", anpr.ErrStorage, err)
	}

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	maxID := int64(-1)
	for _, line := range dataLines(lines) {
		if id, ok := leadingID(line); ok && id > maxID {
			maxID = id
		}
	}
	s.next = maxID + 1

	hw, err := s.readHighWater()
	if err != nil {
		return err
	}
	if hw > s.next {
		s.next = hw
	}
	return nil
}

func (s *FileStore) Append(ctx context.Context, rec *anpr.Sighting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkField(rec.Plate); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	id := s.next
	// The id is burned before the row is written so a failed append can
	// never hand the same id out twice.
	if err := s.writeHighWater(id + 1); err != nil {
		return err
	}
	s.next = id + 1

	row := *rec
	row.ID = id
	if err := s.appendLine(encodeLine(EncodeRow(row))); err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]anpr.Sighting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	offset := len(lines) - len(dataLines(lines))

	out := make([]anpr.Sighting, 0, len(lines))
	for i, line := range dataLines(lines) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := DecodeRow(parseLine(line))
		if err != nil {
			s.log.Debug().Err(err).Int("line", offset+i+1).Msg("skipping malformed row")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FileStore) UpdatePlate(ctx context.Context, id int64, plate string) error {
	if err := checkField(plate); err != nil {
		return err
	}
	return s.rewrite(ctx, func(lines []string) ([]string, error) {
		found := false
		for i, line := range lines {
			row := parseLine(line)
			if rid, ok := rowID(row); ok && rid == id {
				row[3] = plate
				lines[i] = encodeLine(row)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: sighting %d", anpr.ErrNotFound, id)
		}
		return lines, nil
	})
}

func (s *FileStore) Delete(ctx context.Context, id int64) error {
	return s.rewrite(ctx, func(lines []string) ([]string, error) {
		kept := lines[:0:0]
		for _, line := range lines {
			if rid, ok := rowID(parseLine(line)); ok && rid == id {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) == len(lines) {
			return nil, fmt.Errorf("%w: sighting %d", anpr.ErrNotFound, id)
		}
		return kept, nil
	})
}

func (s *FileStore) BulkDelete(ctx context.Context, ids []int64) ([]int64, error) {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	deleted := []int64{}
	err := s.rewrite(ctx, func(lines []string) ([]string, error) {
		kept := lines[:0:0]
		seen := make(map[int64]struct{})
		for _, line := range lines {
			if rid, ok := rowID(parseLine(line)); ok {
				if _, hit := wanted[rid]; hit {
					if _, dup := seen[rid]; !dup {
						deleted = append(deleted, rid)
						seen[rid] = struct{}{}
					}
					continue
				}
			}
			kept = append(kept, line)
		}
		if len(kept) == len(lines) {
			return nil, nil
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("%w: unlock store: %w", anpr.ErrStorage, err)
	}
	return nil
}

// rewrite applies fn to the data lines of the store and atomically replaces
// the file with the result. fn returning nil lines leaves the file untouched.
func (s *FileStore) rewrite(ctx context.Context, fn func(lines []string) ([]string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	data := dataLines(lines)
	head := lines[:len(lines)-len(data)]

	updated, err := fn(append([]string(nil), data...))
	if err != nil || updated == nil {
		return err
	}

	var buf bytes.Buffer
	for _, line := range append(append([]string(nil), head...), updated...) {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: rewrite store: %w", anpr.ErrStorage, err)
	}
	return nil
}

func (s *FileStore) appendLine(line string) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open store: %w", anpr.ErrStorage, err)
	}
	defer f.Close()

	var out []byte
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			out = append(out, '\n')
		}
	}
	out = append(out, line...)
	out = append(out, '\n')

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("%w: append row: %w", anpr.ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync store: %w", anpr.ErrStorage, err)
	}
	return nil
}

func (s *FileStore) readLines() ([]string, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read store: %w", anpr.ErrStorage, err)
	}
	text := strings.TrimSuffix(string(content), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (s *FileStore) readHighWater() (int64, error) {
	content, err := os.ReadFile(s.seqPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read id sequence: %w", anpr.ErrStorage, err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(content)), 10, 64)
	if err != nil {
		s.log.Warn().Str("path", s.seqPath).Msg("ignoring unreadable id sequence file")
		return 0, nil
	}
	return n, nil
}

func (s *FileStore) writeHighWater(next int64) error {
	if err := renameio.WriteFile(s.seqPath, []byte(strconv.FormatInt(next, 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: persist id sequence: %w", anpr.ErrStorage, err)
	}
	return nil
}

func (s *FileStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", anpr.ErrStorage)
	}
	return nil
}

// dataLines drops the header row when present.
func dataLines(lines []string) []string {
	if len(lines) > 0 && isHeader(parseLine(lines[0])) {
		return lines[1:]
	}
	return lines
}

func parseLine(line string) []string {
	r := csv.NewReader(strings.NewReader(strings.TrimSuffix(line, "\r")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	row, err := r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil
	}
	return row
}

func encodeLine(row []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(row)
	w.Flush()
	return strings.TrimSuffix(buf.String(), "\n")
}

// leadingID reads the first field of any row, well-formed or not, so id
// allocation never collides with a row that List happens to skip.
func leadingID(line string) (int64, bool) {
	row := parseLine(line)
	if len(row) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func checkField(v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return fmt.Errorf("%w: line breaks are not allowed", anpr.ErrInvalidInput)
	}
	return nil
}

// Package archive stores the images behind each sighting on the local
// filesystem under deterministic names.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"platewatch/internal/domain/anpr"
)

type Role string

const (
	RolePlate    Role = "plate"
	RoleOriginal Role = "original"
	RoleResult   Role = "result"
)

const (
	timestampLayout = "20060102_150405"
	maxNameAttempts = 1000
)

type Config struct {
	PlatesDir    string
	OriginalsDir string
	ResultsDir   string
	// Ext is the image extension including the dot, e.g. ".jpg".
	Ext string
}

type Archive struct {
	dirs map[Role]string
	ext  string
}

func New(cfg Config) (*Archive, error) {
	if cfg.Ext == "" {
		cfg.Ext = ".jpg"
	}
	if !strings.HasPrefix(cfg.Ext, ".") {
		cfg.Ext = "." + cfg.Ext
	}
	a := &Archive{
		dirs: map[Role]string{
			RolePlate:    cfg.PlatesDir,
			RoleOriginal: cfg.OriginalsDir,
			RoleResult:   cfg.ResultsDir,
		},
		ext: cfg.Ext,
	}
	for role, dir := range a.dirs {
		if dir == "" {
			delete(a.dirs, role)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s directory: %w", anpr.ErrStorage, role, err)
		}
	}
	return a, nil
}

// FileName returns the archive name for an image of role captured at ts.
// Only plate images carry the sequence number.
func FileName(role Role, ts time.Time, seq int, ext string) string {
	stamp := ts.Format(timestampLayout)
	if role == RolePlate {
		return fmt.Sprintf("%s_%s_%d%s", role, stamp, seq, ext)
	}
	return fmt.Sprintf("%s_%s%s", role, stamp, ext)
}

// Save writes data atomically and returns the generated file name. An
// existing image is never replaced: when the name is taken a numeric suffix
// is added, e.g. original_20240309_070501_2.jpg.
func (a *Archive) Save(role Role, data []byte, ts time.Time, seq int) (string, error) {
	dir, err := a.dir(role)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty %s image", anpr.ErrInvalidInput, role)
	}

	name, err := reserve(dir, FileName(role, ts, seq, a.ext))
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: write %s: %w", anpr.ErrStorage, name, err)
	}
	return name, nil
}

// reserve claims name in dir with an exclusive create, trying suffixed
// variants while the name is taken. The empty placeholder is replaced
// atomically by the caller.
func reserve(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; n <= maxNameAttempts; n++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("%w: reserve %s: %w", anpr.ErrStorage, candidate, err)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: reserve %s: %w", anpr.ErrStorage, candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return "", fmt.Errorf("%w: no free name for %s", anpr.ErrStorage, name)
}

// Fetch reads a previously saved image. The name must be a bare file name
// inside the role directory.
func (a *Archive) Fetch(role Role, filename string) ([]byte, error) {
	dir, err := a.dir(role)
	if err != nil {
		return nil, err
	}
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return nil, fmt.Errorf("%w: invalid file name %q", anpr.ErrInvalidInput, filename)
	}
	path := filepath.Join(dir, filename)
	if err := validatePathWithinDirectory(path, dir); err != nil {
		return nil, fmt.Errorf("%w: %w", anpr.ErrInvalidInput, err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s image %s", anpr.ErrNotFound, role, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", anpr.ErrStorage, filename, err)
	}
	return data, nil
}

func (a *Archive) dir(role Role) (string, error) {
	dir, ok := a.dirs[role]
	if !ok {
		return "", fmt.Errorf("%w: unknown image role %q", anpr.ErrInvalidInput, role)
	}
	return dir, nil
}

// SaveResult stores an annotated analysis frame.
func (a *Archive) SaveResult(data []byte, ts time.Time) (string, error) {
	return a.Save(RoleResult, data, ts, 0)
}

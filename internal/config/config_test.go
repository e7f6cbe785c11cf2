package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/domain/anpr"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Equal(t, "csv", cfg.Store.Driver)
	assert.Equal(t, "plates.csv", cfg.Store.Path)
	assert.Equal(t, "plates", cfg.Archive.PlatesDir)
	assert.Equal(t, "original_images", cfg.Archive.OriginalsDir)
	assert.Equal(t, 0.4, cfg.Ingest.Confidence)
	assert.Equal(t, 1280, cfg.Ingest.FrameWidth)
	assert.Equal(t, 720, cfg.Ingest.FrameHeight)
	assert.Equal(t, 5*time.Second, cfg.Tracker.Cooldown)
	assert.Equal(t, 0.8, cfg.Tracker.Similarity)
	assert.Equal(t, []string{"eng"}, cfg.Recognizer.Languages)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  addr: ":8080"
tracker:
  cooldown: 3s
  retention: 0s
ingest:
  confidence: 0.6
`), 0o644))

	t.Setenv("PLATEWATCH_STORE_PATH", filepath.Join(dir, "data.csv"))
	t.Setenv("PLATEWATCH_INGEST_CONFIDENCE", "0.7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http.addr", "", "")
	require.NoError(t, flags.Parse([]string{"--http.addr=:9090"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr, "flag beats file")
	assert.Equal(t, 0.7, cfg.Ingest.Confidence, "env beats file")
	assert.Equal(t, filepath.Join(dir, "data.csv"), cfg.Store.Path)
	assert.Equal(t, 3*time.Second, cfg.Tracker.Cooldown)
	assert.Equal(t, time.Duration(0), cfg.Tracker.Retention)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Chdir(t.TempDir())
		cfg, err := Load("", nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = "postgres" }},
		{name: "confidence above one", mutate: func(c *Config) { c.Ingest.Confidence = 1.5 }},
		{name: "zero cooldown", mutate: func(c *Config) { c.Tracker.Cooldown = 0 }},
		{name: "similarity above one", mutate: func(c *Config) { c.Tracker.Similarity = 2 }},
		{name: "ocr scale zero", mutate: func(c *Config) { c.Ingest.OCRScale = 0 }},
		{name: "worker without command", mutate: func(c *Config) { c.Detector.Backend = "worker" }},
		{name: "unknown recognizer", mutate: func(c *Config) { c.Recognizer.Backend = "easyocr" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), anpr.ErrInvalidInput)
		})
	}
}

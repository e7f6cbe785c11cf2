package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/store"
)

func TestSetup_FlagsOverrideDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	fs := newFlagSet("serve")
	fs.String("http.addr", "", "")
	cfg, _, err := setup(fs, []string{"--http.addr", ":9090", "--store.path", "records.csv", "--log.level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "records.csv", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "csv", cfg.Store.Driver)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, log, err := setup(newFlagSet("serve"), []string{"--store.path", filepath.Join(dir, "plates.csv")})
	require.NoError(t, err)

	st, err := openStore(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = openStore(cfg, log)
	assert.ErrorIs(t, err, store.ErrLocked)

	cfg.Store.Driver = "sqlite"
	_, err = openStore(cfg, log)
	assert.Error(t, err)
}

package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAdminConfig_ReturnsDefaultWhenFileMissing(t *testing.T) {
	cfg, err := LoadAdminConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultAdminConfig().MinConfirmations, cfg.MinConfirmations)
}

func TestSaveAndLoadAdminConfig_RoundTripsAtomically(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultAdminConfig()
	cfg.MaxBatch = 77
	cfg.LogFilter = "debug"

	require.NoError(t, SaveAdminConfig(cfg, dir))
	assert.True(t, AdminConfigExists(dir))

	loaded, err := LoadAdminConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), loaded.MaxBatch)
	assert.Equal(t, "debug", loaded.LogFilter)
	assert.False(t, loaded.UpdatedAt.IsZero(), "SaveAdminConfig must stamp UpdatedAt")
}

func TestSaveAdminConfig_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveAdminConfig(DefaultAdminConfig(), dir))

	_, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, AdminConfigFileName+".tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "the atomic rename must leave no dangling temp file")
}

func TestAdminConfigExists_FalseForEmptyDirectory(t *testing.T) {
	assert.False(t, AdminConfigExists(t.TempDir()))
}

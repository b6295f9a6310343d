package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_root: /data/out\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, GroupingAccessionNumber, cfg.Grouping)
	assert.Equal(t, ConverterDCM2NIIX, cfg.Converter)
	assert.Equal(t, CriterionFirst, cfg.IntendedFor.Criterion)
	assert.Equal(t, 300, cfg.Lock.TimeoutSeconds)
}

func TestLoadConfig_UnknownGrouping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_root: /data/out\ngrouping: bogus\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unknown grouping mode")
}

func TestLoadConfig_CustomGroupingRequiresTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_root: /data/out\ngrouping: custom\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "grouping_tag")
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.OutputRoot = "/data/out"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Grouping, loaded.Grouping)
	assert.Equal(t, cfg.OutputRoot, loaded.OutputRoot)
}

func TestLockTimeout_EnvOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lock.TimeoutSeconds = 300

	t.Setenv("HEUDICONV_FILELOCK_TIMEOUT", "42")
	assert.Equal(t, int64(42), cfg.LockTimeout().Milliseconds()/1000)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyPathReturnsZeroValueDefaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.ControlPeriodMs)
	assert.Equal(t, int64(0), cfg.RandomSeed)
}

func TestParseOverlayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
control_period_ms: 60000
random_seed: 7
threshold:
  min_util: 0.3
  max_util: 0.8
  idle_ticks: 10
pooling:
  headroom: 2
  idle_ticks: 5
`), 0644))

	cfg, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), cfg.ControlPeriodMs)
	assert.Equal(t, int64(7), cfg.RandomSeed)
	assert.Equal(t, 0.3, cfg.Threshold.MinUtil)
	assert.Equal(t, 0.8, cfg.Threshold.MaxUtil)
	assert.Equal(t, 10, cfg.Threshold.IdleTicks)
	assert.Equal(t, 2, cfg.Pooling.Headroom)
}

func TestParseRejectsNegativeValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control_period_ms: -1\n"), 0644))

	_, err := Parse(path)
	assert.Error(t, err)
}

func TestParseMissingFileErrors(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

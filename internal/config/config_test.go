package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecConstants(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30, cfg.AssessmentDays)
	assert.Equal(t, 1000, cfg.MaxBatchIngest)
	assert.Equal(t, 10, cfg.MaxDailyInsights)
	assert.Equal(t, 7, cfg.MinDaysBetweenRepeats)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxBatchIngest, cfg.MaxBatchIngest)
}

func TestLoadFromYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_daily_insights: 5\n"), 0o600))

	t.Setenv("MAX_BATCH_INGEST", "250")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxDailyInsights)
	assert.Equal(t, 250, cfg.MaxBatchIngest)
}

func TestEnvMetricThresholdOverride(t *testing.T) {
	t.Setenv("METRIC_THRESHOLD_RESTING_HR", "3.5")
	cfg, err := Load("")
	require.NoError(t, err)
	v, ok := cfg.ThresholdOverrides["resting_hr"]
	require.True(t, ok)
	assert.Equal(t, 3.5, v)
}

func TestThresholdWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resting_hr: 2.0\n"), 0o600))

	tw, err := NewThresholdWatcher(path)
	require.NoError(t, err)
	defer tw.Close()

	v, ok := tw.Get("resting_hr")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	require.NoError(t, os.WriteFile(path, []byte("resting_hr: 4.0\n"), 0o600))
	require.Eventually(t, func() bool {
		v, _ := tw.Get("resting_hr")
		return v == 4.0
	}, 2*time.Second, 20*time.Millisecond)
}

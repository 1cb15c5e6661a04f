package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvedTempDir_DefaultsToOSTempDir(t *testing.T) {
	var cfg Config
	require.Equal(t, os.TempDir(), cfg.ResolvedTempDir())
}

func TestResolvedTempDir_UsesConfiguredValue(t *testing.T) {
	cfg := Config{TempDir: " /tmp/custom-dir "}
	require.Equal(t, "/tmp/custom-dir", cfg.ResolvedTempDir())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DAILYLOG_IMAGES_MAX_SIZE", "12M")
	t.Setenv("DAILYLOG_IMAGES_UPLOAD_URL_EXPIRES_IN", "PT2H")
	t.Setenv("DAILYLOG_IMAGES_DOWNLOAD_URL_EXPIRES_IN", "10m")
	t.Setenv("DAILYLOG_DB_MIGRATE_AT_START", "false")
	t.Setenv("DAILYLOG_PAGE_SIZE_DEFAULT", "50")
	t.Setenv("DAILYLOG_IMAGES_S3_PREFIX", "images")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, int64(12*1024*1024), cfg.ImageMaxSize)
	require.Equal(t, 2*time.Hour, cfg.ImageUploadURLExpiresIn)
	require.Equal(t, 10*time.Minute, cfg.ImageDownloadURLExpiresIn)
	require.False(t, cfg.DatastoreMigrateAtStart)
	require.Equal(t, 50, cfg.DefaultPageSize)
	require.Equal(t, "images", cfg.S3Prefix)
}

func TestApplyEnv_RejectsDefaultAboveMax(t *testing.T) {
	t.Setenv("DAILYLOG_PAGE_SIZE_DEFAULT", "500")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	_, err = parseDuration("P1D")
	require.Error(t, err)

	_, err = parseDuration("0s")
	require.Error(t, err)
}

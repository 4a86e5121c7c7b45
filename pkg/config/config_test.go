package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	data, err := Load("", nil, nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), data)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache_file_period":"12h","default_file_type":"parquet"}`), 0o644))

	data, err := Load(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour, data.CacheFilePeriod)
	require.Equal(t, "parquet", data.DefaultFileType)
	require.Equal(t, Defaults().TotalBufferMemoryConsumption, data.TotalBufferMemoryConsumption)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cache_file_period":"12h"}`), 0o644))

	t.Setenv("NEXUS_DATA__CACHE_FILE_PERIOD", "6h")
	data, err := Load(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, data.CacheFilePeriod)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NEXUS_DATA__DEFAULT_FILE_TYPE", "csv")
	data, err := Load("", []string{"--default-file-type=parquet"}, nil)
	require.NoError(t, err)
	require.Equal(t, "parquet", data.DefaultFileType)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	data, err := Load("/nonexistent/nexus.json", nil, nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), data)
}

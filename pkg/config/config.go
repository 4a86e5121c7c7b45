// Package config implements Nexus's layered configuration, generalizing the
// teacher's flat GetEnv/RequireEnv helpers (env.go) into the precedence
// chain spec.md §6 requires: built-in defaults, then an optional file, then
// NEXUS_-prefixed environment variables (using "__" as the section
// separator), then command-line flag overrides.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Data holds the data-plane options the core recognizes per spec.md §6. All
// other configuration is a host concern and out of scope for this package.
type Data struct {
	// TotalBufferMemoryConsumption is the memory tracker's ceiling, in bytes.
	TotalBufferMemoryConsumption int64 `json:"total_buffer_memory_consumption"`
	// CacheFilePeriod is the duration spanned by one cache file.
	CacheFilePeriod time.Duration `json:"cache_file_period"`
	// DefaultFileType labels the writer codec used when a request does not
	// name one explicitly. The codec itself is an external collaborator.
	DefaultFileType string `json:"default_file_type"`
	// CacheDir is where cache files are written; not named in spec.md §6 but
	// required to make the cache engine concrete.
	CacheDir string `json:"cache_dir"`
}

// Defaults returns the built-in defaults, the bottom of the precedence
// chain.
func Defaults() Data {
	return Data{
		TotalBufferMemoryConsumption: 512 * 1024 * 1024,
		CacheFilePeriod:              24 * time.Hour,
		DefaultFileType:              "csv",
		CacheDir:                     "./nexus-cache",
	}
}

// fileShape mirrors Data but with a string period field, since durations
// don't round-trip through encoding/json without help.
type fileShape struct {
	TotalBufferMemoryConsumption *int64  `json:"total_buffer_memory_consumption"`
	CacheFilePeriod              *string `json:"cache_file_period"`
	DefaultFileType              *string `json:"default_file_type"`
	CacheDir                     *string `json:"cache_dir"`
}

// Load resolves Data through the full precedence chain. filePath may be
// empty, in which case the file layer is skipped. args is typically
// os.Args[1:]; pass nil to skip CLI overrides (e.g. in tests).
func Load(filePath string, args []string, logger *logrus.Logger) (Data, error) {
	data := Defaults()

	if filePath != "" {
		if err := applyFile(&data, filePath, logger); err != nil {
			return data, err
		}
	}

	applyEnv(&data, logger)

	if args != nil {
		if err := applyFlags(&data, args); err != nil {
			return data, err
		}
	}

	return data, nil
}

func applyFile(data *Data, filePath string, logger *logrus.Logger) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.WithField("path", filePath).Debug("config file not found, skipping")
			}
			return nil
		}
		return err
	}

	var fs fileShape
	if err := json.Unmarshal(raw, &fs); err != nil {
		return err
	}

	if fs.TotalBufferMemoryConsumption != nil {
		data.TotalBufferMemoryConsumption = *fs.TotalBufferMemoryConsumption
	}
	if fs.CacheFilePeriod != nil {
		d, err := time.ParseDuration(*fs.CacheFilePeriod)
		if err != nil {
			return err
		}
		data.CacheFilePeriod = d
	}
	if fs.DefaultFileType != nil {
		data.DefaultFileType = *fs.DefaultFileType
	}
	if fs.CacheDir != nil {
		data.CacheDir = *fs.CacheDir
	}
	return nil
}

// envKey renders the NEXUS_DATA__<FIELD> key for a data-section field name.
func envKey(field string) string {
	return "NEXUS_DATA__" + strings.ToUpper(field)
}

func applyEnv(data *Data, logger *logrus.Logger) {
	if v := os.Getenv(envKey("TOTAL_BUFFER_MEMORY_CONSUMPTION")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			data.TotalBufferMemoryConsumption = parsed
		} else if logger != nil {
			logger.WithError(err).Warn("invalid NEXUS_DATA__TOTAL_BUFFER_MEMORY_CONSUMPTION")
		}
	}
	if v := os.Getenv(envKey("CACHE_FILE_PERIOD")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			data.CacheFilePeriod = parsed
		} else if logger != nil {
			logger.WithError(err).Warn("invalid NEXUS_DATA__CACHE_FILE_PERIOD")
		}
	}
	if v := os.Getenv(envKey("DEFAULT_FILE_TYPE")); v != "" {
		data.DefaultFileType = v
	}
	if v := os.Getenv(envKey("CACHE_DIR")); v != "" {
		data.CacheDir = v
	}
}

func applyFlags(data *Data, args []string) error {
	fs := pflag.NewFlagSet("nexus", pflag.ContinueOnError)
	mem := fs.Int64("total-buffer-memory-consumption", data.TotalBufferMemoryConsumption, "memory tracker ceiling, in bytes")
	period := fs.Duration("cache-file-period", data.CacheFilePeriod, "duration spanned by one cache file")
	fileType := fs.String("default-file-type", data.DefaultFileType, "default writer codec label")
	cacheDir := fs.String("cache-dir", data.CacheDir, "cache file directory")

	if err := fs.Parse(args); err != nil {
		return err
	}

	data.TotalBufferMemoryConsumption = *mem
	data.CacheFilePeriod = *period
	data.DefaultFileType = *fileType
	data.CacheDir = *cacheDir
	return nil
}

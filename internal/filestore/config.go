package filestore

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variables honored by ConfigFromEnv.
const (
	EnvBasePath         = "TYLER_FILE_STORAGE_PATH"
	EnvMaxFileSize      = "TYLER_MAX_FILE_SIZE"
	EnvMaxStorageSize   = "TYLER_MAX_STORAGE_SIZE"
	EnvAllowedMimeTypes = "TYLER_ALLOWED_MIME_TYPES"
)

const (
	// DefaultMaxFileSize is 50 MiB.
	DefaultMaxFileSize = 50 << 20
	// DefaultMaxStorageSize is 5 GiB.
	DefaultMaxStorageSize = 5 << 30
)

// DefaultAllowedMimeTypes covers common documents, images, archives, and audio.
var DefaultAllowedMimeTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"text/html",
	"application/pdf",
	"application/json",
	"application/xml",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/zip",
	"application/gzip",
	"application/x-tar",
	"application/octet-stream",
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	"audio/mpeg",
	"audio/wav",
	"audio/ogg",
}

// Config controls the local file store.
type Config struct {
	BasePath         string
	MaxFileSize      int64
	MaxStorageSize   int64
	AllowedMimeTypes []string
}

// DefaultConfig returns the documented defaults with the base path under the
// user's home directory.
func DefaultConfig() Config {
	base := "~/.tyler/files"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".tyler", "files")
	}
	return Config{
		BasePath:         base,
		MaxFileSize:      DefaultMaxFileSize,
		MaxStorageSize:   DefaultMaxStorageSize,
		AllowedMimeTypes: DefaultAllowedMimeTypes,
	}
}

// ConfigFromEnv reads the TYLER_* storage variables. Invalid values fall
// back to defaults with a warning rather than failing construction.
func ConfigFromEnv(logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()

	if v := os.Getenv(EnvBasePath); v != "" {
		cfg.BasePath = v
	}
	cfg.MaxFileSize = envSize(logger, EnvMaxFileSize, cfg.MaxFileSize)
	cfg.MaxStorageSize = envSize(logger, EnvMaxStorageSize, cfg.MaxStorageSize)

	if v := os.Getenv(EnvAllowedMimeTypes); v != "" {
		var types []string
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				types = append(types, t)
			}
		}
		if len(types) > 0 {
			cfg.AllowedMimeTypes = types
		} else {
			logger.Warn("ignoring empty mime type list", "env", EnvAllowedMimeTypes)
		}
	}

	return cfg
}

func envSize(logger *slog.Logger, key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		logger.Warn("invalid size in environment, using default",
			"env", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/nexus-io/nexus-router/internal/config"
)

const (
	// MemoryPath is the special db_path denoting an ephemeral, process-local
	// store that vanishes on close.
	MemoryPath = ":memory:"

	defaultBusyTimeout = 5 * time.Second
)

// ErrDBPathEmpty is returned when the database path is an empty string.
var ErrDBPathEmpty = errors.New("database path cannot be empty")

// Config holds SQLite store configuration with defaults suitable for a
// single-process orchestrator.
type Config struct {
	// DBPath is the SQLite database file path, or MemoryPath for an
	// ephemeral store.
	DBPath string
	// BusyTimeout bounds how long a statement waits on a locked database
	// before failing. Concurrent runs against the same file rely on this.
	BusyTimeout time.Duration
}

// LoadConfig loads store configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		DBPath:      config.GetEnvStr("NEXUS_DB_PATH", MemoryPath),
		BusyTimeout: config.GetEnvDuration("NEXUS_DB_BUSY_TIMEOUT", defaultBusyTimeout),
	}
}

// Validate checks if the store configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return ErrDBPathEmpty
	}

	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}

	return nil
}

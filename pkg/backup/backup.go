// Package backup downloads and restores the raw sqlite database file.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/fsutil"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotSQLite is returned when a restore payload lacks the sqlite
	// file header.
	ErrNotSQLite = errors.New("not a sqlite database")
	// ErrTooLarge is returned for empty payloads and payloads over the
	// configured ceiling.
	ErrTooLarge = errors.New("database file too large")
	// ErrUnsupportedDriver is returned when the store is not file backed.
	ErrUnsupportedDriver = errors.New("backup requires the sqlite driver")
)

// sqliteHeader opens every sqlite 3 database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// Manager snapshots and replaces the database file.
type Manager struct {
	log      logrus.FieldLogger
	path     string
	maxBytes int64
}

// NewManager creates a manager for the configured database. Any driver
// other than sqlite yields a manager whose operations fail with
// ErrUnsupportedDriver.
func NewManager(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	maxBytes int64,
) *Manager {
	m := &Manager{
		log:      log.WithField("component", "backup"),
		maxBytes: maxBytes,
	}

	if cfg.Driver == "sqlite" && cfg.SQLite.Path != "" {
		if abs, err := filepath.Abs(cfg.SQLite.Path); err == nil {
			m.path = abs
		} else {
			m.path = cfg.SQLite.Path
		}
	}

	return m
}

// Path is the database file, empty when unsupported.
func (m *Manager) Path() string {
	return m.path
}

// Snapshot returns the current database file contents.
func (m *Manager) Snapshot() ([]byte, error) {
	if m.path == "" {
		return nil, ErrUnsupportedDriver
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("reading database file: %w", err)
	}

	return data, nil
}

// Validate checks a restore payload without touching the live file.
func (m *Manager) Validate(data []byte) error {
	if len(data) == 0 || int64(len(data)) > m.maxBytes {
		return fmt.Errorf("%w: %s (max %s)", ErrTooLarge,
			units.HumanSize(float64(len(data))), units.HumanSize(float64(m.maxBytes)))
	}

	if !bytes.HasPrefix(data, sqliteHeader) {
		return ErrNotSQLite
	}

	return nil
}

// Restore replaces the live database file with data. Callers must reopen
// their database handle afterwards.
func (m *Manager) Restore(data []byte) error {
	if m.path == "" {
		return ErrUnsupportedDriver
	}

	if err := m.Validate(data); err != nil {
		return err
	}

	if err := fsutil.ReplaceFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("replacing database file: %w", err)
	}

	m.log.WithField("bytes", len(data)).Info("Database file restored")

	return nil
}

// Status describes the database file and the volume it lives on.
type Status struct {
	Path          string `json:"path"`
	Bytes         int64  `json:"bytes"`
	Size          string `json:"size"`
	MaxRestore    string `json:"maxRestore"`
	DiskTotal     uint64 `json:"diskTotal"`
	DiskFree      uint64 `json:"diskFree"`
	DiskFreeHuman string `json:"diskFreeHuman"`
}

// Status reports the database file size and free disk space.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if m.path == "" {
		return nil, ErrUnsupportedDriver
	}

	info, err := os.Stat(m.path)
	if err != nil {
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	st := &Status{
		Path:       filepath.Base(m.path),
		Bytes:      info.Size(),
		Size:       units.HumanSize(float64(info.Size())),
		MaxRestore: units.HumanSize(float64(m.maxBytes)),
	}

	usage, err := disk.UsageWithContext(ctx, filepath.Dir(m.path))
	if err != nil {
		m.log.WithError(err).Warn("Failed to read disk usage")

		return st, nil
	}

	st.DiskTotal = usage.Total
	st.DiskFree = usage.Free
	st.DiskFreeHuman = units.HumanSize(float64(usage.Free))

	return st, nil
}

// Filename is the attachment name of a backup taken at now, an ISO 8601
// timestamp with colons replaced.
func Filename(now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")

	return "backup-" + strings.ReplaceAll(stamp, ":", "-") + ".db"
}

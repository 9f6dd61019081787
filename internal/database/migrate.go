package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/HammerMeetNail/nearby/internal/logging"
)

// ErrDirtySchema means a previous migration failed halfway and needs manual repair.
var ErrDirtySchema = errors.New("schema is dirty")

// Migrator applies the numbered SQL files in a migrations directory.
type Migrator struct {
	m *migrate.Migrate
}

// migrateLog routes golang-migrate's progress lines into the structured log.
type migrateLog struct {
	logger *logging.Logger
}

func (l migrateLog) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLog) Verbose() bool {
	return l.logger.Enabled(logging.LevelDebug)
}

func NewMigrator(dsn, migrationsPath string) (*Migrator, error) {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return newMigrator(m), nil
}

func newMigrator(m *migrate.Migrate) *Migrator {
	m.Log = migrateLog{logger: logging.Default.WithField("component", "migrate")}
	return &Migrator{m: m}
}

// Up applies every pending migration and returns the schema version reached.
func (m *Migrator) Up() (uint, error) {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("running migrations: %w", err)
	}
	return m.Version()
}

// Rollback reverts the last steps migrations.
func (m *Migrator) Rollback(steps int) (uint, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	if err := m.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("rolling back migrations: %w", err)
	}
	return m.Version()
}

// Version is 0 on an empty schema.
func (m *Migrator) Version() (uint, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Migrate brings the schema at dsn up to date and reports its version.
func Migrate(dsn, migrationsPath string) (version uint, err error) {
	m, err := NewMigrator(dsn, migrationsPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing migrator: %w", closeErr)
		}
	}()
	return m.Up()
}

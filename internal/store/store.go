// Package store persists analysis runs and their detection rows.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var (
	// ErrNotFound is returned when a run or detection does not exist or is not visible.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyComplete is returned when completing a run twice.
	ErrAlreadyComplete = errors.New("run already complete")
)

// Config holds record store connection settings.
type Config struct {
	Driver      string // sqlite, postgres or mysql
	DSN         string
	AutoMigrate bool   // create or update tables on Open
	LogLevel    string // silent, error, warn, info
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:      DriverSQLite,
		DSN:         "detscan.db",
		AutoMigrate: true,
		LogLevel:    "warn",
	}
}

// Open connects to the configured database and optionally migrates the schema.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newLogger(cfg.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	slog.Debug("Record store opened", "driver", cfg.Driver, "auto_migrate", cfg.AutoMigrate)
	return db, nil
}

// AutoMigrate creates or updates the analysis tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&AnalysisRun{}, &DetectionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	switch cfg.Driver {
	case DriverSQLite, "":
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// sqliteDSN enables foreign key enforcement so ON DELETE CASCADE applies.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// slogWriter forwards gorm log lines to slog.
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	slog.Warn("gorm", "message", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func newLogger(level string) gormLogger.Interface {
	var lvl gormLogger.LogLevel
	switch strings.ToLower(level) {
	case "silent":
		lvl = gormLogger.Silent
	case "error":
		lvl = gormLogger.Error
	case "info":
		lvl = gormLogger.Info
	default:
		lvl = gormLogger.Warn
	}

	return gormLogger.New(slogWriter{}, gormLogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

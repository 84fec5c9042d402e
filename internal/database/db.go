package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"weekly-meal-planner/internal/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB provides a centralized database connection
type DB struct {
	Gorm   *gorm.DB
	Driver string
}

// Open connects to the database named by driver and dsn. For sqlite the
// parent directory of dsn is created and foreign keys are switched on, since
// plan deletion relies on cascades.
func Open(driver, dsn string, log *logger.Logger) (*DB, error) {
	gcfg := &gorm.Config{
		Logger:         NewGormLogger(log, DefaultSlowThreshold),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			dir := filepath.Dir(dsn)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn + "?_foreign_keys=on&_busy_timeout=5000")
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time keeps sqlite transactions from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established", "driver", driver)
	return &DB{Gorm: db, Driver: driver}, nil
}

// Migrate creates or updates the tables for the given models.
func (d *DB) Migrate(models ...interface{}) error {
	if err := d.Gorm.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

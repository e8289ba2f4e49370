package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/worship-room/pkg/models"
)

type Config struct {
	Driver          string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// DB wraps a gorm handle. Inside Transaction the wrapped handle is the
// transaction, so the same query methods work in both cases.
type DB struct {
	*gorm.DB
	rowLocks bool
}

func Open(cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 100))
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	return Wrap(db), nil
}

// Wrap adapts an existing gorm handle.
func Wrap(db *gorm.DB) *DB {
	return &DB{DB: db, rowLocks: db.Dialector.Name() != "sqlite"}
}

func AutoMigrate(db *DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Transaction runs fn inside a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error, opts ...*sql.TxOptions) error {
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{DB: tx, rowLocks: db.rowLocks})
	}, opts...)
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (db *DB) withCtx(ctx context.Context) *gorm.DB {
	return db.DB.WithContext(ctx)
}

// forUpdate adds a row lock when the dialect has one.
func (db *DB) forUpdate(q *gorm.DB) *gorm.DB {
	if !db.rowLocks {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Package databasetest opens migrated in-memory databases for tests.
package databasetest

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/worship-room/pkg/database"
)

// Open returns a fresh migrated in-memory database closed at test cleanup.
// The pool holds a single connection so every query sees the same memory
// database and writes are serialized the way row locks serialize them on a
// server database.
func Open(t testing.TB) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := database.Wrap(gdb)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

package repository

import (
	"path/filepath"
	"testing"

	"atendigram/config"
	"atendigram/models"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, email string) models.Account {
	t.Helper()
	account, err := models.EnsureAccount(db, email)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return *account
}

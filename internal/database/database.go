package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/toser-api/internal/models"
)

const sqlitePrefix = "sqlite://"

// Connect opens the database named by url: either a PostgreSQL DSN or
// sqlite://<path> for single-node deployments and local runs.
func Connect(url string) (*gorm.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database url must not be empty")
	}

	if path, ok := strings.CutPrefix(url, sqlitePrefix); ok {
		if path == "" {
			return nil, fmt.Errorf("sqlite path must not be empty")
		}
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the tables owned by the service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Analysis{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

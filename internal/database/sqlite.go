package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The projector backfills plain text for blocks stored without it.
func OpenSQLite(path string, projector blocks.TextProjector, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if projector == nil {
		return nil, fmt.Errorf("text projector is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&pages.PageRecord{}, &blocks.BlockRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, projector, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

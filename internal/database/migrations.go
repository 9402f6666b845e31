package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillBlockPlainText = "2026-09-14_backfill_block_plain_text"
	migrationClearDividerText       = "2026-09-30_clear_divider_text"

	backfillBatchSize = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, projector blocks.TextProjector, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillBlockPlainText, apply: func(tx *gorm.DB) error {
			return backfillBlockPlainText(tx, projector)
		}},
		{name: migrationClearDividerText, apply: clearDividerText},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillBlockPlainText derives plain text for rows written before the
// search projection existed.
func backfillBlockPlainText(db *gorm.DB, projector blocks.TextProjector) error {
	var pending []blocks.BlockRecord
	return db.Where("plain_text = ''").
		FindInBatches(&pending, backfillBatchSize, func(_ *gorm.DB, _ int) error {
			for _, record := range pending {
				block, err := record.Block()
				if err != nil {
					return err
				}
				plainText := projector.PlainText(block.Payload.Text)
				if plainText == "" {
					continue
				}
				err = db.Model(&blocks.BlockRecord{}).
					Where("block_id = ?", record.BlockID).
					Update("plain_text", plainText).Error
				if err != nil {
					return err
				}
			}
			return nil
		}).Error
}

// clearDividerText strips text left on blocks converted to dividers.
func clearDividerText(db *gorm.DB) error {
	var dividers []blocks.BlockRecord
	if err := db.Where("block_type = ?", blocks.TypeDivider.String()).Find(&dividers).Error; err != nil {
		return err
	}
	for _, record := range dividers {
		block, err := record.Block()
		if err != nil {
			return err
		}
		// Block() already normalized the payload; re-encoding drops the text.
		normalized, err := blocks.NewRecord(block)
		if err != nil {
			return err
		}
		if normalized.PayloadJSON == record.PayloadJSON && record.PlainText == "" {
			continue
		}
		err = db.Model(&blocks.BlockRecord{}).
			Where("block_id = ?", record.BlockID).
			Updates(map[string]any{"payload_json": normalized.PayloadJSON, "plain_text": ""}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

package blocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProjector  = errors.New("text projector is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "blocks.service.new"
	opListBlocks    = "blocks.list_blocks"
	opGetBlock      = "blocks.get_block"
	opCreateBlock   = "blocks.create_block"
	opUpdateBlock   = "blocks.update_block"
	opDeleteBlock   = "blocks.delete_block"
	opBatchReorder  = "blocks.batch_reorder"
	reorderStageKey = "stage"
)

// ServiceConfig wires the gorm-backed block store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Projector  TextProjector
	Logger     *zap.Logger
}

// Service implements Store on top of gorm.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	projector  TextProjector
	logger     *zap.Logger
}

var _ Store = (*Service)(nil)

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Projector == nil {
		return nil, NewServiceError(opServiceNew, "missing_projector", errMissingProjector)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		projector:  cfg.Projector,
		logger:     logger,
	}, nil
}

// ListBlocks returns every block of the page ordered by parent then position.
func (s *Service) ListBlocks(ctx context.Context, pageID PageID) ([]Block, error) {
	validPageID, err := NewPageID(pageID.String())
	if err != nil {
		return nil, NewServiceError(opListBlocks, "invalid_page_id", err)
	}

	var records []BlockRecord
	err = s.db.WithContext(ctx).
		Where("page_id = ?", validPageID.String()).
		Order("parent_block_id ASC").
		Order("position ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opListBlocks, "query_failed", err, zap.String("page_id", validPageID.String()))
		return nil, NewServiceError(opListBlocks, "query_failed", err)
	}

	result := make([]Block, 0, len(records))
	for _, record := range records {
		block, err := record.Block()
		if err != nil {
			s.logError(opListBlocks, "decode_failed", err, zap.String("block_id", record.BlockID))
			return nil, NewServiceError(opListBlocks, "decode_failed", err)
		}
		result = append(result, block)
	}
	return result, nil
}

// GetBlock loads a single block.
func (s *Service) GetBlock(ctx context.Context, id BlockID) (Block, error) {
	validID, err := NewBlockID(id.String())
	if err != nil {
		return Block{}, NewServiceError(opGetBlock, "invalid_block_id", err)
	}
	record, err := takeRecord(s.db.WithContext(ctx), validID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Block{}, NewServiceError(opGetBlock, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opGetBlock, "query_failed", err, zap.String("block_id", validID.String()))
		return Block{}, NewServiceError(opGetBlock, "query_failed", err)
	}
	block, err := record.Block()
	if err != nil {
		return Block{}, NewServiceError(opGetBlock, "decode_failed", err)
	}
	return block, nil
}

// CreateBlock stores a new block. Without an explicit position the block is
// appended after its last sibling.
func (s *Service) CreateBlock(ctx context.Context, request NewBlock) (Block, error) {
	if err := request.Validate(); err != nil {
		return Block{}, NewServiceError(opCreateBlock, "invalid_request", err)
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateBlock, "id_generation_failed", err)
		return Block{}, NewServiceError(opCreateBlock, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	payload := request.Payload.Normalize(request.Type)
	block := Block{
		ID:            BlockID(rawID),
		PageID:        request.PageID,
		ParentBlockID: request.ParentBlockID,
		Type:          request.Type,
		Payload:       payload,
		PlainText:     s.projector.PlainText(payload.Text),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	fields := []zap.Field{zap.String("page_id", block.PageID.String()), zap.String("block_id", block.ID.String())}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if block.ParentBlockID != "" {
			parent, err := takeRecord(tx, block.ParentBlockID)
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && parent.PageID != block.PageID.String()) {
				return NewServiceError(opCreateBlock, "invalid_parent",
					fmt.Errorf("%w: parent block %s is not on page %s", ErrValidation, block.ParentBlockID, block.PageID))
			}
			if err != nil {
				s.logError(opCreateBlock, "parent_select_failed", err, fields...)
				return NewServiceError(opCreateBlock, "parent_select_failed", err)
			}
		}

		if request.Position == nil {
			var maxPosition sql.NullInt64
			row := tx.Model(&BlockRecord{}).
				Select("MAX(position)").
				Where("page_id = ? AND parent_block_id = ?", block.PageID.String(), block.ParentBlockID.String()).
				Row()
			if err := row.Scan(&maxPosition); err != nil {
				s.logError(opCreateBlock, "position_select_failed", err, fields...)
				return NewServiceError(opCreateBlock, "position_select_failed", err)
			}
			if maxPosition.Valid {
				block.Position = int(maxPosition.Int64) + 1
			}
		} else {
			taken, err := positionTaken(tx, block.Siblings(), *request.Position, "")
			if err != nil {
				s.logError(opCreateBlock, "position_select_failed", err, fields...)
				return NewServiceError(opCreateBlock, "position_select_failed", err)
			}
			if taken {
				return NewServiceError(opCreateBlock, "position_taken",
					fmt.Errorf("%w: position %d already used by a sibling", ErrValidation, *request.Position))
			}
			block.Position = *request.Position
		}

		record, err := NewRecord(block)
		if err != nil {
			return NewServiceError(opCreateBlock, "encode_failed", err)
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreateBlock, "insert_failed", err, fields...)
			return NewServiceError(opCreateBlock, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Block{}, txErr
	}

	s.logger.Debug("block created", append(fields, zap.Int("position", block.Position))...)
	return block, nil
}

// UpdateBlock merges the patch into the stored block and recomputes its plain
// text.
func (s *Service) UpdateBlock(ctx context.Context, id BlockID, patch BlockPatch) (Block, error) {
	validID, err := NewBlockID(id.String())
	if err != nil {
		return Block{}, NewServiceError(opUpdateBlock, "invalid_block_id", err)
	}
	if err := patch.Validate(); err != nil {
		return Block{}, NewServiceError(opUpdateBlock, "invalid_request", err)
	}

	var updated Block
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := takeRecord(tx, validID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewServiceError(opUpdateBlock, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opUpdateBlock, "block_select_failed", err, zap.String("block_id", validID.String()))
			return NewServiceError(opUpdateBlock, "block_select_failed", err)
		}

		current, err := record.Block()
		if err != nil {
			return NewServiceError(opUpdateBlock, "decode_failed", err)
		}
		if patch.Type != nil {
			current.Type = *patch.Type
		}
		if patch.Payload != nil {
			current.Payload = patch.Payload.Apply(current.Payload)
		}
		current.Payload = current.Payload.Normalize(current.Type)
		if patch.Position != nil && *patch.Position != current.Position {
			taken, err := positionTaken(tx, current.Siblings(), *patch.Position, current.ID)
			if err != nil {
				s.logError(opUpdateBlock, "position_select_failed", err, zap.String("block_id", validID.String()))
				return NewServiceError(opUpdateBlock, "position_select_failed", err)
			}
			if taken {
				return NewServiceError(opUpdateBlock, "position_taken",
					fmt.Errorf("%w: position %d already used by a sibling", ErrValidation, *patch.Position))
			}
			current.Position = *patch.Position
		}
		current.PlainText = s.projector.PlainText(current.Payload.Text)
		current.UpdatedAt = s.clock().UTC()

		next, err := NewRecord(current)
		if err != nil {
			return NewServiceError(opUpdateBlock, "encode_failed", err)
		}
		err = tx.Model(&BlockRecord{}).
			Where("block_id = ?", validID.String()).
			Updates(map[string]any{
				"block_type":   next.BlockType,
				"payload_json": next.PayloadJSON,
				"plain_text":   next.PlainText,
				"position":     next.Position,
				"updated_at_s": next.UpdatedAtSeconds,
			}).Error
		if err != nil {
			s.logError(opUpdateBlock, "update_failed", err, zap.String("block_id", validID.String()))
			return NewServiceError(opUpdateBlock, "update_failed", err)
		}
		updated = current
		return nil
	})
	if txErr != nil {
		return Block{}, txErr
	}
	return updated, nil
}

// DeleteBlock removes the block. Children keep their parent reference.
func (s *Service) DeleteBlock(ctx context.Context, id BlockID) error {
	validID, err := NewBlockID(id.String())
	if err != nil {
		return NewServiceError(opDeleteBlock, "invalid_block_id", err)
	}
	result := s.db.WithContext(ctx).Where("block_id = ?", validID.String()).Delete(&BlockRecord{})
	if result.Error != nil {
		s.logError(opDeleteBlock, "delete_failed", result.Error, zap.String("block_id", validID.String()))
		return NewServiceError(opDeleteBlock, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		s.logger.Debug("block already absent", zap.String("block_id", validID.String()))
	}
	return nil
}

// BatchReorder applies every update in one transaction. Positions are first
// parked at negative values so intermediate states never collide with the
// sibling uniqueness index.
func (s *Service) BatchReorder(ctx context.Context, pageID PageID, updates []PositionUpdate) error {
	validPageID, err := NewPageID(pageID.String())
	if err != nil {
		return NewServiceError(opBatchReorder, "invalid_page_id", err)
	}
	if err := ValidatePositionUpdates(updates); err != nil {
		return NewServiceError(opBatchReorder, "invalid_request", err)
	}

	ids := make([]string, 0, len(updates))
	for _, update := range updates {
		ids = append(ids, update.ID.String())
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []BlockRecord
		if err := tx.Where("page_id = ? AND block_id IN ?", validPageID.String(), ids).Find(&records).Error; err != nil {
			s.logError(opBatchReorder, "block_select_failed", err, zap.String("page_id", validPageID.String()))
			return NewServiceError(opBatchReorder, "block_select_failed", err)
		}
		if len(records) != len(updates) {
			return NewServiceError(opBatchReorder, "not_found",
				fmt.Errorf("%w: %d of %d blocks missing from page %s", ErrNotFound, len(updates)-len(records), len(updates), validPageID))
		}

		parents := make(map[string]string, len(records))
		for _, record := range records {
			parents[record.BlockID] = record.ParentBlockID
		}
		if err := checkReorderGroups(tx, validPageID, updates, parents); err != nil {
			return err
		}

		for index, update := range updates {
			err := tx.Model(&BlockRecord{}).
				Where("block_id = ?", update.ID.String()).
				Update("position", -(index + 1)).Error
			if err != nil {
				s.logError(opBatchReorder, "update_failed", err, zap.String(reorderStageKey, "park"), zap.String("block_id", update.ID.String()))
				return NewServiceError(opBatchReorder, "update_failed", err)
			}
		}
		updatedAt := s.clock().UTC().Unix()
		for _, update := range updates {
			err := tx.Model(&BlockRecord{}).
				Where("block_id = ?", update.ID.String()).
				Updates(map[string]any{"position": update.Position, "updated_at_s": updatedAt}).Error
			if err != nil {
				s.logError(opBatchReorder, "update_failed", err, zap.String(reorderStageKey, "assign"), zap.String("block_id", update.ID.String()))
				return NewServiceError(opBatchReorder, "update_failed", err)
			}
		}
		return nil
	})
}

func checkReorderGroups(tx *gorm.DB, pageID PageID, updates []PositionUpdate, parents map[string]string) error {
	groups := make(map[string]map[int]BlockID)
	members := make(map[string][]string)
	for _, update := range updates {
		parent := parents[update.ID.String()]
		if groups[parent] == nil {
			groups[parent] = make(map[int]BlockID)
		}
		if other, duplicate := groups[parent][update.Position]; duplicate {
			return NewServiceError(opBatchReorder, "duplicate_position",
				fmt.Errorf("%w: blocks %s and %s both target position %d", ErrValidation, other, update.ID, update.Position))
		}
		groups[parent][update.Position] = update.ID
		members[parent] = append(members[parent], update.ID.String())
	}

	for parent, positions := range groups {
		var taken []int
		err := tx.Model(&BlockRecord{}).
			Where("page_id = ? AND parent_block_id = ? AND block_id NOT IN ?", pageID.String(), parent, members[parent]).
			Pluck("position", &taken).Error
		if err != nil {
			return NewServiceError(opBatchReorder, "sibling_select_failed", err)
		}
		for _, position := range taken {
			if id, collides := positions[position]; collides {
				return NewServiceError(opBatchReorder, "position_taken",
					fmt.Errorf("%w: position %d for block %s is held by a sibling outside the batch", ErrValidation, position, id))
			}
		}
	}
	return nil
}

func takeRecord(db *gorm.DB, id BlockID) (BlockRecord, error) {
	var record BlockRecord
	err := db.Where("block_id = ?", id.String()).Take(&record).Error
	return record, err
}

func positionTaken(db *gorm.DB, group Siblings, position int, exclude BlockID) (bool, error) {
	var count int64
	query := db.Model(&BlockRecord{}).
		Where("page_id = ? AND parent_block_id = ? AND position = ?", group.PageID.String(), group.ParentBlockID.String(), position)
	if exclude != "" {
		query = query.Where("block_id <> ?", exclude.String())
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("blocks service error", attrs...)
}

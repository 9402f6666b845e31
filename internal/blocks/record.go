package blocks

import (
	"encoding/json"
	"fmt"
	"time"
)

// BlockRecord is the persisted row of a block.
type BlockRecord struct {
	BlockID          string `gorm:"column:block_id;primaryKey;size:190;not null"`
	PageID           string `gorm:"column:page_id;size:190;not null;uniqueIndex:idx_blocks_sibling_position,priority:1"`
	ParentBlockID    string `gorm:"column:parent_block_id;size:190;not null;default:'';uniqueIndex:idx_blocks_sibling_position,priority:2"`
	Position         int    `gorm:"column:position;not null;uniqueIndex:idx_blocks_sibling_position,priority:3"`
	BlockType        string `gorm:"column:block_type;size:32;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	PlainText        string `gorm:"column:plain_text;type:text;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BlockRecord) TableName() string {
	return "blocks"
}

// NewRecord encodes a block into its persisted form.
func NewRecord(block Block) (BlockRecord, error) {
	encoded, err := json.Marshal(block.Payload)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("encode payload: %w", err)
	}
	return BlockRecord{
		BlockID:          block.ID.String(),
		PageID:           block.PageID.String(),
		ParentBlockID:    block.ParentBlockID.String(),
		Position:         block.Position,
		BlockType:        block.Type.String(),
		PayloadJSON:      string(encoded),
		PlainText:        block.PlainText,
		CreatedAtSeconds: block.CreatedAt.UTC().Unix(),
		UpdatedAtSeconds: block.UpdatedAt.UTC().Unix(),
	}, nil
}

// Block decodes the record.
func (r BlockRecord) Block() (Block, error) {
	var payload Payload
	if r.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(r.PayloadJSON), &payload); err != nil {
			return Block{}, fmt.Errorf("decode payload of block %s: %w", r.BlockID, err)
		}
	}
	blockType := Type(r.BlockType)
	return Block{
		ID:            BlockID(r.BlockID),
		PageID:        PageID(r.PageID),
		ParentBlockID: BlockID(r.ParentBlockID),
		Type:          blockType,
		Payload:       payload.Normalize(blockType),
		Position:      r.Position,
		PlainText:     r.PlainText,
		CreatedAt:     time.Unix(r.CreatedAtSeconds, 0).UTC(),
		UpdatedAt:     time.Unix(r.UpdatedAtSeconds, 0).UTC(),
	}, nil
}

package blocks

import "context"

// Store is the persistence contract consumed by the editor engine. Any backend
// honoring it is interchangeable.
type Store interface {
	// ListBlocks returns the page's blocks ordered by parent then position.
	ListBlocks(ctx context.Context, pageID PageID) ([]Block, error)
	// CreateBlock stores a new block and returns it with its assigned id.
	CreateBlock(ctx context.Context, request NewBlock) (Block, error)
	// UpdateBlock merges the patch into the stored block. It fails with
	// ErrNotFound when the block does not exist.
	UpdateBlock(ctx context.Context, id BlockID, patch BlockPatch) (Block, error)
	// DeleteBlock removes the block. Deleting an absent block succeeds.
	DeleteBlock(ctx context.Context, id BlockID) error
	// BatchReorder applies every position update atomically.
	BatchReorder(ctx context.Context, pageID PageID, updates []PositionUpdate) error
}

// TextProjector derives the searchable plain text of a block's markup.
type TextProjector interface {
	PlainText(rawHTML string) string
}

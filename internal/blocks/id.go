package blocks

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidBlockID indicates that a block identifier is empty or exceeds storage bounds.
	ErrInvalidBlockID = fmt.Errorf("%w: invalid block id", ErrValidation)
	// ErrInvalidPageID indicates that a page identifier is empty or exceeds storage bounds.
	ErrInvalidPageID = fmt.Errorf("%w: invalid page id", ErrValidation)
)

// BlockID represents a validated block identifier.
type BlockID string

// NewBlockID validates raw input and returns a BlockID.
func NewBlockID(rawInput string) (BlockID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBlockID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBlockID, maxIdentifierLength)
	}
	return BlockID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BlockID) String() string {
	return string(id)
}

// PageID represents a validated page identifier.
type PageID string

// NewPageID validates raw input and returns a PageID.
func NewPageID(rawInput string) (PageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPageID, maxIdentifierLength)
	}
	return PageID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PageID) String() string {
	return string(id)
}

// IDProvider issues identifiers for newly stored rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

package editor

import (
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
)

// SortSiblings orders blocks by position, breaking ties by id.
func SortSiblings(siblings []blocks.Block) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].Position != siblings[j].Position {
			return siblings[i].Position < siblings[j].Position
		}
		return siblings[i].ID < siblings[j].ID
	})
}

// Rank assigns every block its index in ordered as the new position and
// returns the full batch for the sibling group.
func Rank(ordered []blocks.Block) []blocks.PositionUpdate {
	updates := make([]blocks.PositionUpdate, 0, len(ordered))
	for index, block := range ordered {
		updates = append(updates, blocks.PositionUpdate{ID: block.ID, Position: index})
	}
	return updates
}

// Move returns siblings with the block at from moved to index to.
func Move(siblings []blocks.Block, from, to int) ([]blocks.Block, error) {
	if from < 0 || from >= len(siblings) {
		return nil, fmt.Errorf("%w: source index %d outside %d siblings", blocks.ErrValidation, from, len(siblings))
	}
	if to < 0 || to >= len(siblings) {
		return nil, fmt.Errorf("%w: target index %d outside %d siblings", blocks.ErrValidation, to, len(siblings))
	}
	moved := siblings[from]
	reordered := make([]blocks.Block, 0, len(siblings))
	for index, block := range siblings {
		if index != from {
			reordered = append(reordered, block)
		}
	}
	reordered = append(reordered[:to], append([]blocks.Block{moved}, reordered[to:]...)...)
	return reordered, nil
}

// Permute reorders siblings to follow ids, which must name every sibling
// exactly once.
func Permute(siblings []blocks.Block, ids []blocks.BlockID) ([]blocks.Block, error) {
	if len(ids) != len(siblings) {
		return nil, fmt.Errorf("%w: ordering names %d of %d siblings", blocks.ErrValidation, len(ids), len(siblings))
	}
	byID := make(map[blocks.BlockID]blocks.Block, len(siblings))
	for _, block := range siblings {
		byID[block.ID] = block
	}
	ordered := make([]blocks.Block, 0, len(ids))
	for _, id := range ids {
		block, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: block %s is not a sibling or appears twice", blocks.ErrValidation, id)
		}
		delete(byID, id)
		ordered = append(ordered, block)
	}
	return ordered, nil
}

// InsertAt computes the position for a block inserted after the sibling at
// afterPosition (nil appends, -1 inserts first) and the shifts needed for the
// siblings it displaces. siblings must be sorted.
func InsertAt(siblings []blocks.Block, afterPosition *int) (int, []blocks.PositionUpdate, error) {
	if afterPosition == nil {
		if len(siblings) == 0 {
			return 0, nil, nil
		}
		return siblings[len(siblings)-1].Position + 1, nil, nil
	}
	if *afterPosition < -1 {
		return 0, nil, fmt.Errorf("%w: insert position %d is before the first sibling", blocks.ErrValidation, *afterPosition)
	}
	position := *afterPosition + 1
	var shifts []blocks.PositionUpdate
	next := position
	for _, sibling := range siblings {
		if sibling.Position < position {
			continue
		}
		if sibling.Position > next {
			break
		}
		next = sibling.Position + 1
		shifts = append(shifts, blocks.PositionUpdate{ID: sibling.ID, Position: next})
	}
	return position, shifts, nil
}

// Indent returns the level one step deeper, clamped.
func Indent(level int) int {
	return blocks.ClampLevel(level + 1)
}

// Outdent returns the level one step shallower, clamped.
func Outdent(level int) int {
	return blocks.ClampLevel(level - 1)
}

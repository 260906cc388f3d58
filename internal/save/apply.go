package save

import (
	"context"
	"fmt"
	"slices"

	"hash/api/internal/entity"
)

// Receiver persists the entity side effects of a batch.
type Receiver interface {
	// InsertBlock creates the block entity (and its content entity) for an
	// insertion and returns the new list entry.
	InsertBlock(ctx context.Context, action InsertNewBlock) (entity.Block, error)
	UpdateEntity(ctx context.Context, action UpdateEntity) error
}

// Apply runs a batch against a block list in order and returns the new
// list. blocks is not modified.
func Apply(ctx context.Context, blocks []entity.Block, actions []Action, r Receiver) ([]entity.Block, error) {
	if err := ValidateBatch(actions); err != nil {
		return nil, err
	}
	list := slices.Clone(blocks)

	for i, action := range actions {
		switch {
		case action.RemoveBlock != nil:
			pos := action.RemoveBlock.Position
			if pos < 0 || pos >= len(list) {
				return nil, fmt.Errorf("%w: action %d: remove position %d out of range [0,%d)", ErrInvalidAction, i, pos, len(list))
			}
			list = slices.Delete(list, pos, pos+1)

		case action.MoveBlock != nil:
			from, to := action.MoveBlock.CurrentPosition, action.MoveBlock.NewPosition
			if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
				return nil, fmt.Errorf("%w: action %d: move %d->%d out of range [0,%d)", ErrInvalidAction, i, from, to, len(list))
			}
			block := list[from]
			list = slices.Delete(list, from, from+1)
			list = slices.Insert(list, to, block)

		case action.InsertNewBlock != nil:
			pos := action.InsertNewBlock.Position
			if pos < 0 || pos > len(list) {
				return nil, fmt.Errorf("%w: action %d: insert position %d out of range [0,%d]", ErrInvalidAction, i, pos, len(list))
			}
			block, err := r.InsertBlock(ctx, *action.InsertNewBlock)
			if err != nil {
				return nil, fmt.Errorf("insert block at %d: %w", pos, err)
			}
			list = slices.Insert(list, pos, block)

		case action.UpdateEntity != nil:
			update := *action.UpdateEntity
			if err := r.UpdateEntity(ctx, update); err != nil {
				return nil, fmt.Errorf("update entity %s: %w", update.EntityID, err)
			}
			if update.Properties.Kind != entity.KindBlock {
				continue
			}
			for j := range list {
				if list[j].EntityID == update.EntityID {
					list[j].ComponentID = update.Properties.Block.ComponentID
					list[j].Child = update.Properties.Block.Entity
				}
			}
		}
	}
	return list, nil
}

package save

import (
	"fmt"
	"slices"

	"hash/api/internal/editor"
	"hash/api/internal/entity"
	"hash/api/internal/systemtypes"
)

// CalculateSaveActions diffs the editor document against the last persisted
// block list of a page and returns the batch that reconciles the two.
//
// Actions come in four phases: removals, moves, insertions, updates. Each
// position is relative to the list produced by every earlier action of the
// batch, so the receiver must apply them in order. blocks is not modified.
func CalculateSaveActions(accountID string, doc editor.Node, schema editor.Schema, blocks []entity.Block, store entity.Store) ([]Action, error) {
	return calculate(accountID, editor.FindEntityNodes(doc, schema), blocks, store)
}

func calculate(accountID string, nodes []editor.EntityNode, blocks []entity.Block, store entity.Store) ([]Action, error) {
	blocks = slices.Clone(blocks)
	var actions []Action

	removals, blocks := removeBlocks(blocks, nodes)
	actions = append(actions, removals...)

	moves, blocks, err := moveBlocks(blocks, nodes)
	if err != nil {
		return nil, err
	}
	actions = append(actions, moves...)

	inserts, blocks := insertBlocks(blocks, nodes, accountID)
	actions = append(actions, inserts...)

	updates, err := updateBlocks(blocks, nodes, store)
	if err != nil {
		return nil, err
	}
	return append(actions, updates...), nil
}

func boundIDs(nodes []editor.EntityNode) map[string]struct{} {
	ids := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node.Bound() {
			ids[node.EntityID] = struct{}{}
		}
	}
	return ids
}

func blockIDs(blocks []entity.Block) map[string]struct{} {
	ids := make(map[string]struct{}, len(blocks))
	for _, block := range blocks {
		ids[block.EntityID] = struct{}{}
	}
	return ids
}

// removeBlocks drops blocks no longer present in the document. Every
// removal shifts the following ones left, so the i-th removal is emitted
// at its original position minus i.
func removeBlocks(blocks []entity.Block, nodes []editor.EntityNode) ([]Action, []entity.Block) {
	inDoc := boundIDs(nodes)
	var actions []Action
	kept := make([]entity.Block, 0, len(blocks))
	for position, block := range blocks {
		if _, ok := inDoc[block.EntityID]; ok {
			kept = append(kept, block)
			continue
		}
		actions = append(actions, Action{RemoveBlock: &RemoveBlock{Position: position - len(actions)}})
	}
	return actions, kept
}

// insertBlocks emits an insertion for every node not backed by a block of
// the list. The returned list is the input list: insertions are not
// applied to it, so the update phase only ever sees pre-existing blocks.
func insertBlocks(blocks []entity.Block, nodes []editor.EntityNode, accountID string) ([]Action, []entity.Block) {
	exists := blockIDs(blocks)
	var actions []Action
	for position, node := range nodes {
		if _, ok := exists[node.EntityID]; ok && node.Bound() {
			continue
		}
		actions = append(actions, Action{InsertNewBlock: &InsertNewBlock{
			Position:         position,
			ComponentID:      node.ComponentID(),
			AccountID:        accountID,
			EntityProperties: node.Properties(),
			// TODO: derive the system type once non-text blocks get their own content entities.
			SystemTypeName: systemtypes.Text,
		}})
	}
	return actions, blocks
}

// updateBlocks compares every node bound to an existing block with the
// saved entities. When a block appears more than once in the document the
// first node producing an update for an entity wins.
func updateBlocks(blocks []entity.Block, nodes []editor.EntityNode, store entity.Store) ([]Action, error) {
	existing := make(map[string]entity.Block, len(blocks))
	for _, block := range blocks {
		if _, ok := existing[block.EntityID]; !ok {
			existing[block.EntityID] = block
		}
	}

	var actions []Action
	seen := make(map[string]struct{})
	emit := func(update UpdateEntity) {
		if _, dup := seen[update.EntityID]; dup {
			return
		}
		seen[update.EntityID] = struct{}{}
		actions = append(actions, Action{UpdateEntity: &update})
	}

	for _, node := range nodes {
		if !node.Bound() {
			continue
		}
		block, ok := existing[node.EntityID]
		if !ok {
			continue
		}

		saved, ok := store.Lookup(node.EntityID)
		if !ok {
			return nil, fmt.Errorf("block %s: %w", node.EntityID, entity.ErrMissing)
		}
		props, err := saved.AsBlock()
		if err != nil {
			return nil, fmt.Errorf("saving block %s: %w", node.EntityID, err)
		}
		child, ok := store.Lookup(props.Entity.EntityID)
		if !ok {
			return nil, fmt.Errorf("child %s of block %s: %w", props.Entity.EntityID, node.EntityID, entity.ErrMissing)
		}

		componentID := node.ComponentID()
		if componentID != block.ComponentID {
			emit(UpdateEntity{
				EntityID:  saved.EntityID,
				AccountID: saved.AccountID,
				Properties: entity.BlockPayload(entity.BlockProperties{
					ComponentID: componentID,
					Entity:      child.Ref(),
				}),
			})
		}

		if !node.Spec.Textblock {
			continue
		}
		text, ok, err := entity.TextEntityFromBlock(saved, store)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: text entity missing for text block %s", ErrInvariantViolation, node.EntityID)
		}
		current, err := text.AsText()
		if err != nil {
			return nil, err
		}
		next := entity.TextProperties{Texts: node.Texts()}
		if !current.Equal(next) {
			emit(UpdateEntity{
				EntityID:   text.EntityID,
				AccountID:  text.AccountID,
				Properties: entity.TextPayload(next),
			})
		}
	}
	return actions, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"hash/api/internal/entity"
	"hash/api/internal/save"
	"hash/api/internal/systemtypes"
)

var ErrNotFound = errors.New("not found")

type CreateEntityParams struct {
	AccountID    string
	EntityTypeID string
	Versioned    bool
	Properties   entity.Properties
}

// entityWriter is the entity storage a page batch is applied through.
type entityWriter interface {
	createEntity(ctx context.Context, params CreateEntityParams) (entity.Entity, error)
	latestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error)
	updateProperties(ctx context.Context, current entity.Entity, props entity.Properties) (entity.Entity, error)
}

// pageReceiver creates and updates the entities behind a page batch.
type pageReceiver struct {
	w     entityWriter
	types *systemtypes.Registry
}

func (r pageReceiver) InsertBlock(ctx context.Context, action save.InsertNewBlock) (entity.Block, error) {
	contentTypeID, err := r.types.TypeID(action.SystemTypeName)
	if err != nil {
		return entity.Block{}, err
	}
	blockTypeID, err := r.types.TypeID(systemtypes.Block)
	if err != nil {
		return entity.Block{}, err
	}

	props := entity.TextProperties{Texts: []entity.TextRun{}}
	if action.EntityProperties != nil {
		props = *action.EntityProperties
	}
	content, err := r.w.createEntity(ctx, CreateEntityParams{
		AccountID:    action.AccountID,
		EntityTypeID: contentTypeID,
		Versioned:    true,
		Properties:   entity.TextPayload(props),
	})
	if err != nil {
		return entity.Block{}, fmt.Errorf("create block content: %w", err)
	}

	block, err := r.w.createEntity(ctx, CreateEntityParams{
		AccountID:    action.AccountID,
		EntityTypeID: blockTypeID,
		Versioned:    true,
		Properties: entity.BlockPayload(entity.BlockProperties{
			ComponentID: action.ComponentID,
			Entity:      content.Ref(),
		}),
	})
	if err != nil {
		return entity.Block{}, fmt.Errorf("create block: %w", err)
	}
	return entity.BlockFromEntity(block)
}

func (r pageReceiver) UpdateEntity(ctx context.Context, action save.UpdateEntity) error {
	current, err := r.w.latestVersion(ctx, action.AccountID, action.EntityID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("entity %s: %w", action.EntityID, ErrNotFound)
	}
	if current.Kind != action.Properties.Kind {
		return &entity.KindError{EntityID: current.EntityID, Want: action.Properties.Kind, Got: current.Kind}
	}
	_, err = r.w.updateProperties(ctx, *current, action.Properties)
	return err
}

// collectSnapshot loads the latest version of each block, its child and,
// for non-text children, the text entity the child links to.
func collectSnapshot(ctx context.Context, w entityWriter, blocks []entity.Block) (entity.Store, error) {
	var entities []entity.Entity
	load := func(accountID, entityID string) (*entity.Entity, error) {
		e, err := w.latestVersion(ctx, accountID, entityID)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
		}
		entities = append(entities, *e)
		return e, nil
	}

	for _, block := range blocks {
		if _, err := load(block.AccountID, block.EntityID); err != nil {
			return entity.Store{}, err
		}
		child, err := load(block.Child.AccountID, block.Child.EntityID)
		if err != nil {
			return entity.Store{}, err
		}
		if child.Kind == entity.KindOther && child.Other != nil && child.Other.Text != nil {
			if _, err := load(child.Other.Text.AccountID, child.Other.Text.EntityID); err != nil {
				return entity.Store{}, err
			}
		}
	}
	return entity.NewStore(entities...), nil
}

package save

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"hash/api/internal/editor"
	"hash/api/internal/entity"
)

// Mutator is the single mutation endpoint of the persistence layer.
type Mutator interface {
	UpdatePageContents(ctx context.Context, accountID, pageID string, actions []Action) (*entity.Page, error)
}

// Refetcher drops whatever the caller cached for a page so the next read
// pulls the new truth.
type Refetcher interface {
	Refetch(ctx context.Context, accountID, pageID string) error
}

// Saver sends the batch computed for an editor document in one round trip.
type Saver struct {
	mutator   Mutator
	refetcher Refetcher
	schema    editor.Schema
	logger    *log.Logger
}

func NewSaver(mutator Mutator, refetcher Refetcher, schema editor.Schema, logger *log.Logger) *Saver {
	return &Saver{mutator: mutator, refetcher: refetcher, schema: schema, logger: logger}
}

// UpdatePage reconciles a page with doc. On failure nothing is retried and
// the caller's state is left as it was.
func (s *Saver) UpdatePage(ctx context.Context, accountID, pageID string, doc editor.Node, blocks []entity.Block, store entity.Store) (entity.Page, error) {
	actions, err := CalculateSaveActions(accountID, doc, s.schema, blocks, store)
	if err != nil {
		return entity.Page{}, fmt.Errorf("calculate save actions: %w", err)
	}

	started := time.Now()
	page, err := s.mutator.UpdatePageContents(ctx, accountID, pageID, actions)
	if err != nil {
		s.logger.Error("page save failed", "account", accountID, "page", pageID, "actions", len(actions), "err", err)
		return entity.Page{}, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if page == nil {
		s.logger.Error("page save returned no data", "account", accountID, "page", pageID)
		return entity.Page{}, fmt.Errorf("%w: no page returned", ErrSaveFailed)
	}
	s.logger.Debug("page saved", "account", accountID, "page", pageID, "actions", len(actions), "took", time.Since(started))

	if s.refetcher != nil {
		if err := s.refetcher.Refetch(ctx, accountID, pageID); err != nil {
			s.logger.Warn("page refetch failed", "account", accountID, "page", pageID, "err", err)
		}
	}
	return *page, nil
}

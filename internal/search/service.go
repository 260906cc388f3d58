package search

import (
	"context"

	"github.com/charmbracelet/log"

	"hash/api/internal/entity"
)

// Indexer can push pages and blocks into a search index.
type Indexer interface {
	Healthy() bool
	IndexPages(pages []PageRecord) error
	IndexBlocks(blocks []BlockRecord) error
	DeleteBlock(id string) error
}

// RecordLoader reads every searchable record from primary storage.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PageRecord, []BlockRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   RecordLoader
	logger   *log.Logger
	// run executes index writes; they never block the caller.
	run func(func())
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured, pgfts may be nil when pages are not stored in Postgres.
func NewService(meili *Meili, pgfts *PgFTS, logger *log.Logger) *Service {
	s := &Service{logger: logger, run: func(fn func()) { go fn() }}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "err", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("pgfts error", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage indexes a saved page and drops blocks that left it
// (fire-and-forget).
func (s *Service) IndexPage(page entity.Page, snapshot entity.Store, removed []string) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	blocks := BlockRecords(page, snapshot)
	s.run(func() {
		if err := s.indexer.IndexPages([]PageRecord{{ID: page.EntityID, AccountID: page.AccountID, Title: page.Title}}); err != nil {
			s.logger.Warn("index page", "page", page.EntityID, "err", err)
		}
		if err := s.indexer.IndexBlocks(blocks); err != nil {
			s.logger.Warn("index blocks", "page", page.EntityID, "err", err)
		}
		for _, id := range removed {
			if err := s.indexer.DeleteBlock(id); err != nil {
				s.logger.Warn("delete block", "block", id, "err", err)
			}
		}
	})
}

// ReindexAll reads every page and block from Postgres and pushes them to
// Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.indexer == nil || !s.indexer.Healthy() || s.loader == nil {
		return
	}
	pages, blocks, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "err", err)
		return
	}
	if err := s.indexer.IndexPages(pages); err != nil {
		s.logger.Error("reindex pages", "err", err)
	}
	if err := s.indexer.IndexBlocks(blocks); err != nil {
		s.logger.Error("reindex blocks", "err", err)
	}
	s.logger.Info("search reindexed", "pages", len(pages), "blocks", len(blocks))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

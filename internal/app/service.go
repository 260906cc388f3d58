package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"hash/api/internal/cache"
	"hash/api/internal/editor"
	"hash/api/internal/entity"
	"hash/api/internal/link"
	"hash/api/internal/save"
	"hash/api/internal/search"
)

// DataStore is the page and link storage the service runs on.
type DataStore interface {
	link.Backend
	save.Mutator
	Ping(ctx context.Context) error
	CreatePage(ctx context.Context, accountID, title string) (entity.Page, error)
	GetPage(ctx context.Context, accountID, pageID string) (entity.Page, error)
	PageSnapshot(ctx context.Context, accountID, pageID string) (entity.Store, error)
}

type snapshotCache interface {
	Load(ctx context.Context, accountID, pageID string, fetch func(context.Context) (cache.Snapshot, error)) (cache.Snapshot, error)
	Refetch(ctx context.Context, accountID, pageID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexPage(page entity.Page, snapshot entity.Store, removed []string)
}

type Service struct {
	store     DataStore
	snapshots snapshotCache
	search    searchService
	saver     *save.Saver
	schema    editor.Schema
	logger    *log.Logger
}

// NewService wires the page service. snapshots and searchSvc are optional.
func NewService(store DataStore, snapshots *cache.SnapshotCache, searchSvc *search.Service, logger *log.Logger) *Service {
	s := &Service{store: store, schema: editor.DefaultSchema(), logger: logger}
	if snapshots != nil {
		s.snapshots = snapshots
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	s.initSaver()
	return s
}

func (s *Service) initSaver() {
	var refetcher save.Refetcher
	if s.snapshots != nil {
		refetcher = s.snapshots
	}
	s.saver = save.NewSaver(s.store, refetcher, s.schema, s.logger)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreatePage(ctx context.Context, accountID, title string) (entity.Page, error) {
	page, err := s.store.CreatePage(ctx, accountID, title)
	if err != nil {
		return entity.Page{}, err
	}
	s.logger.Info("page created", "account", accountID, "page", page.EntityID)
	s.index(page, entity.NewStore(), nil)
	return page, nil
}

// Page returns the page with the entities its blocks reference, from the
// snapshot cache when one is configured.
func (s *Service) Page(ctx context.Context, accountID, pageID string) (cache.Snapshot, error) {
	fetch := func(ctx context.Context) (cache.Snapshot, error) {
		page, err := s.store.GetPage(ctx, accountID, pageID)
		if err != nil {
			return cache.Snapshot{}, err
		}
		entities, err := s.store.PageSnapshot(ctx, accountID, pageID)
		if err != nil {
			return cache.Snapshot{}, err
		}
		return cache.Snapshot{Page: page, Entities: entities}, nil
	}
	if s.snapshots == nil {
		return fetch(ctx)
	}
	snapshot, err := s.snapshots.Load(ctx, accountID, pageID, fetch)
	if err != nil && snapshot.Page.EntityID != "" {
		// Fetched but not cached.
		s.logger.Warn("cache page snapshot", "account", accountID, "page", pageID, "err", err)
		return snapshot, nil
	}
	return snapshot, err
}

// Document renders the stored page as an editor document.
func (s *Service) Document(ctx context.Context, accountID, pageID string) (editor.Node, error) {
	snapshot, err := s.Page(ctx, accountID, pageID)
	if err != nil {
		return editor.Node{}, err
	}
	return editor.FromPage(snapshot.Page.Contents, snapshot.Entities, s.schema)
}

// SavePage reconciles the stored page with doc in one batch.
func (s *Service) SavePage(ctx context.Context, accountID, pageID string, doc editor.Node) (entity.Page, error) {
	before, err := s.Page(ctx, accountID, pageID)
	if err != nil {
		return entity.Page{}, err
	}
	page, err := s.saver.UpdatePage(ctx, accountID, pageID, doc, before.Page.Contents, before.Entities)
	if err != nil {
		return entity.Page{}, err
	}
	s.reindex(ctx, before.Page.Contents, page)
	return page, nil
}

// ApplyActions persists a precomputed batch.
func (s *Service) ApplyActions(ctx context.Context, accountID, pageID string, actions []save.Action) (entity.Page, error) {
	if err := save.ValidateBatch(actions); err != nil {
		return entity.Page{}, err
	}
	before, err := s.store.GetPage(ctx, accountID, pageID)
	if err != nil {
		return entity.Page{}, err
	}
	page, err := s.store.UpdatePageContents(ctx, accountID, pageID, actions)
	if err != nil {
		return entity.Page{}, err
	}
	if page == nil {
		return entity.Page{}, fmt.Errorf("%w: no page returned", save.ErrSaveFailed)
	}
	if s.snapshots != nil {
		if err := s.snapshots.Refetch(ctx, accountID, pageID); err != nil {
			s.logger.Warn("page refetch failed", "account", accountID, "page", pageID, "err", err)
		}
	}
	s.reindex(ctx, before.Contents, *page)
	return *page, nil
}

func (s *Service) reindex(ctx context.Context, before []entity.Block, page entity.Page) {
	if s.search == nil {
		return
	}
	entities, err := s.store.PageSnapshot(ctx, page.AccountID, page.EntityID)
	if err != nil {
		s.logger.Warn("load page for indexing", "page", page.EntityID, "err", err)
		return
	}
	kept := make(map[string]struct{}, len(page.Contents))
	for _, block := range page.Contents {
		kept[block.EntityID] = struct{}{}
	}
	var removed []string
	for _, block := range before {
		if _, ok := kept[block.EntityID]; !ok {
			removed = append(removed, block.EntityID)
		}
	}
	s.index(page, entities, removed)
}

func (s *Service) index(page entity.Page, entities entity.Store, removed []string) {
	if s.search != nil {
		s.search.IndexPage(page, entities, removed)
	}
}

type CreateLinkInput struct {
	Path                       string `json:"path"`
	SourceAccountID            string `json:"sourceAccountId"`
	SourceEntityID             string `json:"sourceEntityId"`
	DestinationAccountID       string `json:"destinationAccountId"`
	DestinationEntityID        string `json:"destinationEntityId"`
	DestinationEntityVersionID string `json:"destinationEntityVersionId,omitempty"`
}

func (s *Service) latestEntity(ctx context.Context, accountID, entityID, role string) (*entity.Entity, error) {
	e, err := s.store.GetEntityLatestVersion(ctx, accountID, entityID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s entity %s not found", role, entityID), nil)
	}
	return e, nil
}

func (s *Service) CreateLink(ctx context.Context, input CreateLinkInput) (*link.Link, error) {
	if err := link.ValidatePath(input.Path); err != nil {
		return nil, err
	}
	source, err := s.latestEntity(ctx, input.SourceAccountID, input.SourceEntityID, "source")
	if err != nil {
		return nil, err
	}
	destination, err := s.latestEntity(ctx, input.DestinationAccountID, input.DestinationEntityID, "destination")
	if err != nil {
		return nil, err
	}
	created, err := link.Create(ctx, s.store, link.CreateArgs{
		Path:               input.Path,
		Source:             source,
		Destination:        destination,
		DstEntityVersionID: input.DestinationEntityVersionID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("link created", "account", created.AccountID, "link", created.LinkID, "path", created.Path)
	return created, nil
}

// LinkView is a link with its endpoints resolved.
type LinkView struct {
	link.Record
	Source      *entity.Entity `json:"source"`
	Destination *entity.Entity `json:"destination"`
}

func (s *Service) GetLink(ctx context.Context, accountID, linkID string) (LinkView, error) {
	l, err := s.loadLink(ctx, accountID, linkID)
	if err != nil {
		return LinkView{}, err
	}
	source, err := l.Source(ctx, s.store)
	if err != nil {
		return LinkView{}, err
	}
	destination, err := l.Destination(ctx, s.store)
	if err != nil {
		return LinkView{}, err
	}
	return LinkView{Record: l.Record, Source: source, Destination: destination}, nil
}

func (s *Service) DeleteLink(ctx context.Context, accountID, linkID string) error {
	l, err := s.loadLink(ctx, accountID, linkID)
	if err != nil {
		return err
	}
	if err := l.Delete(ctx, s.store); err != nil {
		return err
	}
	s.logger.Info("link deleted", "account", accountID, "link", linkID)
	return nil
}

func (s *Service) loadLink(ctx context.Context, accountID, linkID string) (*link.Link, error) {
	l, err := link.Get(ctx, s.store, accountID, linkID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("link %s not found", linkID), nil)
	}
	return l, nil
}

// OutgoingLinks lists the links of the latest version of an entity.
func (s *Service) OutgoingLinks(ctx context.Context, accountID, entityID string) ([]link.Record, error) {
	source, err := s.latestEntity(ctx, accountID, entityID, "source")
	if err != nil {
		return nil, err
	}
	links, err := link.Outgoing(ctx, s.store, *source)
	if err != nil {
		return nil, err
	}
	records := make([]link.Record, 0, len(links))
	for _, l := range links {
		records = append(records, l.Record)
	}
	return records, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

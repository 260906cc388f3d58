package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"hash/api/internal/entity"
	"hash/api/internal/link"
	"hash/api/internal/save"
	"hash/api/internal/systemtypes"
	"hash/api/internal/util"
)

// MemoryStore is an in-process implementation of the page and link storage,
// used as the reference receiver in tests and for local development.
type MemoryStore struct {
	mu    sync.Mutex
	types *systemtypes.Registry
	now   func() time.Time
	state memoryState
}

type memoryState struct {
	versions map[string]entity.Entity // by entity version id
	history  map[string][]string      // entity key -> version ids, oldest first
	links    map[string]link.Record   // link key -> record
	pages    map[string]entity.Page   // page key -> page
}

func key(accountID, id string) string {
	return accountID + "/" + id
}

func NewMemoryStore(types *systemtypes.Registry) *MemoryStore {
	return &MemoryStore{
		types: types,
		now:   func() time.Time { return time.Now().UTC() },
		state: memoryState{
			versions: map[string]entity.Entity{},
			history:  map[string][]string{},
			links:    map[string]link.Record{},
			pages:    map[string]entity.Page{},
		},
	}
}

func (s memoryState) clone() memoryState {
	history := make(map[string][]string, len(s.history))
	for k, v := range s.history {
		history[k] = slices.Clone(v)
	}
	links := make(map[string]link.Record, len(s.links))
	for k, v := range s.links {
		v.SrcEntityVersionIDs = slices.Clone(v.SrcEntityVersionIDs)
		links[k] = v
	}
	return memoryState{
		versions: maps.Clone(s.versions),
		history:  history,
		links:    links,
		pages:    maps.Clone(s.pages),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// memoryWriter applies writes to the state of a locked MemoryStore.
type memoryWriter struct {
	s *MemoryStore
}

func (w memoryWriter) createEntity(_ context.Context, params CreateEntityParams) (entity.Entity, error) {
	if err := params.Properties.Validate(); err != nil {
		return entity.Entity{}, err
	}
	e := entity.Entity{
		AccountID:       params.AccountID,
		EntityID:        util.NewID(""),
		EntityVersionID: util.NewID(""),
		EntityTypeID:    params.EntityTypeID,
		Versioned:       params.Versioned,
		CreatedAt:       w.s.now(),
		Properties:      params.Properties,
	}
	w.s.state.versions[e.EntityVersionID] = e
	w.s.state.history[key(e.AccountID, e.EntityID)] = []string{e.EntityVersionID}
	return e, nil
}

func (w memoryWriter) latestVersion(_ context.Context, accountID, entityID string) (*entity.Entity, error) {
	ids := w.s.state.history[key(accountID, entityID)]
	if len(ids) == 0 {
		return nil, nil
	}
	e := w.s.state.versions[ids[len(ids)-1]]
	return &e, nil
}

func (w memoryWriter) updateProperties(ctx context.Context, current entity.Entity, props entity.Properties) (entity.Entity, error) {
	return w.newVersion(ctx, current, props, "")
}

// newVersion writes props to current. For versioned entities a new version
// is cut and every link valid for the previous latest version, except
// dropLinkID, is carried forward to it.
func (w memoryWriter) newVersion(ctx context.Context, current entity.Entity, props entity.Properties, dropLinkID string) (entity.Entity, error) {
	if err := props.Validate(); err != nil {
		return entity.Entity{}, err
	}
	latest, err := w.latestVersion(ctx, current.AccountID, current.EntityID)
	if err != nil {
		return entity.Entity{}, err
	}
	if latest == nil {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", current.EntityID, ErrNotFound)
	}

	next := *latest
	next.Properties = props
	if !latest.Versioned {
		w.s.state.versions[next.EntityVersionID] = next
		return next, nil
	}

	next.EntityVersionID = util.NewID("")
	next.CreatedAt = w.s.now()
	w.s.state.versions[next.EntityVersionID] = next
	k := key(next.AccountID, next.EntityID)
	w.s.state.history[k] = append(w.s.state.history[k], next.EntityVersionID)

	for lk, record := range w.s.state.links {
		if record.LinkID == dropLinkID || !record.ValidFor(latest.EntityVersionID) {
			continue
		}
		record.SrcEntityVersionIDs = append(slices.Clone(record.SrcEntityVersionIDs), next.EntityVersionID)
		w.s.state.links[lk] = record
	}
	return next, nil
}

// CreateEntity persists a new entity.
func (s *MemoryStore) CreateEntity(ctx context.Context, params CreateEntityParams) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryWriter{s}.createEntity(ctx, params)
}

func (s *MemoryStore) GetEntityLatestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryWriter{s}.latestVersion(ctx, accountID, entityID)
}

func (s *MemoryStore) GetEntityVersion(_ context.Context, accountID, entityVersionID string) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.versions[entityVersionID]
	if !ok || e.AccountID != accountID {
		return nil, nil
	}
	return &e, nil
}

// EntityVersions lists the version ids of an entity, oldest first.
func (s *MemoryStore) EntityVersions(_ context.Context, accountID, entityID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.history[key(accountID, entityID)]), nil
}

func (s *MemoryStore) UpdateEntityProperties(ctx context.Context, e entity.Entity, props entity.Properties) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryWriter{s}.updateProperties(ctx, e, props)
}

func (s *MemoryStore) CreateLink(_ context.Context, params link.CreateParams) (link.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := link.Record{
		AccountID:           params.AccountID,
		LinkID:              util.NewID(""),
		Path:                params.Path,
		SrcAccountID:        params.SrcAccountID,
		SrcEntityID:         params.SrcEntityID,
		SrcEntityVersionIDs: slices.Clone(params.SrcEntityVersionIDs),
		DstAccountID:        params.DstAccountID,
		DstEntityID:         params.DstEntityID,
		DstEntityVersionID:  params.DstEntityVersionID,
		CreatedAt:           s.now(),
	}
	s.state.links[key(record.AccountID, record.LinkID)] = record
	return record, nil
}

// liveLink returns a link only while it is valid for the latest version of
// its source.
func (s *MemoryStore) liveLink(accountID, linkID string) (link.Record, bool) {
	record, ok := s.state.links[key(accountID, linkID)]
	if !ok {
		return link.Record{}, false
	}
	ids := s.state.history[key(record.SrcAccountID, record.SrcEntityID)]
	if len(ids) == 0 || !record.ValidFor(ids[len(ids)-1]) {
		return link.Record{}, false
	}
	return record, true
}

func (s *MemoryStore) GetLink(_ context.Context, accountID, linkID string) (*link.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.liveLink(accountID, linkID)
	if !ok {
		return nil, nil
	}
	record.SrcEntityVersionIDs = slices.Clone(record.SrcEntityVersionIDs)
	return &record, nil
}

// DeleteLink removes a link from its source. A versioned source gets a new
// version without the link, keeping the link in the older versions.
func (s *MemoryStore) DeleteLink(ctx context.Context, accountID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.liveLink(accountID, linkID)
	if !ok {
		return fmt.Errorf("link %s: %w", linkID, ErrNotFound)
	}
	w := memoryWriter{s}
	source, err := w.latestVersion(ctx, record.SrcAccountID, record.SrcEntityID)
	if err != nil {
		return err
	}
	if source == nil || !source.Versioned {
		delete(s.state.links, key(accountID, linkID))
		return nil
	}
	_, err = w.newVersion(ctx, *source, source.Properties, linkID)
	return err
}

func (s *MemoryStore) OutgoingLinks(_ context.Context, accountID, entityVersionID string) ([]link.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []link.Record
	for _, record := range s.state.links {
		if record.SrcAccountID == accountID && record.ValidFor(entityVersionID) {
			record.SrcEntityVersionIDs = slices.Clone(record.SrcEntityVersionIDs)
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].LinkID < out[j].LinkID) })
	return out, nil
}

func (s *MemoryStore) CreatePage(ctx context.Context, accountID, title string) (entity.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	typeID, err := s.types.TypeID(systemtypes.Page)
	if err != nil {
		return entity.Page{}, err
	}
	e, err := memoryWriter{s}.createEntity(ctx, CreateEntityParams{
		AccountID:    accountID,
		EntityTypeID: typeID,
		Versioned:    true,
		Properties:   entity.OtherPayload(entity.OtherProperties{Values: map[string]any{"title": title}}),
	})
	if err != nil {
		return entity.Page{}, err
	}
	page := entity.Page{AccountID: accountID, EntityID: e.EntityID, Title: title, Contents: []entity.Block{}, UpdatedAt: e.CreatedAt}
	s.state.pages[key(accountID, page.EntityID)] = page
	return page, nil
}

func (s *MemoryStore) GetPage(_ context.Context, accountID, pageID string) (entity.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.state.pages[key(accountID, pageID)]
	if !ok {
		return entity.Page{}, fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	page.Contents = slices.Clone(page.Contents)
	return page, nil
}

// PageSnapshot returns the latest version of every entity the page's blocks
// reference.
func (s *MemoryStore) PageSnapshot(ctx context.Context, accountID, pageID string) (entity.Store, error) {
	page, err := s.GetPage(ctx, accountID, pageID)
	if err != nil {
		return entity.Store{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return collectSnapshot(ctx, memoryWriter{s}, page.Contents)
}

// UpdatePageContents applies a batch atomically: on any error the store is
// left untouched.
func (s *MemoryStore) UpdatePageContents(ctx context.Context, accountID, pageID string, actions []save.Action) (*entity.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.state.pages[key(accountID, pageID)]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}

	saved := s.state.clone()
	contents, err := save.Apply(ctx, page.Contents, actions, pageReceiver{w: memoryWriter{s}, types: s.types})
	if err != nil {
		s.state = saved
		return nil, err
	}
	page.Contents = contents
	page.UpdatedAt = s.now()
	s.state.pages[key(accountID, pageID)] = page

	out := page
	out.Contents = slices.Clone(contents)
	return &out, nil
}

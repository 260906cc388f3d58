package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"hash/api/internal/entity"
)

// fakeBackend keeps entity versions and links in maps. Versioned updates
// append a new version; the function fields override single calls.
type fakeBackend struct {
	versions map[string]entity.Entity
	latest   map[string]string
	links    map[string]Record
	seq      int

	getEntityLatestVersionFn func(context.Context, string, string) (*entity.Entity, error)
	deleteLinkFn             func(context.Context, string, string) error
	deleted                  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		versions: map[string]entity.Entity{},
		latest:   map[string]string{},
		links:    map[string]Record{},
	}
}

func (f *fakeBackend) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeBackend) add(entityID string, versioned bool) entity.Entity {
	e := entity.Entity{
		AccountID:       "acc-1",
		EntityID:        entityID,
		EntityVersionID: f.nextID("ver"),
		Versioned:       versioned,
		Properties:      entity.TextPayload(entity.TextProperties{Texts: []entity.TextRun{{Text: entityID}}}),
	}
	f.versions[e.EntityVersionID] = e
	f.latest[entityID] = e.EntityVersionID
	return e
}

func (f *fakeBackend) CreateLink(_ context.Context, params CreateParams) (Record, error) {
	record := Record{
		AccountID:           params.AccountID,
		LinkID:              f.nextID("link"),
		Path:                params.Path,
		SrcAccountID:        params.SrcAccountID,
		SrcEntityID:         params.SrcEntityID,
		SrcEntityVersionIDs: params.SrcEntityVersionIDs,
		DstAccountID:        params.DstAccountID,
		DstEntityID:         params.DstEntityID,
		DstEntityVersionID:  params.DstEntityVersionID,
	}
	f.links[record.LinkID] = record
	return record, nil
}

func (f *fakeBackend) GetLink(_ context.Context, _, linkID string) (*Record, error) {
	record, ok := f.links[linkID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *fakeBackend) DeleteLink(ctx context.Context, accountID, linkID string) error {
	if f.deleteLinkFn != nil {
		return f.deleteLinkFn(ctx, accountID, linkID)
	}
	record, ok := f.links[linkID]
	if !ok {
		return errors.New("no such link")
	}
	delete(f.links, linkID)
	f.deleted = append(f.deleted, linkID)
	source := f.versions[f.latest[record.SrcEntityID]]
	if source.Versioned {
		f.cut(source, source.Properties)
	}
	return nil
}

func (f *fakeBackend) OutgoingLinks(_ context.Context, _, entityVersionID string) ([]Record, error) {
	var out []Record
	for _, record := range f.links {
		if record.ValidFor(entityVersionID) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeBackend) GetEntityLatestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error) {
	if f.getEntityLatestVersionFn != nil {
		return f.getEntityLatestVersionFn(ctx, accountID, entityID)
	}
	versionID, ok := f.latest[entityID]
	if !ok {
		return nil, nil
	}
	e := f.versions[versionID]
	return &e, nil
}

func (f *fakeBackend) GetEntityVersion(_ context.Context, _, entityVersionID string) (*entity.Entity, error) {
	e, ok := f.versions[entityVersionID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeBackend) UpdateEntityProperties(_ context.Context, e entity.Entity, props entity.Properties) (entity.Entity, error) {
	if !e.Versioned {
		e.Properties = props
		f.versions[e.EntityVersionID] = e
		return e, nil
	}
	return f.cut(e, props), nil
}

func (f *fakeBackend) cut(e entity.Entity, props entity.Properties) entity.Entity {
	previous := e.EntityVersionID
	e.EntityVersionID = f.nextID("ver")
	e.Properties = props
	f.versions[e.EntityVersionID] = e
	f.latest[e.EntityID] = e.EntityVersionID
	for id, record := range f.links {
		if record.ValidFor(previous) {
			record.SrcEntityVersionIDs = append(record.SrcEntityVersionIDs, e.EntityVersionID)
			f.links[id] = record
		}
	}
	return e
}

func cached(l *Link) (source, destination bool) {
	return l.source != nil, l.destination != nil
}

func TestCreateRejectsInvalidPath(t *testing.T) {
	backend := newFakeBackend()
	source := backend.add("src", false)
	destination := backend.add("dst", false)

	_, err := Create(context.Background(), backend, CreateArgs{Path: "$..members", Source: &source, Destination: &destination})
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if len(backend.links) != 0 {
		t.Errorf("expected no link persisted, got %d", len(backend.links))
	}
}

func TestCreateOnVersionedSourceCutsVersion(t *testing.T) {
	backend := newFakeBackend()
	source := backend.add("src", true)
	destination := backend.add("dst", false)
	before := source.EntityVersionID

	l, err := Create(context.Background(), backend, CreateArgs{Path: "$.memberOf", Source: &source, Destination: &destination})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if source.EntityVersionID == before {
		t.Fatalf("expected source to move to a new version")
	}
	if !l.ValidFor(source.EntityVersionID) {
		t.Errorf("link should be valid for %s, got %v", source.EntityVersionID, l.SrcEntityVersionIDs)
	}
	if l.ValidFor(before) {
		t.Errorf("link should not apply to the version before it was created")
	}
	if src, dst := cached(l); !src || !dst {
		t.Errorf("expected endpoints cached after create, got %v %v", src, dst)
	}
}

func TestCreateOnUnversionedSourceKeepsVersion(t *testing.T) {
	backend := newFakeBackend()
	source := backend.add("src", false)
	destination := backend.add("dst", false)
	before := source.EntityVersionID

	l, err := Create(context.Background(), backend, CreateArgs{Path: "$[0]", Source: &source, Destination: &destination})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if source.EntityVersionID != before {
		t.Errorf("unversioned source changed version to %s", source.EntityVersionID)
	}
	if len(l.SrcEntityVersionIDs) != 1 || l.SrcEntityVersionIDs[0] != before {
		t.Errorf("unexpected source versions %v", l.SrcEntityVersionIDs)
	}
}

func TestCreateRejectsForeignPinnedVersion(t *testing.T) {
	backend := newFakeBackend()
	source := backend.add("src", false)
	destination := backend.add("dst", false)
	other := backend.add("other", false)

	cases := []struct {
		name      string
		versionID string
	}{
		{"unknown version", "ver-missing"},
		{"version of another entity", other.EntityVersionID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Create(context.Background(), backend, CreateArgs{
				Path:               "$.memberOf",
				Source:             &source,
				Destination:        &destination,
				DstEntityVersionID: tc.versionID,
			})
			if !errors.Is(err, ErrInvalidDestination) {
				t.Fatalf("expected ErrInvalidDestination, got %v", err)
			}
		})
	}
}

func TestCreateRequiresEndpoints(t *testing.T) {
	backend := newFakeBackend()
	source := backend.add("src", false)

	_, err := Create(context.Background(), backend, CreateArgs{Path: "$.memberOf", Source: &source})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestGetMissingLinkReturnsNil(t *testing.T) {
	l, err := Get(context.Background(), newFakeBackend(), "acc-1", "link-404")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if l != nil {
		t.Fatalf("expected nil link, got %+v", l)
	}
}

func TestDestinationFollowsLatestUnlessPinned(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	source := backend.add("src", false)
	destination := backend.add("dst", true)
	pinnedVersion := destination.EntityVersionID

	floating, err := Create(ctx, backend, CreateArgs{Path: "$.memberOf", Source: &source, Destination: &destination})
	if err != nil {
		t.Fatalf("Create floating failed: %v", err)
	}
	pinned, err := Create(ctx, backend, CreateArgs{Path: "$.memberOf", Source: &source, Destination: &destination, DstEntityVersionID: pinnedVersion})
	if err != nil {
		t.Fatalf("Create pinned failed: %v", err)
	}

	updated, err := backend.UpdateEntityProperties(ctx, destination, entity.TextPayload(entity.TextProperties{Texts: []entity.TextRun{{Text: "renamed"}}}))
	if err != nil {
		t.Fatalf("update destination failed: %v", err)
	}

	loadedFloating, _ := Get(ctx, backend, "acc-1", floating.LinkID)
	got, err := loadedFloating.Destination(ctx, backend)
	if err != nil {
		t.Fatalf("Destination failed: %v", err)
	}
	if got.EntityVersionID != updated.EntityVersionID {
		t.Errorf("floating destination = %s, want latest %s", got.EntityVersionID, updated.EntityVersionID)
	}

	loadedPinned, _ := Get(ctx, backend, "acc-1", pinned.LinkID)
	got, err = loadedPinned.Destination(ctx, backend)
	if err != nil {
		t.Fatalf("Destination failed: %v", err)
	}
	if got.EntityVersionID != pinnedVersion {
		t.Errorf("pinned destination = %s, want %s", got.EntityVersionID, pinnedVersion)
	}
}

func TestEndpointsAreResolvedOnce(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.add("src", false)
	backend.links["link-1"] = Record{AccountID: "acc-1", LinkID: "link-1", Path: "$.a", SrcAccountID: "acc-1", SrcEntityID: "src", DstAccountID: "acc-1", DstEntityID: "src"}

	calls := 0
	backend.getEntityLatestVersionFn = func(_ context.Context, _, entityID string) (*entity.Entity, error) {
		calls++
		e := backend.versions[backend.latest[entityID]]
		return &e, nil
	}

	l, _ := Get(ctx, backend, "acc-1", "link-1")
	for range 3 {
		if _, err := l.Source(ctx, backend); err != nil {
			t.Fatalf("Source failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one lookup, got %d", calls)
	}
}

func TestMissingEndpointIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.links["link-9"] = Record{AccountID: "acc-1", LinkID: "link-9", Path: "$.a", SrcAccountID: "acc-1", SrcEntityID: "gone", DstAccountID: "acc-1", DstEntityID: "gone-too"}
	l, _ := Get(ctx, backend, "acc-1", "link-9")

	_, err := l.Source(ctx, backend)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for source, got %v", err)
	}
	if !strings.Contains(err.Error(), "acc-1") || !strings.Contains(err.Error(), "link-9") {
		t.Errorf("error should name account and link: %v", err)
	}

	_, err = l.Destination(ctx, backend)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for destination, got %v", err)
	}
	if !strings.Contains(err.Error(), "destination") {
		t.Errorf("error should name the destination: %v", err)
	}
}

func TestDeleteRefreshesCachedSource(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	source := backend.add("src", true)
	destination := backend.add("dst", false)

	l, err := Create(ctx, backend, CreateArgs{Path: "$.memberOf", Source: &source, Destination: &destination})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	withLink := source.EntityVersionID

	if err := l.Delete(ctx, backend); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if source.EntityVersionID == withLink {
		t.Errorf("expected source refreshed past %s", withLink)
	}
	if src, dst := cached(l); src || dst {
		t.Errorf("expected caches cleared, got %v %v", src, dst)
	}
	if len(backend.deleted) != 1 {
		t.Errorf("expected one delete, got %v", backend.deleted)
	}
}

func TestDeleteFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	source := backend.add("src", false)
	destination := backend.add("dst", false)
	l, err := Create(ctx, backend, CreateArgs{Path: "$.memberOf", Source: &source, Destination: &destination})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	backend.deleteLinkFn = func(context.Context, string, string) error { return errors.New("boom") }
	if err := l.Delete(ctx, backend); err == nil {
		t.Fatalf("expected delete error")
	}
	if src, _ := cached(l); !src {
		t.Errorf("source cache should survive a failed delete")
	}
}

func TestOutgoingListsLinksForVersion(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	source := backend.add("src", true)
	destination := backend.add("dst", false)
	original := source

	if _, err := Create(ctx, backend, CreateArgs{Path: "$.a", Source: &source, Destination: &destination}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	links, err := Outgoing(ctx, backend, source)
	if err != nil {
		t.Fatalf("Outgoing failed: %v", err)
	}
	if len(links) != 1 {
		t.Errorf("expected one link on the new version, got %d", len(links))
	}
	links, err = Outgoing(ctx, backend, original)
	if err != nil {
		t.Fatalf("Outgoing failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("expected no links on the original version, got %d", len(links))
	}
}

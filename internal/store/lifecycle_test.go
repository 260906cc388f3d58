package store

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"hash/api/internal/editor"
	"hash/api/internal/entity"
	"hash/api/internal/link"
	"hash/api/internal/save"
	"hash/api/internal/systemtypes"
)

// backend is the surface shared by the memory and Postgres stores.
type backend interface {
	link.Backend
	save.Mutator
	CreateEntity(ctx context.Context, params CreateEntityParams) (entity.Entity, error)
	EntityVersions(ctx context.Context, accountID, entityID string) ([]string, error)
	CreatePage(ctx context.Context, accountID, title string) (entity.Page, error)
	GetPage(ctx context.Context, accountID, pageID string) (entity.Page, error)
	PageSnapshot(ctx context.Context, accountID, pageID string) (entity.Store, error)
}

func testRegistry(t *testing.T) *systemtypes.Registry {
	t.Helper()
	types := systemtypes.NewRegistry()
	if err := types.Init(map[systemtypes.Name]string{
		systemtypes.Block: "type-block",
		systemtypes.Page:  "type-page",
		systemtypes.Text:  "type-text",
	}); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	return types
}

func textEntity(t *testing.T, b backend, accountID string, versioned bool, text string) entity.Entity {
	t.Helper()
	e, err := b.CreateEntity(context.Background(), CreateEntityParams{
		AccountID:    accountID,
		EntityTypeID: typeIDFor(t, b, systemtypes.Text),
		Versioned:    versioned,
		Properties:   entity.TextPayload(entity.TextProperties{Texts: []entity.TextRun{{Text: text}}}),
	})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return e
}

func typeIDFor(t *testing.T, b backend, name systemtypes.Name) string {
	t.Helper()
	var types *systemtypes.Registry
	switch s := b.(type) {
	case *MemoryStore:
		types = s.types
	case *PostgresStore:
		types = s.types
	}
	id, err := types.TypeID(name)
	if err != nil {
		t.Fatalf("type id %s: %v", name, err)
	}
	return id
}

func countOutgoing(t *testing.T, b backend, accountID, versionID string) int {
	t.Helper()
	records, err := b.OutgoingLinks(context.Background(), accountID, versionID)
	if err != nil {
		t.Fatalf("outgoing links: %v", err)
	}
	return len(records)
}

func exerciseVersionedLinkLifecycle(t *testing.T, b backend, accountID string) {
	t.Helper()
	ctx := context.Background()

	source := textEntity(t, b, accountID, true, "source")
	destination := textEntity(t, b, accountID, true, "destination")
	v1 := source.EntityVersionID

	created, err := link.Create(ctx, b, link.CreateArgs{
		Path:        "$.linkName",
		Source:      &source,
		Destination: &destination,
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	v2 := source.EntityVersionID
	if v2 == v1 {
		t.Fatal("expected creating a link to cut a new source version")
	}
	if got := countOutgoing(t, b, accountID, v1); got != 0 {
		t.Errorf("expected no links on the old version, got %d", got)
	}
	if got := countOutgoing(t, b, accountID, v2); got != 1 {
		t.Errorf("expected one link on the new version, got %d", got)
	}

	loaded, err := link.Get(ctx, b, accountID, created.LinkID)
	if err != nil || loaded == nil {
		t.Fatalf("get link: %v %v", loaded, err)
	}
	dst, err := loaded.Destination(ctx, b)
	if err != nil {
		t.Fatalf("destination: %v", err)
	}
	if dst.EntityVersionID != destination.EntityVersionID {
		t.Errorf("expected latest destination %s, got %s", destination.EntityVersionID, dst.EntityVersionID)
	}
	src, err := loaded.Source(ctx, b)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if src.EntityVersionID != v2 {
		t.Errorf("expected source version %s, got %s", v2, src.EntityVersionID)
	}

	if err := loaded.Delete(ctx, b); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	v3 := src.EntityVersionID
	if v3 == v2 {
		t.Fatal("expected deleting a link to cut a new source version")
	}
	if got := countOutgoing(t, b, accountID, v3); got != 0 {
		t.Errorf("expected no links on the latest version, got %d", got)
	}
	if got := countOutgoing(t, b, accountID, v2); got != 1 {
		t.Errorf("expected history to keep the link, got %d", got)
	}
	gone, err := link.Get(ctx, b, accountID, created.LinkID)
	if err != nil {
		t.Fatalf("get deleted link: %v", err)
	}
	if gone != nil {
		t.Errorf("expected deleted link to be absent, got %+v", gone)
	}

	versions, err := b.EntityVersions(ctx, accountID, source.EntityID)
	if err != nil {
		t.Fatalf("entity versions: %v", err)
	}
	if len(versions) != 3 || versions[0] != v1 || versions[1] != v2 || versions[2] != v3 {
		t.Errorf("unexpected version history %v", versions)
	}
}

func exerciseUnversionedLinkLifecycle(t *testing.T, b backend, accountID string) {
	t.Helper()
	ctx := context.Background()

	source := textEntity(t, b, accountID, false, "source")
	destination := textEntity(t, b, accountID, true, "destination")
	v1 := source.EntityVersionID

	created, err := link.Create(ctx, b, link.CreateArgs{
		Path:               "$['a b'][0]",
		Source:             &source,
		Destination:        &destination,
		DstEntityVersionID: destination.EntityVersionID,
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if source.EntityVersionID != v1 {
		t.Errorf("expected unversioned source to keep its version")
	}
	if got := countOutgoing(t, b, accountID, v1); got != 1 {
		t.Errorf("expected one link, got %d", got)
	}
	if err := created.Delete(ctx, b); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	if got := countOutgoing(t, b, accountID, v1); got != 0 {
		t.Errorf("expected link removed, got %d", got)
	}
	if err := b.DeleteLink(ctx, accountID, created.LinkID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func exerciseSaveRoundTrip(t *testing.T, b backend, accountID string) {
	t.Helper()
	ctx := context.Background()
	schema := editor.DefaultSchema()
	saver := save.NewSaver(b, nil, schema, log.New(io.Discard))

	page, err := b.CreatePage(ctx, accountID, "Notes")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	doc := editor.Doc(
		editor.BlockNode("paragraph", "", editor.TextNode("first")),
		editor.BlockNode("header", "", editor.TextNode("second", "strong")),
		editor.BlockNode("divider", ""),
	)
	page, err = saver.UpdatePage(ctx, accountID, page.EntityID, doc, page.Contents, entity.NewStore())
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if len(page.Contents) != 3 {
		t.Fatalf("expected three blocks, got %+v", page.Contents)
	}

	snapshot, err := b.PageSnapshot(ctx, accountID, page.EntityID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	doc, err = editor.FromPage(page.Contents, snapshot, schema)
	if err != nil {
		t.Fatalf("render page: %v", err)
	}
	actions, err := save.CalculateSaveActions(accountID, doc, schema, page.Contents, snapshot)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected a saved page to be clean, got %+v", actions)
	}

	first, second, third := page.Contents[0], page.Contents[1], page.Contents[2]
	edited := editor.Doc(
		editor.BlockNode("divider", third.EntityID),
		editor.BlockNode("paragraph", first.EntityID, editor.TextNode("first, edited")),
	)
	page, err = saver.UpdatePage(ctx, accountID, page.EntityID, edited, page.Contents, snapshot)
	if err != nil {
		t.Fatalf("edit save: %v", err)
	}
	if len(page.Contents) != 2 || page.Contents[0].EntityID != third.EntityID || page.Contents[1].EntityID != first.EntityID {
		t.Fatalf("unexpected contents after edit: %+v", page.Contents)
	}

	stored, err := b.GetPage(ctx, accountID, page.EntityID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(stored.Contents) != 2 || stored.Contents[1].EntityID != first.EntityID {
		t.Fatalf("stored page diverged: %+v", stored.Contents)
	}
	for _, block := range stored.Contents {
		if block.EntityID == second.EntityID {
			t.Fatalf("removed block %s still on page", second.EntityID)
		}
	}

	text, err := b.GetEntityLatestVersion(ctx, first.Child.AccountID, first.Child.EntityID)
	if err != nil || text == nil {
		t.Fatalf("get text entity: %v %v", text, err)
	}
	props, err := text.AsText()
	if err != nil {
		t.Fatalf("text payload: %v", err)
	}
	if props.PlainText() != "first, edited" {
		t.Errorf("expected edited text, got %q", props.PlainText())
	}
}

func exerciseFailedBatchLeavesPage(t *testing.T, b backend, accountID string) {
	t.Helper()
	ctx := context.Background()

	page, err := b.CreatePage(ctx, accountID, "Atomic")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	_, err = b.UpdatePageContents(ctx, accountID, page.EntityID, []save.Action{
		{InsertNewBlock: &save.InsertNewBlock{Position: 0, ComponentID: editor.ComponentParagraph, AccountID: accountID, SystemTypeName: systemtypes.Text}},
		{InsertNewBlock: &save.InsertNewBlock{Position: 5, ComponentID: editor.ComponentParagraph, AccountID: accountID, SystemTypeName: systemtypes.Text}},
	})
	if !errors.Is(err, save.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	stored, err := b.GetPage(ctx, accountID, page.EntityID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(stored.Contents) != 0 {
		t.Errorf("expected untouched page, got %+v", stored.Contents)
	}

	_, err = b.UpdatePageContents(ctx, accountID, "missing-page", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing page, got %v", err)
	}
}

func linkParams(source, destination entity.Entity) link.CreateParams {
	return link.CreateParams{
		AccountID:           source.AccountID,
		Path:                "$.next",
		SrcAccountID:        source.AccountID,
		SrcEntityID:         source.EntityID,
		SrcEntityVersionIDs: []string{source.EntityVersionID},
		DstAccountID:        destination.AccountID,
		DstEntityID:         destination.EntityID,
	}
}

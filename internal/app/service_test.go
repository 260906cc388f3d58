package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hash/api/internal/cache"
	"hash/api/internal/editor"
	"hash/api/internal/entity"
	"hash/api/internal/search"
)

type fakeSearch struct {
	indexed [][]string
	removed [][]string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexPage(page entity.Page, snapshot entity.Store, removed []string) {
	var ids []string
	for _, record := range search.BlockRecords(page, snapshot) {
		ids = append(ids, record.ID)
	}
	f.indexed = append(f.indexed, ids)
	f.removed = append(f.removed, removed)
}

func newCachedService(t *testing.T) (*Service, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	fs := &fakeStore{}
	newTestServer(t, fs)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(fs, cache.NewSnapshotCacheWithClient(client, time.Minute), nil, quietLogger())
	return svc, fs, mr
}

func TestPageSnapshotIsCachedUntilSave(t *testing.T) {
	svc, fs, _ := newCachedService(t)
	ctx := context.Background()

	page, err := svc.CreatePage(ctx, "acct-1", "Cached")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Page(ctx, "acct-1", page.EntityID); err != nil {
			t.Fatalf("page: %v", err)
		}
	}
	if fs.getPageCalls != 1 {
		t.Fatalf("expected one store read, got %d", fs.getPageCalls)
	}

	doc := editor.Doc(editor.BlockNode("paragraph", "", editor.TextNode("cached")))
	if _, err := svc.SavePage(ctx, "acct-1", page.EntityID, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	calls := fs.getPageCalls

	snapshot, err := svc.Page(ctx, "acct-1", page.EntityID)
	if err != nil {
		t.Fatalf("page after save: %v", err)
	}
	if fs.getPageCalls != calls+1 {
		t.Errorf("expected the save to invalidate the cached snapshot")
	}
	if len(snapshot.Page.Contents) != 1 {
		t.Errorf("expected the saved block, got %+v", snapshot.Page.Contents)
	}
}

func TestSaveReindexesPage(t *testing.T) {
	fs := &fakeStore{}
	_, svc := newTestServer(t, fs)
	index := &fakeSearch{}
	svc.search = index
	ctx := context.Background()

	page, err := svc.CreatePage(ctx, "acct-1", "Indexed")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	saved, err := svc.SavePage(ctx, "acct-1", page.EntityID, editor.Doc(
		editor.BlockNode("paragraph", "", editor.TextNode("one")),
		editor.BlockNode("paragraph", "", editor.TextNode("two")),
	))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	first, second := saved.Contents[0], saved.Contents[1]

	if _, err := svc.SavePage(ctx, "acct-1", page.EntityID, editor.Doc(
		editor.BlockNode("paragraph", second.EntityID, editor.TextNode("two")),
	)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	if len(index.indexed) != 3 {
		t.Fatalf("expected create and two saves indexed, got %d", len(index.indexed))
	}
	if got := index.indexed[1]; len(got) != 2 {
		t.Errorf("expected both blocks indexed, got %v", got)
	}
	if got := index.removed[2]; len(got) != 1 || got[0] != first.EntityID {
		t.Errorf("expected %s removed from the index, got %v", first.EntityID, got)
	}
}

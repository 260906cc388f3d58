package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"hash/api/internal/entity"
)

func setupTestRedis(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewSnapshotCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create snapshot cache: %v", err)
	}
	return c, s
}

func testSnapshot(accountID, pageID string) Snapshot {
	text := entity.Entity{
		AccountID:       accountID,
		EntityID:        "text-1",
		EntityVersionID: "text-1-v1",
		Versioned:       true,
		Properties:      entity.TextPayload(entity.TextProperties{Texts: []entity.TextRun{{Text: "hello", Bold: true}}}),
	}
	block := entity.Entity{
		AccountID:       accountID,
		EntityID:        "block-1",
		EntityVersionID: "block-1-v1",
		Versioned:       true,
		Properties:      entity.BlockPayload(entity.BlockProperties{ComponentID: "paragraph", Entity: text.Ref()}),
	}
	return Snapshot{
		Page: entity.Page{
			AccountID: accountID,
			EntityID:  pageID,
			Title:     "Notes",
			Contents:  []entity.Block{{AccountID: accountID, EntityID: "block-1", ComponentID: "paragraph", Child: text.Ref()}},
		},
		Entities: entity.NewStore(block, text),
	}
}

func TestNewSnapshotCache(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := NewSnapshotCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewSnapshotCache failed: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPutAndGet(t *testing.T) {
	c, s := setupTestRedis(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Put(ctx, testSnapshot("acct-1", "page-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "acct-1", "page-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached snapshot")
	}
	if len(got.Page.Contents) != 1 || got.Page.Contents[0].Child.EntityID != "text-1" {
		t.Errorf("unexpected page %+v", got.Page)
	}
	text, ok := got.Entities.Lookup("text-1")
	if !ok {
		t.Fatal("expected text entity in snapshot")
	}
	props, err := text.AsText()
	if err != nil || props.PlainText() != "hello" || !props.Texts[0].Bold {
		t.Errorf("unexpected text payload %+v %v", props, err)
	}
	if got.CachedAt.IsZero() {
		t.Error("expected CachedAt to be stamped")
	}
}

func TestGetMiss(t *testing.T) {
	c, s := setupTestRedis(t)
	defer c.Close()
	defer s.Close()

	got, err := c.Get(context.Background(), "acct-1", "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestSnapshotExpires(t *testing.T) {
	c, s := setupTestRedis(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Put(ctx, testSnapshot("acct-1", "page-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	got, err := c.Get(ctx, "acct-1", "page-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected snapshot to expire")
	}
}

func TestRefetchInvalidates(t *testing.T) {
	c, s := setupTestRedis(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Put(ctx, testSnapshot("acct-1", "page-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, testSnapshot("acct-1", "page-2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Refetch(ctx, "acct-1", "page-1"); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}

	if got, _ := c.Get(ctx, "acct-1", "page-1"); got != nil {
		t.Error("expected page-1 to be invalidated")
	}
	if got, _ := c.Get(ctx, "acct-1", "page-2"); got == nil {
		t.Error("expected page-2 to stay cached")
	}
	if err := c.Refetch(ctx, "acct-1", "never-cached"); err != nil {
		t.Errorf("Refetch of an uncached page failed: %v", err)
	}
}

func TestLoadFetchesOnce(t *testing.T) {
	c, s := setupTestRedis(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (Snapshot, error) {
		calls++
		return testSnapshot("acct-1", "page-1"), nil
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Load(ctx, "acct-1", "page-1", fetch); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one fetch, got %d", calls)
	}

	boom := errors.New("boom")
	_, err := c.Load(ctx, "acct-1", "page-2", func(context.Context) (Snapshot, error) {
		return Snapshot{}, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fetch error, got %v", err)
	}
}

package factindex

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(Config{InMemory: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearchScopedToGroup(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	docs := []Doc{
		{UID: "0x1", GroupID: "g_aaa", Fact: "Alice works at Acme Corp"},
		{UID: "0x2", GroupID: "g_bbb", Fact: "Alice works at Globex"},
	}
	if err := idx.AddBatch(ctx, docs); err != nil {
		t.Fatalf("batch index failed: %v", err)
	}

	hits, err := idx.Search(ctx, "g_aaa", "where does alice work", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, h := range hits {
		if h.UID == "0x2" {
			t.Error("search returned a fact from another group")
		}
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit in the scoped group")
	}
	if hits[0].UID != "0x1" {
		t.Errorf("expected 0x1 first, got %s", hits[0].UID)
	}
}

func TestSearchEmptyGroupReturnsNothing(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, Doc{UID: "0x1", GroupID: "g_aaa", Fact: "Bob likes tea"}); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	hits, err := idx.Search(ctx, "g_empty", "tea", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for empty group, got %d", len(hits))
	}
}

func TestSearchOrdersByScore(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	docs := []Doc{
		{UID: "0x1", GroupID: "g_aaa", Fact: "Carol plays tennis on weekends"},
		{UID: "0x2", GroupID: "g_aaa", Fact: "Carol plays tennis and coaches tennis teams"},
		{UID: "0x3", GroupID: "g_aaa", Fact: "Dave owns a bakery"},
	}
	if err := idx.AddBatch(ctx, docs); err != nil {
		t.Fatalf("batch index failed: %v", err)
	}

	hits, err := idx.Search(ctx, "g_aaa", "tennis", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) < 2 {
		t.Fatalf("expected at least 2 hits, got %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not in descending score order at %d", i)
		}
	}
}

func TestDeleteRemovesFact(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, Doc{UID: "0x9", GroupID: "g_aaa", Fact: "Erin speaks French"}); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	if err := idx.Delete(ctx, "0x9"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	hits, err := idx.Search(ctx, "g_aaa", "French", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits after delete, got %d", len(hits))
	}
}

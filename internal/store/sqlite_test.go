package store

import (
	"context"
	"testing"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := Row{
		ID:        "w1",
		Namespace: "default",
		Doc:       map[string]any{"title": "JWT 認証", "status": "not_started"},
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	if err := s.Upsert(ctx, TableWorkItems, []Row{row}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get(ctx, TableWorkItems, "default", "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Doc["title"] != "JWT 認証" {
		t.Fatalf("unicode title not preserved: %v", got.Doc["title"])
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Fatalf("embedding round trip failed: %v", got.Embedding)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), TableWorkItems, "default", "nope")
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	older := time.Now().UTC().Add(-time.Minute)
	newer := time.Now().UTC()

	if err := s.Upsert(ctx, TableWorkItems, []Row{{
		ID: "w1", Namespace: "default", UpdatedAt: newer,
		Doc: map[string]any{"title": "newer"},
	}}); err != nil {
		t.Fatal(err)
	}
	// A stale write must not clobber the newer row.
	if err := s.Upsert(ctx, TableWorkItems, []Row{{
		ID: "w1", Namespace: "default", UpdatedAt: older,
		Doc: map[string]any{"title": "older"},
	}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, TableWorkItems, "default", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Doc["title"] != "newer" {
		t.Fatalf("stale write clobbered newer row: %v", got.Doc["title"])
	}
}

func TestEmbeddingMergedWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Add(-time.Second)

	if err := s.Upsert(ctx, TableWorkItems, []Row{{
		ID: "w1", Namespace: "default", UpdatedAt: t0,
		Doc:       map[string]any{"title": "a"},
		Embedding: []float32{1, 2},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, TableWorkItems, []Row{{
		ID: "w1", Namespace: "default", UpdatedAt: t0.Add(time.Second),
		Doc: map[string]any{"title": "b"},
	}}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, TableWorkItems, "default", "w1")
	if got.Doc["title"] != "b" {
		t.Fatalf("doc not updated: %v", got.Doc["title"])
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 1 {
		t.Fatalf("embedding should survive doc-only update: %v", got.Embedding)
	}
}

func TestScanFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rows := []Row{
		{ID: "a", Namespace: "ns1", Doc: map[string]any{"status": "completed", "order_index": 2.0}},
		{ID: "b", Namespace: "ns1", Doc: map[string]any{"status": "in_progress", "order_index": 1.0}},
		{ID: "c", Namespace: "ns2", Doc: map[string]any{"status": "completed"}},
		{ID: "d", Namespace: "ns1", Doc: map[string]any{"status": "completed", "parent_id": "a"}},
	}
	if err := s.Upsert(ctx, TableWorkItems, rows); err != nil {
		t.Fatal(err)
	}

	got, err := s.Scan(ctx, TableWorkItems, Filter{"namespace": "ns1", "status": "completed"}, ScanOptions{
		OrderBy: []Order{{Field: "id"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("unexpected scan result: %+v", got)
	}

	// nil filter value matches absent field
	roots, err := s.Scan(ctx, TableWorkItems, Filter{"namespace": "ns1", "parent_id": nil}, ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 rows without parent_id, got %d", len(roots))
	}

	// IN filter
	multi, err := s.Scan(ctx, TableWorkItems, Filter{"status": []string{"completed", "in_progress"}, "namespace": "ns1"}, ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(multi) != 3 {
		t.Fatalf("IN filter expected 3, got %d", len(multi))
	}
}

func TestScanOrderingAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"x", "y", "z"} {
		err := s.Upsert(ctx, TableWorkItems, []Row{{
			ID: id, Namespace: "ns", Doc: map[string]any{"order_index": float64(3 - i)},
		}})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Scan(ctx, TableWorkItems, Filter{"namespace": "ns"}, ScanOptions{
		OrderBy: []Order{{Field: "order_index"}},
		Limit:   2, Offset: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "y" || got[1].ID != "x" {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rows := []Row{
		{ID: "close", Namespace: "ns", Doc: map[string]any{}, Embedding: []float32{1, 0, 0}},
		{ID: "mid", Namespace: "ns", Doc: map[string]any{}, Embedding: []float32{1, 1, 0}},
		{ID: "far", Namespace: "ns", Doc: map[string]any{}, Embedding: []float32{0, 0, 1}},
		{ID: "other-ns", Namespace: "other", Doc: map[string]any{}, Embedding: []float32{1, 0, 0}},
	}
	if err := s.Upsert(ctx, TableWorkItems, rows); err != nil {
		t.Fatal(err)
	}

	matches, err := s.VectorSearch(ctx, TableWorkItems, []float32{1, 0, 0}, Filter{"namespace": "ns"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Row.ID != "close" || matches[1].Row.ID != "mid" {
		t.Fatalf("wrong ranking: %s, %s", matches[0].Row.ID, matches[1].Row.ID)
	}
	if matches[0].Distance >= matches[1].Distance {
		t.Fatal("distances not ascending")
	}
}

func TestDeleteAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, TableDependencies, []Row{
		{ID: "e1", Namespace: "ns", Doc: map[string]any{"source_id": "a"}},
		{ID: "e2", Namespace: "ns", Doc: map[string]any{"source_id": "b"}},
	})

	n, err := s.Count(ctx, TableDependencies, Filter{"namespace": "ns"})
	if err != nil || n != 2 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}

	deleted, err := s.Delete(ctx, TableDependencies, Filter{"namespace": "ns", "source_id": "a"})
	if err != nil || deleted != 1 {
		t.Fatalf("delete: n=%d err=%v", deleted, err)
	}

	n, _ = s.Count(ctx, TableDependencies, Filter{"namespace": "ns"})
	if n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}
}

func TestNamespaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Upsert(ctx, TableWorkItems, []Row{{ID: "a", Namespace: "beta", Doc: map[string]any{}}})
	_ = s.Upsert(ctx, TableArchitectureItems, []Row{{ID: "s", Namespace: "alpha", Doc: map[string]any{}}})

	got, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("unexpected namespaces: %v", got)
	}
}

func TestOpenIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Open(context.Background(), "team-a"); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
}

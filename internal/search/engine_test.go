package search

import (
	"context"
	"testing"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

func newEngine(t *testing.T) (*Engine, store.Store, *embedding.HashEmbedder) {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	emb := embedding.NewHashEmbedder(128)
	return New(st, emb, nil), st, emb
}

func seed(t *testing.T, st store.Store, emb *embedding.HashEmbedder, id, title, description string) {
	t.Helper()
	ctx := context.Background()
	vec, err := emb.Embed(ctx, title+"\n"+description)
	if err != nil {
		t.Fatal(err)
	}
	err = st.Upsert(ctx, store.TableWorkItems, []store.Row{{
		ID:        id,
		Namespace: "default",
		Doc:       map[string]any{"title": title, "description": description},
		Embedding: vec,
	}})
	if err != nil {
		t.Fatal(err)
	}
}

var textFields = []string{"title", "description"}

func TestEmptyQueryRejected(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.Search(context.Background(), store.TableWorkItems, "default", "   ", textFields, nil, Options{})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestKeywordRanking(t *testing.T) {
	e, st, emb := newEngine(t)
	seed(t, st, emb, "a", "JWT token login", "token based login for the API")
	seed(t, st, emb, "b", "OAuth flow", "third party login")
	seed(t, st, emb, "c", "Database migration", "schema updates")

	got, err := e.Search(context.Background(), store.TableWorkItems, "default", "token login", textFields, nil, Options{Mode: ModeKeyword})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least 2 hits, got %d", len(got))
	}
	if got[0].Row.ID != "a" {
		t.Fatalf("expected item a first, got %s", got[0].Row.ID)
	}
	for _, r := range got {
		if r.Row.ID == "c" {
			t.Fatal("unrelated item should not match keywords")
		}
	}
}

func TestSemanticRanking(t *testing.T) {
	e, st, emb := newEngine(t)
	seed(t, st, emb, "a", "token login service", "handles token login")
	seed(t, st, emb, "b", "database schema migration", "migrates schemas")

	got, err := e.Search(context.Background(), store.TableWorkItems, "default", "token login", textFields, nil, Options{Mode: ModeSemantic})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].Row.ID != "a" {
		t.Fatalf("expected semantic top hit a, got %+v", got)
	}
	if got[0].Score <= 0 {
		t.Fatal("score must be positive")
	}
}

func TestHybridUnionsAndDedupes(t *testing.T) {
	e, st, emb := newEngine(t)
	seed(t, st, emb, "a", "token login service", "token login handler")
	seed(t, st, emb, "b", "login audit", "records login attempts")
	seed(t, st, emb, "c", "unrelated work", "nothing in common")

	got, err := e.Search(context.Background(), store.TableWorkItems, "default", "token login", textFields, nil, Options{Mode: ModeHybrid, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]int)
	for _, r := range got {
		seen[r.Row.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("duplicate result for %s", id)
		}
	}
	if len(got) == 0 || got[0].Row.ID != "a" {
		t.Fatalf("expected a first in hybrid mode, got %+v", got)
	}
}

func TestLimitClamped(t *testing.T) {
	e, st, emb := newEngine(t)
	seed(t, st, emb, "a", "alpha item", "alpha")
	seed(t, st, emb, "b", "alpha second", "alpha")

	got, err := e.Search(context.Background(), store.TableWorkItems, "default", "alpha", textFields, nil, Options{Mode: ModeKeyword, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}

func TestThresholdDrops(t *testing.T) {
	e, st, emb := newEngine(t)
	seed(t, st, emb, "a", "token login", "token login")
	seed(t, st, emb, "b", "barely related login", "other text entirely here")

	all, err := e.Search(context.Background(), store.TableWorkItems, "default", "token login", textFields, nil, Options{Mode: ModeKeyword})
	if err != nil {
		t.Fatal(err)
	}
	strict, err := e.Search(context.Background(), store.TableWorkItems, "default", "token login", textFields, nil, Options{Mode: ModeKeyword, SimilarityThreshold: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if len(strict) >= len(all) && len(all) > 1 {
		t.Fatalf("threshold did not drop results: all=%d strict=%d", len(all), len(strict))
	}
}

func TestNamespaceIsolation(t *testing.T) {
	e, st, emb := newEngine(t)
	ctx := context.Background()
	vec, _ := emb.Embed(ctx, "secret work")
	_ = st.Upsert(ctx, store.TableWorkItems, []store.Row{{
		ID: "x", Namespace: "project-a",
		Doc:       map[string]any{"title": "secret work"},
		Embedding: vec,
	}})

	got, err := e.Search(ctx, store.TableWorkItems, "project-b", "secret work", textFields, nil, Options{Mode: ModeHybrid})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("cross-namespace leak: %+v", got)
	}
}

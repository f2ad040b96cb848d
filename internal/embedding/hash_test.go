package embedding

import (
	"context"
	"testing"
)

func TestDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "JWT authentication flow")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(context.Background(), "JWT authentication flow")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
}

func TestBlankTextIsZeroVector(t *testing.T) {
	e := NewHashEmbedder(32)
	for _, text := range []string{"", "   ", "\t\n"} {
		vec, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if !IsZero(vec) {
			t.Fatalf("expected zero vector for %q", text)
		}
	}
}

func TestSharedTokensAreCloser(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "token based login")
	near, _ := e.Embed(ctx, "token login service")
	far, _ := e.Embed(ctx, "database schema migration")

	if dot(base, near) <= dot(base, far) {
		t.Fatal("texts sharing tokens should be closer than unrelated texts")
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	vecs, err := e.EmbedBatch(ctx, []string{"alpha beta", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	single, _ := e.Embed(ctx, "alpha beta")
	for i := range single {
		if vecs[0][i] != single[i] {
			t.Fatal("batch result differs from single embed")
		}
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

package workitem

import (
	"context"
	"testing"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

func TestAddDependencyAndCycleRejection(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})

	edge, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks)
	if err != nil {
		t.Fatal(err)
	}
	if edge.SourceID != a.ID || edge.TargetID != b.ID || edge.DependencyType != DepBlocks {
		t.Fatalf("edge wrong: %+v", edge)
	}

	_, err = r.AddDependency(ctx, ns, b.ID, a.ID, DepBlocks)
	if errs.CodeOf(err) != errs.CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED, got %v", err)
	}
	jerr := errs.AsError(err)
	cycle, ok := jerr.Details["cycle"].([]string)
	if !ok || len(cycle) < 3 {
		t.Fatalf("cycle detail missing: %+v", jerr.Details)
	}
	if cycle[0] != cycle[len(cycle)-1] {
		t.Fatalf("cycle path should close on itself: %v", cycle)
	}
	// The path starts at the rejected edge's target: A -> B -> A.
	want := []string{a.ID, b.ID, a.ID}
	if len(cycle) != len(want) {
		t.Fatalf("cycle path wrong length: %v", cycle)
	}
	for i := range want {
		if cycle[i] != want[i] {
			t.Fatalf("cycle path got %v, want %v", cycle, want)
		}
	}
}

func TestTransitiveCycleRejection(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})
	c := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "C"})

	if _, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddDependency(ctx, ns, b.ID, c.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddDependency(ctx, ns, c.ID, a.ID, DepBlocks); errs.CodeOf(err) != errs.CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED closing a 3-cycle, got %v", err)
	}
}

func TestBlockedByNormalization(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})

	// "a is blocked_by b" stores as "b blocks a".
	edge, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlockedBy)
	if err != nil {
		t.Fatal(err)
	}
	if edge.SourceID != b.ID || edge.TargetID != a.ID || edge.DependencyType != DepBlocks {
		t.Fatalf("blocked_by not normalized: %+v", edge)
	}

	// Now the reverse spelling collides with the existing direction.
	if _, err := r.AddDependency(ctx, ns, b.ID, a.ID, DepBlockedBy); errs.CodeOf(err) != errs.CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED, got %v", err)
	}
}

func TestAddDependencyIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})

	first, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatal("duplicate add should return the existing edge")
	}

	deps, err := r.GetDependencies(ctx, ns, a.ID, DirBoth, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(deps))
	}
}

func TestRemoveDependencyIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})

	if _, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	// Removing again must still succeed.
	if err := r.RemoveDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}

	deps, err := r.GetDependencies(ctx, ns, a.ID, DirBoth, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Fatalf("edge still present: %+v", deps)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	r := newRepo(t)
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	if _, err := r.AddDependency(context.Background(), ns, a.ID, a.ID, DepBlocks); errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("self-dependency should fail validation, got %v", err)
	}
}

func TestRelatedEdgesNeverCycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})

	if _, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepRelated); err != nil {
		t.Fatal(err)
	}
	// related is not directional for scheduling; the reverse edge is fine.
	if _, err := r.AddDependency(ctx, ns, b.ID, a.ID, DepRelated); err != nil {
		t.Fatalf("related edges must not trigger cycle detection: %v", err)
	}
}

func TestGetDependenciesTransitive(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})
	c := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "C"})

	if _, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddDependency(ctx, ns, b.ID, c.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}

	direct, err := r.GetDependencies(ctx, ns, a.ID, DirOut, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 1 {
		t.Fatalf("expected 1 direct edge, got %d", len(direct))
	}

	transitive, err := r.GetDependencies(ctx, ns, a.ID, DirOut, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitive) != 2 {
		t.Fatalf("expected 2 transitive edges, got %d", len(transitive))
	}
}

func TestBlockedBy(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	blocker := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "blocker"})
	done := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "done", Status: StatusCompleted})
	blocked := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "blocked"})

	if _, err := r.AddDependency(ctx, ns, blocker.ID, blocked.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddDependency(ctx, ns, done.ID, blocked.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}

	blockers, err := r.BlockedBy(ctx, ns, blocked.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 1 || blockers[0] != blocker.ID {
		t.Fatalf("completed blockers must not count: %v", blockers)
	}
}

func TestValidateGraphHeals(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A"})
	b := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "B"})
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "P"})
	orphan := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "orphan", ParentID: &parent.ID})

	if _, err := r.AddDependency(ctx, ns, a.ID, b.ID, DepBlocks); err != nil {
		t.Fatal(err)
	}

	// Rip out rows underneath the repo to manufacture inconsistencies:
	// delete b so the edge dangles, delete parent so orphan's parent is gone.
	if _, err := r.store.Delete(ctx, store.TableWorkItems, store.Filter{"namespace": ns, "id": b.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.store.Delete(ctx, store.TableWorkItems, store.Filter{"namespace": ns, "id": parent.ID}); err != nil {
		t.Fatal(err)
	}

	violations, err := r.ValidateGraph(ctx, ns, "", true)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]int{}
	for _, v := range violations {
		kinds[v.Kind]++
	}
	if kinds["dangling_edge"] != 1 || kinds["orphan"] != 1 {
		t.Fatalf("unexpected violations: %+v", violations)
	}

	// Healed: the orphan is now a root and the edge is gone.
	healed, err := r.Get(ctx, ns, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if healed.ParentID != nil {
		t.Fatal("orphan not reparented to root")
	}
	deps, err := r.GetDependencies(ctx, ns, a.ID, DirBoth, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Fatalf("dangling edge not removed: %+v", deps)
	}

	again, err := r.ValidateGraph(ctx, ns, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass should be clean: %+v", again)
	}
}

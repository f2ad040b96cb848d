package workitem

import (
	"context"
	"testing"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
)

const ns = "default"

func newRepo(t *testing.T) *Repo {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	emb := embedding.NewHashEmbedder(64)
	engine := search.New(st, emb, nil)
	return New(st, emb, engine, events.NewBus(16), nil, false)
}

func mustCreate(t *testing.T, r *Repo, in CreateInput) *WorkItem {
	t.Helper()
	res, err := r.Create(context.Background(), ns, in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return res.Item
}

func TestCreateAssignsIdentity(t *testing.T) {
	r := newRepo(t)
	item := mustCreate(t, r, CreateInput{ItemType: TypeInitiative, Title: "Platform Modernization"})

	if item.ID == "" {
		t.Fatal("missing id")
	}
	if item.SequenceNumber != 1 {
		t.Fatalf("expected sequence 1, got %d", item.SequenceNumber)
	}
	if item.Status != StatusNotStarted || item.Priority != PriorityMedium {
		t.Fatalf("defaults not applied: %s/%s", item.Status, item.Priority)
	}
	if item.CreatedAt.IsZero() || item.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	got, err := r.Get(context.Background(), ns, item.ID)
	if err != nil {
		t.Fatalf("read-your-writes failed: %v", err)
	}
	if got.Title != "Platform Modernization" {
		t.Fatalf("wrong title: %q", got.Title)
	}
}

func TestCreateValidation(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, err := r.Create(ctx, ns, CreateInput{ItemType: TypeTask, Title: "  "})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("empty title should fail validation, got %v", err)
	}

	_, err = r.Create(ctx, ns, CreateInput{ItemType: "widget", Title: "x"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("bad type should fail validation, got %v", err)
	}

	missing := "00000000-0000-0000-0000-000000000000"
	_, err = r.Create(ctx, ns, CreateInput{ItemType: TypeTask, Title: "x", ParentID: &missing})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("missing parent should fail, got %v", err)
	}
}

func TestSequenceNumbersUniquePerSibling(t *testing.T) {
	r := newRepo(t)
	root := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "Epic"})

	seen := map[int]bool{}
	for _, title := range []string{"a", "b", "c"} {
		child := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: title, ParentID: &root.ID})
		if seen[child.SequenceNumber] {
			t.Fatalf("duplicate sequence %d", child.SequenceNumber)
		}
		seen[child.SequenceNumber] = true
	}
}

func TestHierarchyTypeOrderWarning(t *testing.T) {
	r := newRepo(t)
	task := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "A task"})

	res, err := r.Create(context.Background(), ns, CreateInput{
		ItemType: TypeInitiative, Title: "Initiative under task", ParentID: &task.ID,
	})
	if err != nil {
		t.Fatalf("soft mode must not reject: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a type-order warning")
	}
}

func TestStrictHierarchyRejects(t *testing.T) {
	st, err := store.NewSQLite(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	emb := embedding.NewHashEmbedder(64)
	r := New(st, emb, search.New(st, emb, nil), nil, nil, true)

	task := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "task"})
	_, err = r.Create(context.Background(), ns, CreateInput{
		ItemType: TypeEpic, Title: "epic under task", ParentID: &task.ID,
	})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("strict mode should reject, got %v", err)
	}
}

func TestUpdatePatch(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	item := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "before"})

	updated, err := r.Update(ctx, ns, item.ID, map[string]any{
		"title":  "after",
		"status": "in_progress",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "after" || updated.Status != StatusInProgress {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(item.UpdatedAt) {
		t.Fatal("updated_at not bumped")
	}

	_, err = r.Update(ctx, ns, item.ID, map[string]any{"id": "nope"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("immutable field should be rejected, got %v", err)
	}
}

func TestGetByTitleAndSimilarity(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	item := mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "JWT Authentication", Description: "token login"})

	byTitle, err := r.Get(ctx, ns, "jwt authentication")
	if err != nil {
		t.Fatal(err)
	}
	if byTitle.ID != item.ID {
		t.Fatal("case-insensitive title lookup failed")
	}

	bySim, err := r.Get(ctx, ns, "JWT authentication token")
	if err != nil {
		t.Fatalf("similarity lookup failed: %v", err)
	}
	if bySim.ID != item.ID {
		t.Fatal("similarity lookup returned wrong item")
	}

	_, err = r.Get(ctx, ns, "entirely unrelated gibberish zzz")
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListFiltersAndPaging(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "t1", Tags: []string{"auth"}})
	mustCreate(t, r, CreateInput{ItemType: TypeTask, Title: "t2"})
	mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "e1"})

	tasks, err := r.List(ctx, ns, ListFilter{Types: []ItemType{TypeTask}}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	tagged, err := r.List(ctx, ns, ListFilter{Tags: []string{"auth"}}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 1 || tagged[0].Title != "t1" {
		t.Fatalf("tag filter failed: %+v", tagged)
	}

	page, err := r.List(ctx, ns, ListFilter{}, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("paging failed: %d", len(page))
	}
}

func TestDeleteReparentsChildren(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	grandparent := mustCreate(t, r, CreateInput{ItemType: TypeInitiative, Title: "gp"})
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "p", ParentID: &grandparent.ID})
	child := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "c", ParentID: &parent.ID})

	if _, err := r.Delete(ctx, ns, parent.ID, DeleteReparentChildren); err != nil {
		t.Fatal(err)
	}

	got, err := r.Get(ctx, ns, child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ParentID == nil || *got.ParentID != grandparent.ID {
		t.Fatalf("child not reparented to grandparent: %v", got.ParentID)
	}
}

func TestDeleteDescendants(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	root := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "root"})
	child := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "child", ParentID: &root.ID})

	n, err := r.Delete(ctx, ns, root.ID, DeleteDeleteDescendants)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, err := r.Get(ctx, ns, child.ID); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("descendant should be gone, got %v", err)
	}
}

func TestChildrenAndAncestors(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	initiative := mustCreate(t, r, CreateInput{ItemType: TypeInitiative, Title: "Platform Modernization"})
	epic := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "Auth", ParentID: &initiative.ID})
	story := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "Login", ParentID: &epic.ID})

	children, err := r.GetChildren(ctx, ns, initiative.ID, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Item.ID != epic.ID {
		t.Fatalf("expected [epic], got %+v", children)
	}
	if len(children[0].Children) != 0 {
		t.Fatal("non-recursive call must not descend")
	}

	tree, err := r.GetChildren(ctx, ns, initiative.ID, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 || tree[0].Children[0].Item.ID != story.ID {
		t.Fatalf("recursive tree wrong: %+v", tree)
	}

	ancestors, err := r.GetAncestors(ctx, ns, story.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ancestors) != 2 || ancestors[0].ID != initiative.ID || ancestors[1].ID != epic.ID {
		t.Fatalf("ancestors wrong: %+v", ancestors)
	}
}

func TestReorder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "p"})
	a := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "a", ParentID: &parent.ID})
	b := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "b", ParentID: &parent.ID})
	c := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "c", ParentID: &parent.ID})

	// Move c to the front.
	if _, err := r.Reorder(ctx, ns, c.ID, &parent.ID, 0); err != nil {
		t.Fatal(err)
	}

	ordered, err := r.siblings(ctx, ns, &parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 siblings, got %d", len(ordered))
	}
	wantOrder := []string{c.ID, a.ID, b.ID}
	for i, want := range wantOrder {
		if ordered[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, ordered[i].Title, want)
		}
		if ordered[i].SequenceNumber != i+1 {
			t.Fatalf("sequence not compacted at %d: %d", i, ordered[i].SequenceNumber)
		}
	}
}

func TestReorderNilParentKeepsParent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "p"})
	a := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "a", ParentID: &parent.ID})
	b := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "b", ParentID: &parent.ID})

	// Position-only move: b to the front, parent untouched.
	moved, err := r.Reorder(ctx, ns, b.ID, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if moved.ParentID == nil || *moved.ParentID != parent.ID {
		t.Fatalf("nil new_parent_id must keep the parent, got %v", moved.ParentID)
	}

	ordered, err := r.siblings(ctx, ns, &parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 2 || ordered[0].ID != b.ID || ordered[1].ID != a.ID {
		t.Fatalf("unexpected sibling order: %+v", ordered)
	}
}

func TestReorderEmptyParentMovesToRoot(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "p"})
	child := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "a", ParentID: &parent.ID})

	root := ""
	moved, err := r.Reorder(ctx, ns, child.ID, &root, 0)
	if err != nil {
		t.Fatalf("empty new_parent_id must move to root: %v", err)
	}
	if moved.ParentID != nil {
		t.Fatalf("expected root item, got parent %v", *moved.ParentID)
	}

	roots, err := r.siblings(ctx, ns, nil)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, item := range roots {
		if seen[item.SequenceNumber] {
			t.Fatalf("duplicate root sequence %d", item.SequenceNumber)
		}
		seen[item.SequenceNumber] = true
	}
}

func TestUpdateParentMoveRenumbers(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	src := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "src"})
	dst := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "dst"})
	moving := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "moving", ParentID: &src.ID})
	mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "settled", ParentID: &dst.ID})

	updated, err := r.Update(ctx, ns, moving.ID, map[string]any{"parent_id": dst.ID})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ParentID == nil || *updated.ParentID != dst.ID {
		t.Fatalf("parent not changed: %v", updated.ParentID)
	}

	group, err := r.siblings(ctx, ns, &dst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(group) != 2 {
		t.Fatalf("expected 2 siblings under dst, got %d", len(group))
	}
	seen := map[int]bool{}
	for _, item := range group {
		if seen[item.SequenceNumber] {
			t.Fatalf("duplicate sequence %d after parent move", item.SequenceNumber)
		}
		seen[item.SequenceNumber] = true
	}
	if updated.SequenceNumber != 2 {
		t.Fatalf("expected next free sequence 2, got %d", updated.SequenceNumber)
	}
}

func TestRollupProgress(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	parent := mustCreate(t, r, CreateInput{ItemType: TypeEpic, Title: "p"})
	effort2 := 2.0
	childA := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "a", ParentID: &parent.ID, EffortEstimate: &effort2})
	childB := mustCreate(t, r, CreateInput{ItemType: TypeStory, Title: "b", ParentID: &parent.ID})

	if _, err := r.Update(ctx, ns, childA.ID, map[string]any{"progress_percentage": 100.0}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Update(ctx, ns, childB.ID, map[string]any{"progress_percentage": 40.0}); err != nil {
		t.Fatal(err)
	}

	got, err := r.RollupProgress(ctx, ns, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := (100.0*2 + 40.0*1) / 3
	if got != want {
		t.Fatalf("rollup: got %f want %f", got, want)
	}

	stored, _ := r.Get(ctx, ns, parent.ID)
	if stored.ProgressPercentage != want {
		t.Fatalf("rollup not persisted: %f", stored.ProgressPercentage)
	}
}

func TestNamespaceScoping(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.Create(ctx, "project-a", CreateInput{ItemType: TypeTask, Title: "T"}); err != nil {
		t.Fatal(err)
	}

	other, err := r.List(ctx, "project-b", ListFilter{}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatalf("cross-namespace leak: %+v", other)
	}

	same, err := r.List(ctx, "project-a", ListFilter{}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(same) != 1 || same[0].Title != "T" {
		t.Fatalf("expected [T], got %+v", same)
	}
}

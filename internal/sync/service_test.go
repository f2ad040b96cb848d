package sync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcp-jive/jive/internal/store"
)

const ns = "default"

func newService(t *testing.T) (*Service, *store.SQLiteStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	syncDir := t.TempDir()
	st, err := store.NewSQLite(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, dataDir, syncDir, nil), st, syncDir
}

func putRow(t *testing.T, st store.Store, id, title string, at time.Time) {
	t.Helper()
	err := st.Upsert(context.Background(), store.TableWorkItems, []store.Row{{
		ID:        id,
		Namespace: ns,
		Doc: map[string]any{
			"id":         id,
			"item_type":  "task",
			"title":      title,
			"updated_at": at.Format(time.RFC3339Nano),
		},
		UpdatedAt: at,
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, syncDir, id, title string, at time.Time) {
	t.Helper()
	dir := filepath.Join(syncDir, ns)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	doc := map[string]any{
		"id":         id,
		"item_type":  "task",
		"title":      title,
		"updated_at": at.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestSyncDBToFile(t *testing.T) {
	svc, st, syncDir := newService(t)
	ctx := context.Background()
	putRow(t, st, "item-1", "from db", time.Now().UTC())

	res, err := svc.Sync(ctx, ns, DBToFile)
	if err != nil {
		t.Fatal(err)
	}
	if res.Exported != 1 || res.Imported != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(syncDir, ns, "item-1.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["title"] != "from db" {
		t.Fatalf("exported doc wrong: %+v", doc)
	}

	// Second pass is a no-op.
	again, err := svc.Sync(ctx, ns, DBToFile)
	if err != nil {
		t.Fatal(err)
	}
	if again.Exported != 0 || again.Skipped != 1 {
		t.Fatalf("expected skip, got %+v", again)
	}
}

func TestSyncFileToDB(t *testing.T) {
	svc, st, syncDir := newService(t)
	ctx := context.Background()
	writeFile(t, syncDir, "item-2", "from file", time.Now().UTC())

	res, err := svc.Sync(ctx, ns, FileToDB)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	row, err := st.Get(ctx, store.TableWorkItems, ns, "item-2")
	if err != nil {
		t.Fatal(err)
	}
	if row.Doc["title"] != "from file" {
		t.Fatalf("imported doc wrong: %+v", row.Doc)
	}
}

func TestBidirectionalNewerWins(t *testing.T) {
	svc, st, syncDir := newService(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	now := time.Now().UTC()

	// File newer than row, and row newer than file, in one pass.
	putRow(t, st, "a", "db stale", old)
	writeFile(t, syncDir, "a", "file fresh", now)
	putRow(t, st, "b", "db fresh", now)
	writeFile(t, syncDir, "b", "file stale", old)

	res, err := svc.Sync(ctx, ns, Bidirectional)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 || res.Exported != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rowA, err := st.Get(ctx, store.TableWorkItems, ns, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rowA.Doc["title"] != "file fresh" {
		t.Fatalf("file should have won for a: %+v", rowA.Doc)
	}

	data, err := os.ReadFile(filepath.Join(syncDir, ns, "b.json"))
	if err != nil {
		t.Fatal(err)
	}
	var docB map[string]any
	if err := json.Unmarshal(data, &docB); err != nil {
		t.Fatal(err)
	}
	if docB["title"] != "db fresh" {
		t.Fatalf("db should have won for b: %+v", docB)
	}
}

func TestStatusReportsPending(t *testing.T) {
	svc, st, syncDir := newService(t)
	ctx := context.Background()
	putRow(t, st, "only-db", "x", time.Now().UTC())
	writeFile(t, syncDir, "only-file", "y", time.Now().UTC())

	status, err := svc.Status(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if status.InSync {
		t.Fatal("should not be in sync")
	}
	if len(status.PendingToDB) != 1 || status.PendingToDB[0] != "only-file" {
		t.Fatalf("pending_to_db wrong: %v", status.PendingToDB)
	}
	if len(status.PendingToFile) != 1 || status.PendingToFile[0] != "only-db" {
		t.Fatalf("pending_to_file wrong: %v", status.PendingToFile)
	}

	if _, err := svc.Sync(ctx, ns, Bidirectional); err != nil {
		t.Fatal(err)
	}
	after, err := svc.Status(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if !after.InSync {
		t.Fatalf("should be in sync after bidirectional pass: %+v", after)
	}
}

func TestValidateFindsCorruption(t *testing.T) {
	svc, _, syncDir := newService(t)
	ctx := context.Background()
	dir := filepath.Join(syncDir, ns)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}
	writeFile(t, syncDir, "renamed", "x", time.Now().UTC())
	if err := os.Rename(filepath.Join(dir, "renamed.json"), filepath.Join(dir, "other-name.json")); err != nil {
		t.Fatal(err)
	}

	issues, err := svc.Validate(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]int{}
	for _, issue := range issues {
		kinds[issue.Kind]++
	}
	if kinds["unreadable"] != 1 || kinds["id_mismatch"] != 1 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	putRow(t, st, "keep-me", "precious", time.Now().UTC())

	backupDir := t.TempDir()
	path, err := svc.Backup(ctx, backupDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	// Lose the row, then restore.
	if _, err := st.Delete(ctx, store.TableWorkItems, store.Filter{"namespace": ns, "id": "keep-me"}); err != nil {
		t.Fatal(err)
	}
	restored, err := svc.Restore(ctx, backupDir)
	if err != nil {
		t.Fatal(err)
	}
	if restored != 1 {
		t.Fatalf("expected 1 row restored, got %d", restored)
	}
	row, err := st.Get(ctx, store.TableWorkItems, ns, "keep-me")
	if err != nil {
		t.Fatal(err)
	}
	if row.Doc["title"] != "precious" {
		t.Fatalf("restored doc wrong: %+v", row.Doc)
	}

	if _, err := svc.Restore(ctx, t.TempDir()); err == nil {
		t.Fatal("restore from empty dir should fail")
	}
}

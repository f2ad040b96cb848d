// Package sync mirrors work items between the store and plain JSON files so
// agents and humans can edit either side. Conflicts resolve last-writer-wins
// by updated_at, matching the store's own merge rule.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

// Direction selects which side of the mirror wins.
type Direction string

const (
	FileToDB      Direction = "file_to_db"
	DBToFile      Direction = "db_to_file"
	Bidirectional Direction = "bidirectional"
)

// Service mirrors the work_items table against syncDir/<namespace>/*.json.
type Service struct {
	store   store.Store
	dataDir string
	syncDir string
	logger  *zap.Logger
}

// New creates the sync service.
func New(st store.Store, dataDir, syncDir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, dataDir: dataDir, syncDir: syncDir, logger: logger.Named("sync")}
}

// Result summarizes one sync run.
type Result struct {
	Direction Direction `json:"direction"`
	Imported  int       `json:"imported"` // files applied to the store
	Exported  int       `json:"exported"` // rows written to files
	Skipped   int       `json:"skipped"`  // already in sync
	Warnings  []string  `json:"warnings,omitempty"`
}

type fileEntry struct {
	path      string
	doc       map[string]any
	updatedAt time.Time
}

// Sync runs one pass in the given direction.
func (s *Service) Sync(ctx context.Context, ns string, dir Direction) (*Result, error) {
	switch dir {
	case FileToDB, DBToFile, Bidirectional:
	case "":
		dir = Bidirectional
	default:
		return nil, errs.Validation("sync_direction", "must be file_to_db, db_to_file, or bidirectional")
	}

	files, warnings, err := s.readFiles(ns)
	if err != nil {
		return nil, err
	}
	rows, err := s.readRows(ctx, ns)
	if err != nil {
		return nil, err
	}

	res := &Result{Direction: dir, Warnings: warnings}
	ids := unionKeys(files, rows)
	for _, id := range ids {
		file, hasFile := files[id]
		row, hasRow := rows[id]

		switch {
		case hasFile && !hasRow:
			if dir == DBToFile {
				res.Skipped++
				continue
			}
			if err := s.importFile(ctx, ns, id, file); err != nil {
				return res, err
			}
			res.Imported++
		case hasRow && !hasFile:
			if dir == FileToDB {
				res.Skipped++
				continue
			}
			if err := s.exportRow(ns, row); err != nil {
				return res, err
			}
			res.Exported++
		case file.updatedAt.After(row.UpdatedAt):
			if dir == DBToFile {
				if err := s.exportRow(ns, row); err != nil {
					return res, err
				}
				res.Exported++
				continue
			}
			if err := s.importFile(ctx, ns, id, file); err != nil {
				return res, err
			}
			res.Imported++
		case row.UpdatedAt.After(file.updatedAt):
			if dir == FileToDB {
				if err := s.importFile(ctx, ns, id, file); err != nil {
					return res, err
				}
				res.Imported++
				continue
			}
			if err := s.exportRow(ns, row); err != nil {
				return res, err
			}
			res.Exported++
		default:
			res.Skipped++
		}
	}
	s.logger.Info("sync pass complete",
		zap.String("namespace", ns), zap.String("direction", string(dir)),
		zap.Int("imported", res.Imported), zap.Int("exported", res.Exported))
	return res, nil
}

// Status reports how the two sides currently differ.
type Status struct {
	Files         int      `json:"files"`
	Rows          int      `json:"rows"`
	InSync        bool     `json:"in_sync"`
	PendingToDB   []string `json:"pending_to_db,omitempty"`
	PendingToFile []string `json:"pending_to_file,omitempty"`
}

// Status compares both sides without writing anything.
func (s *Service) Status(ctx context.Context, ns string) (*Status, error) {
	files, _, err := s.readFiles(ns)
	if err != nil {
		return nil, err
	}
	rows, err := s.readRows(ctx, ns)
	if err != nil {
		return nil, err
	}
	st := &Status{Files: len(files), Rows: len(rows)}
	for _, id := range unionKeys(files, rows) {
		file, hasFile := files[id]
		row, hasRow := rows[id]
		switch {
		case hasFile && (!hasRow || file.updatedAt.After(row.UpdatedAt)):
			st.PendingToDB = append(st.PendingToDB, id)
		case hasRow && (!hasFile || row.UpdatedAt.After(file.updatedAt)):
			st.PendingToFile = append(st.PendingToFile, id)
		}
	}
	st.InSync = len(st.PendingToDB) == 0 && len(st.PendingToFile) == 0
	return st, nil
}

// Issue is one problem found by Validate.
type Issue struct {
	Kind   string `json:"kind"` // unreadable, id_mismatch, content_drift
	Path   string `json:"path,omitempty"`
	ID     string `json:"id,omitempty"`
	Detail string `json:"detail"`
}

// Validate checks the file mirror for corruption: unparseable files, ids
// that disagree with their filename, and rows whose file claims the same
// updated_at but carries different content.
func (s *Service) Validate(ctx context.Context, ns string) ([]Issue, error) {
	var issues []Issue
	dir := s.namespaceDir(ns)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := s.readRows(ctx, ns)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		file, err := readFileEntry(path)
		if err != nil {
			issues = append(issues, Issue{Kind: "unreadable", Path: path, Detail: err.Error()})
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if docID, _ := file.doc["id"].(string); docID != id {
			issues = append(issues, Issue{Kind: "id_mismatch", Path: path, ID: id,
				Detail: fmt.Sprintf("document id %q does not match filename", docID)})
			continue
		}
		row, ok := rows[id]
		if ok && file.updatedAt.Equal(row.UpdatedAt) && docHash(file.doc) != docHash(row.Doc) {
			issues = append(issues, Issue{Kind: "content_drift", Path: path, ID: id,
				Detail: "same updated_at but different content"})
		}
	}
	return issues, nil
}

// Backup writes a full row-level copy of the database into destDir and
// returns the backup file path. Copying row by row stays correct with WAL
// contents that have not been checkpointed yet.
func (s *Service) Backup(ctx context.Context, destDir string) (string, error) {
	if destDir == "" {
		destDir = filepath.Join(s.dataDir, "backups", time.Now().UTC().Format("20060102-150405"))
	}
	dst, err := store.NewSQLite(destDir, s.logger)
	if err != nil {
		return "", fmt.Errorf("open backup store: %w", err)
	}
	defer func() { _ = dst.Close() }()

	for _, table := range store.Tables() {
		rows, err := s.store.Scan(ctx, table, nil, store.ScanOptions{})
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			continue
		}
		if err := dst.Upsert(ctx, table, rows); err != nil {
			return "", err
		}
	}
	path := store.DatabasePath(destDir)
	s.logger.Info("backup complete", zap.String("path", path))
	return path, nil
}

// Restore merges every row from a backup directory into the live store.
// Last-writer-wins applies per row, so restoring an old backup never clobbers
// newer live data.
func (s *Service) Restore(ctx context.Context, srcDir string) (int, error) {
	if _, err := os.Stat(store.DatabasePath(srcDir)); err != nil {
		return 0, errs.Newf(errs.CodeValidation, "backup not found at %s", srcDir)
	}
	src, err := store.NewSQLite(srcDir, s.logger)
	if err != nil {
		return 0, fmt.Errorf("open backup store: %w", err)
	}
	defer func() { _ = src.Close() }()

	restored := 0
	for _, table := range store.Tables() {
		rows, err := src.Scan(ctx, table, nil, store.ScanOptions{})
		if err != nil {
			return restored, err
		}
		if len(rows) == 0 {
			continue
		}
		if err := s.store.Upsert(ctx, table, rows); err != nil {
			return restored, err
		}
		restored += len(rows)
	}
	s.logger.Info("restore complete", zap.Int("rows", restored), zap.String("source", srcDir))
	return restored, nil
}

func (s *Service) namespaceDir(ns string) string {
	return filepath.Join(s.syncDir, ns)
}

func (s *Service) readFiles(ns string) (map[string]fileEntry, []string, error) {
	dir := s.namespaceDir(ns)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]fileEntry{}, nil, nil
		}
		return nil, nil, err
	}
	files := make(map[string]fileEntry, len(entries))
	var warnings []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		file, err := readFileEntry(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping %s: %v", path, err))
			s.logger.Warn("unreadable sync file", zap.String("path", path), zap.Error(err))
			continue
		}
		files[strings.TrimSuffix(entry.Name(), ".json")] = file
	}
	return files, warnings, nil
}

func (s *Service) readRows(ctx context.Context, ns string) (map[string]store.Row, error) {
	rows, err := s.store.Scan(ctx, store.TableWorkItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Row, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (s *Service) importFile(ctx context.Context, ns, id string, file fileEntry) error {
	return s.store.Upsert(ctx, store.TableWorkItems, []store.Row{{
		ID:        id,
		Namespace: ns,
		Doc:       file.doc,
		UpdatedAt: file.updatedAt,
	}})
}

func (s *Service) exportRow(ns string, row store.Row) error {
	dir := s.namespaceDir(ns)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(row.Doc, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, row.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readFileEntry(path string) (fileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileEntry{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fileEntry{}, fmt.Errorf("malformed JSON: %w", err)
	}
	raw, _ := doc["updated_at"].(string)
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fileEntry{}, fmt.Errorf("missing or malformed updated_at: %w", err)
	}
	return fileEntry{path: path, doc: doc, updatedAt: at}, nil
}

func docHash(doc map[string]any) string {
	// encoding/json sorts map keys, so equal documents hash equal.
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return string(sum[:])
}

func unionKeys(files map[string]fileEntry, rows map[string]store.Row) []string {
	seen := make(map[string]struct{}, len(files)+len(rows))
	for id := range files {
		seen[id] = struct{}{}
	}
	for id := range rows {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

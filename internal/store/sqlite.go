package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/mcp-jive/jive/internal/errs"
)

var fieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SQLiteStore is the embedded adapter implementation. Documents live as JSON
// in a single column; scalar predicates evaluate via json_extract; vector
// search scans candidate rows and selects top-k in process.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	opened map[string]struct{}
}

// NewSQLite opens (or creates) the store database under dataDir.
func NewSQLite(dataDir string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return openSQLite(filepath.Join(dataDir, "jive.db"), logger)
}

// NewSQLiteMemory opens an in-memory store, used by tests.
func NewSQLiteMemory(logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return openSQLite(":memory:", logger)
}

func openSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver serializes at the connection level; a single
	// connection avoids table-lock churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		// WAL mode for concurrent reads
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.Named("store"),
		opened: make(map[string]struct{}),
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	for _, table := range Tables() {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        TEXT NOT NULL,
			embedding  BLOB,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, id)
		)`, table)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		_, _ = s.db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ns ON %s(namespace)`, table, table))
	}
	return nil
}

// Open is idempotent per namespace. Tables are shared across namespaces, so
// this only records the namespace in the handle cache.
func (s *SQLiteStore) Open(_ context.Context, ns string) error {
	s.mu.RLock()
	_, ok := s.opened[ns]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	s.mu.Lock()
	s.opened[ns] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, table string, rows []Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if err := s.upsertOne(ctx, tx, table, row); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (s *SQLiteStore) upsertOne(ctx context.Context, tx *sql.Tx, table string, row Row) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	docBytes, err := json.Marshal(row.Doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	var existingDoc string
	var existingEmb []byte
	var existingAt string
	query := fmt.Sprintf(`SELECT doc, embedding, updated_at FROM %s WHERE namespace = ? AND id = ?`, table)
	err = tx.QueryRowContext(ctx, query, row.Namespace, row.ID).Scan(&existingDoc, &existingEmb, &existingAt)
	switch {
	case err == nil:
		prevAt, _ := time.Parse(time.RFC3339Nano, existingAt)
		if prevAt.After(row.UpdatedAt) {
			return nil // last writer wins; the stored row is newer
		}
		if prevAt.Equal(row.UpdatedAt) && rowHash([]byte(existingDoc)) >= rowHash(docBytes) {
			return nil // deterministic tie-break by row hash
		}
		emb := encodeVector(row.Embedding)
		if emb == nil {
			emb = existingEmb // merge: keep prior embedding when none provided
		}
		update := fmt.Sprintf(`UPDATE %s SET doc = ?, embedding = ?, updated_at = ? WHERE namespace = ? AND id = ?`, table)
		if _, err := tx.ExecContext(ctx, update, string(docBytes), emb, row.UpdatedAt.Format(time.RFC3339Nano), row.Namespace, row.ID); err != nil {
			return mapStoreErr(err)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		insert := fmt.Sprintf(`INSERT INTO %s (namespace, id, doc, embedding, updated_at) VALUES (?, ?, ?, ?, ?)`, table)
		if _, err := tx.ExecContext(ctx, insert, row.Namespace, row.ID, string(docBytes), encodeVector(row.Embedding), row.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
			return mapStoreErr(err)
		}
		return nil
	default:
		return mapStoreErr(err)
	}
}

func (s *SQLiteStore) Delete(ctx context.Context, table string, filter Filter) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s%s`, table, where), args...)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Get(ctx context.Context, table, ns, id string) (Row, error) {
	if err := checkTable(table); err != nil {
		return Row{}, err
	}
	query := fmt.Sprintf(`SELECT namespace, id, doc, embedding, updated_at FROM %s WHERE namespace = ? AND id = ?`, table)
	row, err := scanRow(s.db.QueryRowContext(ctx, query, ns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, notFound(table, id)
	}
	if err != nil {
		return Row{}, mapStoreErr(err)
	}
	return row, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, table string, filter Filter, opts ScanOptions) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT namespace, id, doc, embedding, updated_at FROM %s%s%s`, table, where, order)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, table string, query []float32, filter Filter, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	candidates, err := s.Scan(ctx, table, filter, ScanOptions{})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for _, row := range candidates {
		if len(row.Embedding) == 0 {
			continue
		}
		matches = append(matches, Match{Row: row, Distance: cosineDistance(query, row.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		// Tie-break: most recently updated first, then id for determinism.
		if !matches[i].Row.UpdatedAt.Equal(matches[j].Row.UpdatedAt) {
			return matches[i].Row.UpdatedAt.After(matches[j].Row.UpdatedAt)
		}
		return matches[i].Row.ID < matches[j].Row.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *SQLiteStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, table, where), args...).Scan(&n); err != nil {
		return 0, mapStoreErr(err)
	}
	return n, nil
}

func (s *SQLiteStore) Namespaces(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, table := range Tables() {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT namespace FROM %s`, table))
		if err != nil {
			return nil, mapStoreErr(err)
		}
		for rows.Next() {
			var ns string
			if err := rows.Scan(&ns); err != nil {
				rows.Close()
				return nil, mapStoreErr(err)
			}
			seen[ns] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, mapStoreErr(err)
		}
		rows.Close()
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DatabasePath returns the backing file path, or "" for in-memory stores.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "jive.db")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r *sql.Row) (Row, error)   { return scanFrom(r) }
func scanRows(r *sql.Rows) (Row, error) { return scanFrom(r) }

func scanFrom(r rowScanner) (Row, error) {
	var out Row
	var doc, updatedAt string
	var emb []byte
	if err := r.Scan(&out.Namespace, &out.ID, &doc, &emb, &updatedAt); err != nil {
		return Row{}, err
	}
	if err := json.Unmarshal([]byte(doc), &out.Doc); err != nil {
		return Row{}, fmt.Errorf("decode doc: %w", err)
	}
	out.Embedding = decodeVector(emb)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return out, nil
}

func buildWhere(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	for _, key := range keys {
		expr, err := fieldExpr(key)
		if err != nil {
			return "", nil, err
		}
		switch v := filter[key].(type) {
		case nil:
			clauses = append(clauses, expr+" IS NULL")
		case []string:
			if len(v) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := strings.Repeat("?, ", len(v))
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, placeholders[:len(placeholders)-2]))
			for _, item := range v {
				args = append(args, item)
			}
		default:
			clauses = append(clauses, expr+" = ?")
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildOrder(orders []Order) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		expr, err := fieldExpr(o.Field)
		if err != nil {
			return "", err
		}
		if o.Desc {
			expr += " DESC"
		}
		parts = append(parts, expr)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func fieldExpr(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	switch field {
	case "id", "namespace", "updated_at":
		return field, nil
	default:
		return fmt.Sprintf("json_extract(doc, '$.%s')", field), nil
	}
}

func checkTable(table string) error {
	for _, t := range Tables() {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("unknown table %q", table)
}

func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func rowHash(doc []byte) string {
	sum := blake2b.Sum256(doc)
	return string(sum[:])
}

func notFound(table, id string) error {
	return errs.Newf(errs.CodeNotFound, "%s row not found: %s", table, id)
}

func mapStoreErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return errs.New(errs.CodeStoreUnavailable, msg)
	}
	return err
}

// IsNotFound reports whether err is the adapter's row-missing error.
func IsNotFound(err error) bool {
	return errs.CodeOf(err) == errs.CodeNotFound
}

// Package store provides the uniform table-store interface over the embedded
// database. Repositories speak to the adapter only; the concrete backend is
// an implementation detail behind Store.
package store

import (
	"context"
	"time"
)

// Table names are a closed set, fixed at startup.
const (
	TableWorkItems         = "work_items"
	TableDependencies      = "work_item_dependencies"
	TableExecutionLogs     = "execution_logs"
	TableProgressEvents    = "progress_events"
	TableMilestones        = "milestones"
	TableArchitectureItems = "architecture_items"
	TableTroubleshootItems = "troubleshoot_items"
)

// Tables lists every table the adapter manages.
func Tables() []string {
	return []string{
		TableWorkItems,
		TableDependencies,
		TableExecutionLogs,
		TableProgressEvents,
		TableMilestones,
		TableArchitectureItems,
		TableTroubleshootItems,
	}
}

// Row is one stored record: a JSON document plus the columns the adapter
// indexes (primary key, namespace, embedding, write timestamp).
type Row struct {
	ID        string
	Namespace string
	Doc       map[string]any
	Embedding []float32
	UpdatedAt time.Time
}

// Filter matches rows by scalar equality. Keys "id" and "namespace" hit
// indexed columns; any other key matches the same-named document field.
// A nil value matches a null/absent field. A []string value matches any of
// the listed values.
type Filter map[string]any

// Order is one sort key for Scan.
type Order struct {
	Field string
	Desc  bool
}

// ScanOptions bound and order a Scan.
type ScanOptions struct {
	Limit   int
	Offset  int
	OrderBy []Order
}

// Match is a vector search hit. Smaller Distance is closer.
type Match struct {
	Row      Row
	Distance float64
}

// Store is the uniform adapter contract. All methods are safe for concurrent
// use. Concurrent writes to the same primary key resolve last-writer-wins by
// UpdatedAt; ties resolve deterministically by row hash.
type Store interface {
	// Open prepares the store for a namespace. Idempotent; creates missing
	// tables on first call.
	Open(ctx context.Context, namespace string) error

	// Upsert writes rows by primary key. A row with a nil Embedding keeps any
	// previously stored embedding.
	Upsert(ctx context.Context, table string, rows []Row) error

	// Delete removes rows matching the filter and returns the count removed.
	Delete(ctx context.Context, table string, filter Filter) (int, error)

	// Get fetches one row by primary key within a namespace.
	Get(ctx context.Context, table, namespace, id string) (Row, error)

	// Scan returns rows matching the filter, ordered and paged.
	Scan(ctx context.Context, table string, filter Filter, opts ScanOptions) ([]Row, error)

	// VectorSearch returns the k nearest rows to the query vector among rows
	// matching the filter.
	VectorSearch(ctx context.Context, table string, query []float32, filter Filter, k int) ([]Match, error)

	// Count returns the number of rows matching the filter.
	Count(ctx context.Context, table string, filter Filter) (int, error)

	// Namespaces lists every namespace with stored rows.
	Namespaces(ctx context.Context) ([]string, error)

	// Close releases the backing database.
	Close() error
}

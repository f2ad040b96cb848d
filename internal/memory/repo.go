package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
)

// Repo is the sole mutator of memory items. The slug doubles as the row
// primary key, which gives per-namespace slug uniqueness for free.
type Repo struct {
	store    store.Store
	embedder embedding.Embedder
	engine   *search.Engine
	bus      *events.Bus
	logger   *zap.Logger
}

// New creates the memory repository.
func New(st store.Store, emb embedding.Embedder, engine *search.Engine, bus *events.Bus, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		store:    st,
		embedder: emb,
		engine:   engine,
		bus:      bus,
		logger:   logger.Named("memory"),
	}
}

// CreateArchitecture persists a new architecture item. A taken slug fails
// with DUPLICATE_SLUG.
func (r *Repo) CreateArchitecture(ctx context.Context, ns string, item *ArchitectureItem) (*ArchitectureItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkSlugFree(ctx, store.TableArchitectureItems, ns, item.Slug); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if err := r.persist(ctx, store.TableArchitectureItems, ns, item.Slug, item, item.EmbeddingText(), item.UpdatedAt); err != nil {
		return nil, err
	}
	r.publish(events.MemoryCreated, ns, item.Slug, "architecture memory created: "+item.Title)
	return item, nil
}

// CreateTroubleshoot persists a new troubleshoot item.
func (r *Repo) CreateTroubleshoot(ctx context.Context, ns string, item *TroubleshootItem) (*TroubleshootItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkSlugFree(ctx, store.TableTroubleshootItems, ns, item.Slug); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if err := r.persist(ctx, store.TableTroubleshootItems, ns, item.Slug, item, item.EmbeddingText(), item.UpdatedAt); err != nil {
		return nil, err
	}
	r.publish(events.MemoryCreated, ns, item.Slug, "troubleshoot memory created: "+item.Title)
	return item, nil
}

// GetArchitecture fetches one architecture item by slug.
func (r *Repo) GetArchitecture(ctx context.Context, ns, slug string) (*ArchitectureItem, error) {
	row, err := r.store.Get(ctx, store.TableArchitectureItems, ns, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errs.NotFound("architecture memory", slug)
		}
		return nil, err
	}
	var item ArchitectureItem
	if err := fromDoc(row.Doc, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetTroubleshoot fetches one troubleshoot item by slug.
func (r *Repo) GetTroubleshoot(ctx context.Context, ns, slug string) (*TroubleshootItem, error) {
	row, err := r.store.Get(ctx, store.TableTroubleshootItems, ns, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errs.NotFound("troubleshoot memory", slug)
		}
		return nil, err
	}
	var item TroubleshootItem
	if err := fromDoc(row.Doc, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateArchitecture applies a patch of mutable fields by slug. The slug
// itself is immutable.
func (r *Repo) UpdateArchitecture(ctx context.Context, ns, slug string, patch map[string]any) (*ArchitectureItem, error) {
	item, err := r.GetArchitecture(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	reembed := false
	for key, value := range patch {
		switch key {
		case "title":
			item.Title = asString(value)
			reembed = true
		case "ai_when_to_use":
			item.AIWhenToUse = asStrings(value)
			reembed = true
		case "ai_requirements":
			item.AIRequirements = asString(value)
			reembed = true
		case "children_slugs":
			item.ChildrenSlugs = asStrings(value)
		case "related_slugs":
			item.RelatedSlugs = asStrings(value)
		case "linked_epic_ids":
			item.LinkedEpicIDs = asStrings(value)
		case "keywords":
			item.Keywords = asStrings(value)
		case "tags":
			item.Tags = asStrings(value)
		default:
			return nil, errs.Validation(key, "unknown or immutable field")
		}
	}
	item.UpdatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return nil, err
	}
	embedText := ""
	if reembed {
		embedText = item.EmbeddingText()
	}
	if err := r.persist(ctx, store.TableArchitectureItems, ns, slug, item, embedText, item.UpdatedAt); err != nil {
		return nil, err
	}
	r.publish(events.MemoryUpdated, ns, slug, "architecture memory updated: "+item.Title)
	return item, nil
}

// UpdateTroubleshoot applies a patch of mutable fields by slug.
func (r *Repo) UpdateTroubleshoot(ctx context.Context, ns, slug string, patch map[string]any) (*TroubleshootItem, error) {
	item, err := r.GetTroubleshoot(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	reembed := false
	for key, value := range patch {
		switch key {
		case "title":
			item.Title = asString(value)
			reembed = true
		case "ai_use_case":
			item.AIUseCase = asString(value)
			reembed = true
		case "ai_solutions":
			item.AISolutions = asString(value)
		case "keywords":
			item.Keywords = asStrings(value)
		case "tags":
			item.Tags = asStrings(value)
		default:
			return nil, errs.Validation(key, "unknown or immutable field")
		}
	}
	item.UpdatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return nil, err
	}
	embedText := ""
	if reembed {
		embedText = item.EmbeddingText()
	}
	if err := r.persist(ctx, store.TableTroubleshootItems, ns, slug, item, embedText, item.UpdatedAt); err != nil {
		return nil, err
	}
	r.publish(events.MemoryUpdated, ns, slug, "troubleshoot memory updated: "+item.Title)
	return item, nil
}

// Delete removes an item by slug. Deleting a missing slug is NOT_FOUND.
func (r *Repo) Delete(ctx context.Context, ns string, typ Type, slug string) error {
	table, err := TableFor(typ)
	if err != nil {
		return err
	}
	n, err := r.store.Delete(ctx, table, store.Filter{"namespace": ns, "id": slug})
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound(string(typ)+" memory", slug)
	}
	r.publish(events.MemoryDeleted, ns, slug, string(typ)+" memory deleted: "+slug)
	return nil
}

// ListArchitecture returns every architecture item in the namespace, ordered
// by slug.
func (r *Repo) ListArchitecture(ctx context.Context, ns string) ([]*ArchitectureItem, error) {
	rows, err := r.store.Scan(ctx, store.TableArchitectureItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	items := make([]*ArchitectureItem, 0, len(rows))
	for _, row := range rows {
		var item ArchitectureItem
		if err := fromDoc(row.Doc, &item); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
	return items, nil
}

// ListTroubleshoot returns every troubleshoot item in the namespace, ordered
// by slug.
func (r *Repo) ListTroubleshoot(ctx context.Context, ns string) ([]*TroubleshootItem, error) {
	rows, err := r.store.Scan(ctx, store.TableTroubleshootItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	items := make([]*TroubleshootItem, 0, len(rows))
	for _, row := range rows {
		var item TroubleshootItem
		if err := fromDoc(row.Doc, &item); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
	return items, nil
}

// Hit is one memory search result.
type Hit struct {
	Slug  string         `json:"slug"`
	Title string         `json:"title"`
	Score float64        `json:"score"`
	Doc   map[string]any `json:"doc,omitempty"`
}

// Search runs the shared engine over one memory table.
func (r *Repo) Search(ctx context.Context, ns string, typ Type, query string, mode search.Mode, limit int) ([]Hit, error) {
	table, err := TableFor(typ)
	if err != nil {
		return nil, err
	}
	results, err := r.engine.Search(ctx, table, ns, query, TextFields(typ), nil, search.Options{
		Mode:  mode,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			Slug:  res.Row.ID,
			Title: asString(res.Row.Doc["title"]),
			Score: res.Score,
			Doc:   res.Row.Doc,
		})
	}
	return hits, nil
}

func (r *Repo) checkSlugFree(ctx context.Context, table, ns, slug string) error {
	_, err := r.store.Get(ctx, table, ns, slug)
	if err == nil {
		return errs.Newf(errs.CodeDuplicateSlug, "slug already exists: %s", slug).WithDetail("slug", slug)
	}
	if store.IsNotFound(err) {
		return nil
	}
	return err
}

// persist writes the item; a non-empty embedText recomputes the embedding.
func (r *Repo) persist(ctx context.Context, table, ns, slug string, item any, embedText string, updatedAt time.Time) error {
	doc, err := toDoc(item)
	if err != nil {
		return err
	}
	row := store.Row{
		ID:        slug,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: updatedAt,
	}
	if embedText != "" {
		vec, err := r.embedder.Embed(ctx, embedText)
		if err != nil {
			return err
		}
		row.Embedding = vec
	}
	return r.store.Upsert(ctx, table, []store.Row{row})
}

func (r *Repo) publish(t events.EventType, ns, slug, summary string) {
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: t, Namespace: ns, EntityID: slug, Summary: summary})
	}
}

func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode memory item: %w", err)
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

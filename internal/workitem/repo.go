package workitem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
)

// TextFields are the fields the search engine scans for keyword matches.
var TextFields = []string{"title", "description"}

// minGetScore is the similarity floor for fuzzy identifier resolution.
// Unrelated text scores about 0.5 under the 1/(1+distance) mapping, so the
// floor sits well above it.
const minGetScore = 0.6

// Repo is the sole mutator of work items and their dependency edges.
type Repo struct {
	store    store.Store
	embedder embedding.Embedder
	engine   *search.Engine
	bus      *events.Bus
	logger   *zap.Logger
	strict   bool

	// Per-namespace write lock. Cycle detection and sibling renumbering need
	// a consistent snapshot; reads and simple upserts skip it.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates the work-item repository. strict rejects (instead of warns on)
// hierarchy type-order violations.
func New(st store.Store, emb embedding.Embedder, engine *search.Engine, bus *events.Bus, logger *zap.Logger, strict bool) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		store:    st,
		embedder: emb,
		engine:   engine,
		bus:      bus,
		logger:   logger.Named("workitem"),
		strict:   strict,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Repo) nsLock(ns string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	mu, ok := r.locks[ns]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[ns] = mu
	}
	return mu
}

// CreateInput is the caller-supplied part of a new work item.
type CreateInput struct {
	ItemType           ItemType
	Title              string
	Description        string
	Status             Status
	Priority           Priority
	ParentID           *string
	Complexity         Complexity
	ContextTags        []string
	AcceptanceCriteria []string
	EffortEstimate     *float64
	Tags               []string
	Assignee           string
	OrderIndex         *int
}

// CreateResult carries the created item plus any soft-violation warnings.
type CreateResult struct {
	Item     *WorkItem
	Warnings []string
}

// Create assigns identity, sequence number and timestamps, computes the
// embedding and persists the item.
func (r *Repo) Create(ctx context.Context, ns string, in CreateInput) (*CreateResult, error) {
	mu := r.nsLock(ns)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	item := &WorkItem{
		ID:                 uuid.NewString(),
		ItemType:           in.ItemType,
		Title:              in.Title,
		Description:        in.Description,
		Status:             in.Status,
		Priority:           in.Priority,
		ParentID:           in.ParentID,
		Complexity:         in.Complexity,
		ContextTags:        in.ContextTags,
		AcceptanceCriteria: in.AcceptanceCriteria,
		EffortEstimate:     in.EffortEstimate,
		Tags:               in.Tags,
		Assignee:           in.Assignee,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if item.Status == "" {
		item.Status = StatusNotStarted
	}
	if item.Priority == "" {
		item.Priority = PriorityMedium
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	var warnings []string
	if item.ParentID != nil {
		parent, err := r.byID(ctx, ns, *item.ParentID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, errs.Validation("parent_id", "parent does not exist in namespace")
			}
			return nil, err
		}
		if !TypeOrderOK(parent.ItemType, item.ItemType) {
			msg := fmt.Sprintf("type order violation: %s under %s", item.ItemType, parent.ItemType)
			if r.strict {
				return nil, errs.Validation("item_type", msg)
			}
			warnings = append(warnings, msg)
		}
	}

	siblings, err := r.siblings(ctx, ns, item.ParentID)
	if err != nil {
		return nil, err
	}
	maxSeq := 0
	for _, s := range siblings {
		if s.SequenceNumber > maxSeq {
			maxSeq = s.SequenceNumber
		}
	}
	item.SequenceNumber = maxSeq + 1
	if in.OrderIndex != nil {
		item.OrderIndex = *in.OrderIndex
	} else {
		item.OrderIndex = item.SequenceNumber
	}

	if err := r.persist(ctx, ns, item, true); err != nil {
		return nil, err
	}
	r.publish(events.WorkItemCreated, ns, item.ID, "work item created: "+item.Title)
	return &CreateResult{Item: item, Warnings: warnings}, nil
}

// Update applies a patch of mutable fields, bumps updated_at, and re-embeds
// iff title or description changed.
func (r *Repo) Update(ctx context.Context, ns, id string, patch map[string]any) (*WorkItem, error) {
	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return nil, err
	}

	oldParent := parentKey(item.ParentID)
	reembed := false
	for key, value := range patch {
		switch key {
		case "title":
			s, ok := value.(string)
			if !ok {
				return nil, errs.Validation("title", "must be a string")
			}
			if s != item.Title {
				item.Title = s
				reembed = true
			}
		case "description":
			s, ok := value.(string)
			if !ok {
				return nil, errs.Validation("description", "must be a string")
			}
			if s != item.Description {
				item.Description = s
				reembed = true
			}
		case "status":
			item.Status = Status(asString(value))
		case "priority":
			item.Priority = Priority(asString(value))
		case "complexity":
			item.Complexity = Complexity(asString(value))
		case "assignee":
			item.Assignee = asString(value)
		case "parent_id":
			if value == nil {
				item.ParentID = nil
			} else {
				pid := asString(value)
				if _, err := r.byID(ctx, ns, pid); err != nil {
					if store.IsNotFound(err) {
						return nil, errs.Validation("parent_id", "parent does not exist in namespace")
					}
					return nil, err
				}
				if isDescendant, err := r.inSubtree(ctx, ns, id, pid); err != nil {
					return nil, err
				} else if isDescendant || pid == id {
					return nil, errs.Validation("parent_id", "would create a hierarchy cycle")
				}
				item.ParentID = &pid
			}
		case "progress_percentage":
			f, ok := asFloat(value)
			if !ok {
				return nil, errs.Validation("progress_percentage", "must be a number")
			}
			item.ProgressPercentage = f
		case "effort_estimate":
			if value == nil {
				item.EffortEstimate = nil
			} else if f, ok := asFloat(value); ok {
				item.EffortEstimate = &f
			} else {
				return nil, errs.Validation("effort_estimate", "must be a number")
			}
		case "order_index":
			f, ok := asFloat(value)
			if !ok {
				return nil, errs.Validation("order_index", "must be a number")
			}
			item.OrderIndex = int(f)
		case "context_tags":
			item.ContextTags = asStrings(value)
		case "acceptance_criteria":
			item.AcceptanceCriteria = asStrings(value)
		case "tags":
			item.Tags = asStrings(value)
		default:
			return nil, errs.Validation(key, "unknown or immutable field")
		}
	}

	// A parent change drops the item into a different sibling group; give it
	// the next sequence number there so numbers stay unique per group.
	if parentKey(item.ParentID) != oldParent {
		siblings, err := r.siblings(ctx, ns, item.ParentID)
		if err != nil {
			return nil, err
		}
		maxSeq := 0
		for _, s := range siblings {
			if s.ID != id && s.SequenceNumber > maxSeq {
				maxSeq = s.SequenceNumber
			}
		}
		item.SequenceNumber = maxSeq + 1
		if _, ok := patch["order_index"]; !ok {
			item.OrderIndex = item.SequenceNumber
		}
	}

	item.UpdatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := r.persist(ctx, ns, item, reembed); err != nil {
		return nil, err
	}
	r.publish(events.WorkItemUpdated, ns, item.ID, "work item updated: "+item.Title)
	return item, nil
}

// DeleteMode controls what happens to children on delete.
type DeleteMode string

const (
	DeleteReparentChildren  DeleteMode = "reparent_children"
	DeleteDeleteDescendants DeleteMode = "delete_descendants"
)

// Delete removes an item and its dependency edges. Children are re-parented
// to the grandparent by default, or removed with delete_descendants.
func (r *Repo) Delete(ctx context.Context, ns, id string, mode DeleteMode) (int, error) {
	if mode == "" {
		mode = DeleteReparentChildren
	}
	mu := r.nsLock(ns)
	mu.Lock()
	defer mu.Unlock()

	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return 0, err
	}

	deleted := 0
	switch mode {
	case DeleteDeleteDescendants:
		ids, err := r.subtreeIDs(ctx, ns, id)
		if err != nil {
			return 0, err
		}
		for _, victim := range ids {
			if err := r.deleteOne(ctx, ns, victim); err != nil {
				return deleted, err
			}
			deleted++
		}
	case DeleteReparentChildren:
		children, err := r.siblings(ctx, ns, &id)
		if err != nil {
			return 0, err
		}
		for _, child := range children {
			child.ParentID = item.ParentID
			child.UpdatedAt = time.Now().UTC()
			if err := r.persist(ctx, ns, child, false); err != nil {
				return 0, err
			}
		}
		if err := r.deleteOne(ctx, ns, id); err != nil {
			return 0, err
		}
		deleted = 1
	default:
		return 0, errs.Validation("mode", "must be reparent_children or delete_descendants")
	}

	r.publish(events.WorkItemDeleted, ns, id, "work item deleted: "+item.Title)
	return deleted, nil
}

// deleteOne removes a single row and both directions of its edges.
func (r *Repo) deleteOne(ctx context.Context, ns, id string) error {
	if _, err := r.store.Delete(ctx, store.TableWorkItems, store.Filter{"namespace": ns, "id": id}); err != nil {
		return err
	}
	// Edge removal after the row: if it fails, validate_graph self-heals.
	if _, err := r.store.Delete(ctx, store.TableDependencies, store.Filter{"namespace": ns, "source_id": id}); err != nil {
		r.logger.Warn("dangling edges left behind", zap.String("id", id), zap.Error(err))
	}
	if _, err := r.store.Delete(ctx, store.TableDependencies, store.Filter{"namespace": ns, "target_id": id}); err != nil {
		r.logger.Warn("dangling edges left behind", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Get resolves a flexible identifier: exact UUID, then case-insensitive
// exact title, then top-1 vector similarity above the minimum score.
func (r *Repo) Get(ctx context.Context, ns, identifier string) (*WorkItem, error) {
	if _, err := uuid.Parse(identifier); err == nil {
		return r.byID(ctx, ns, identifier)
	}

	rows, err := r.store.Scan(ctx, store.TableWorkItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	wanted := strings.ToLower(strings.TrimSpace(identifier))
	var titleHit *WorkItem
	for _, row := range rows {
		item, err := decodeItem(row)
		if err != nil {
			continue
		}
		if strings.ToLower(item.Title) == wanted {
			// Tie-break duplicate titles by most recent update.
			if titleHit == nil || item.UpdatedAt.After(titleHit.UpdatedAt) {
				titleHit = item
			}
		}
	}
	if titleHit != nil {
		return titleHit, nil
	}

	results, err := r.engine.Search(ctx, store.TableWorkItems, ns, identifier, TextFields, nil, search.Options{
		Mode:  search.ModeSemantic,
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Score < minGetScore {
		return nil, errs.NotFound("work item", identifier)
	}
	return decodeItem(results[0].Row)
}

// ListFilter narrows a List call.
type ListFilter struct {
	Types      []ItemType
	Statuses   []Status
	Priorities []Priority
	ParentID   *string
	RootsOnly  bool
	Tags       []string
	Assignee   string
}

// ListOptions page and order a List call.
type ListOptions struct {
	SortBy string
	Desc   bool
	Limit  int
	Offset int
}

// List returns work items with stable ordering. Limit is clamped to [1,100].
func (r *Repo) List(ctx context.Context, ns string, filter ListFilter, opts ListOptions) ([]*WorkItem, error) {
	sf := store.Filter{"namespace": ns}
	if len(filter.Types) == 1 {
		sf["item_type"] = string(filter.Types[0])
	}
	if len(filter.Statuses) == 1 {
		sf["status"] = string(filter.Statuses[0])
	}
	if filter.RootsOnly {
		sf["parent_id"] = nil
	} else if filter.ParentID != nil {
		sf["parent_id"] = *filter.ParentID
	}

	rows, err := r.store.Scan(ctx, store.TableWorkItems, sf, store.ScanOptions{})
	if err != nil {
		return nil, err
	}

	items := make([]*WorkItem, 0, len(rows))
	for _, row := range rows {
		item, err := decodeItem(row)
		if err != nil {
			return nil, err
		}
		if !matchesList(item, filter) {
			continue
		}
		items = append(items, item)
	}

	sortItems(items, opts.SortBy, opts.Desc)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if opts.Offset >= len(items) {
		return []*WorkItem{}, nil
	}
	items = items[opts.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func matchesList(item *WorkItem, filter ListFilter) bool {
	if len(filter.Types) > 1 && !containsType(filter.Types, item.ItemType) {
		return false
	}
	if len(filter.Statuses) > 1 && !containsStatus(filter.Statuses, item.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, item.Priority) {
		return false
	}
	if filter.Assignee != "" && item.Assignee != filter.Assignee {
		return false
	}
	if len(filter.Tags) > 0 {
		tagSet := make(map[string]struct{}, len(item.Tags))
		for _, t := range item.Tags {
			tagSet[t] = struct{}{}
		}
		for _, want := range filter.Tags {
			if _, ok := tagSet[want]; !ok {
				return false
			}
		}
	}
	return true
}

// sortItems orders by the requested field; ties break by order_index, then
// created_at.
func sortItems(items []*WorkItem, sortBy string, desc bool) {
	less := func(a, b *WorkItem) int {
		switch sortBy {
		case "title":
			return strings.Compare(a.Title, b.Title)
		case "priority":
			return comparePriority(a.Priority, b.Priority)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case "progress_percentage":
			switch {
			case a.ProgressPercentage < b.ProgressPercentage:
				return -1
			case a.ProgressPercentage > b.ProgressPercentage:
				return 1
			}
			return 0
		default: // created_at
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		c := less(items[i], items[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		if items[i].OrderIndex != items[j].OrderIndex {
			return items[i].OrderIndex < items[j].OrderIndex
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

func comparePriority(a, b Priority) int {
	return priorityRank[a] - priorityRank[b]
}

// byID fetches and decodes one item.
func (r *Repo) byID(ctx context.Context, ns, id string) (*WorkItem, error) {
	row, err := r.store.Get(ctx, store.TableWorkItems, ns, id)
	if err != nil {
		return nil, err
	}
	return decodeItem(row)
}

// siblings returns the children of parent (nil = roots), ordered by
// order_index then sequence_number.
func (r *Repo) siblings(ctx context.Context, ns string, parent *string) ([]*WorkItem, error) {
	sf := store.Filter{"namespace": ns}
	if parent == nil {
		sf["parent_id"] = nil
	} else {
		sf["parent_id"] = *parent
	}
	rows, err := r.store.Scan(ctx, store.TableWorkItems, sf, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	items := make([]*WorkItem, 0, len(rows))
	for _, row := range rows {
		item, err := decodeItem(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].OrderIndex != items[j].OrderIndex {
			return items[i].OrderIndex < items[j].OrderIndex
		}
		return items[i].SequenceNumber < items[j].SequenceNumber
	})
	return items, nil
}

// persist writes the item, recomputing the embedding when asked.
func (r *Repo) persist(ctx context.Context, ns string, item *WorkItem, reembed bool) error {
	doc, err := toDoc(item)
	if err != nil {
		return err
	}
	row := store.Row{
		ID:        item.ID,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: item.UpdatedAt,
	}
	if reembed {
		vec, err := r.embedder.Embed(ctx, item.EmbeddingText())
		if err != nil {
			return err
		}
		row.Embedding = vec
	}
	return r.store.Upsert(ctx, store.TableWorkItems, []store.Row{row})
}

func (r *Repo) publish(t events.EventType, ns, id, summary string) {
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: t, Namespace: ns, EntityID: id, Summary: summary})
	}
}

func decodeItem(row store.Row) (*WorkItem, error) {
	var item WorkItem
	if err := fromDoc(row.Doc, &item); err != nil {
		return nil, fmt.Errorf("decode work item %s: %w", row.ID, err)
	}
	return &item, nil
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
	return json.Unmarshal(data, v)
}

func parentKey(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
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

func containsType(list []ItemType, v ItemType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, v Status) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsPriority(list []Priority, v Priority) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

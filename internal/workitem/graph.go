package workitem

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/store"
)

// maxTransitiveHops bounds transitive dependency traversal.
const maxTransitiveHops = 10

// AddDependency inserts an edge, normalizing blocked_by to the inverse
// blocks edge and rejecting cycles in the blocks subgraph.
func (r *Repo) AddDependency(ctx context.Context, ns, source, target string, depType DependencyType) (*Dependency, error) {
	if !ValidDependencyType(depType) {
		return nil, errs.Validation("dependency_type", "must be one of blocks, blocked_by, related, subtask_of")
	}
	// blocked_by(s,t) is the inverse spelling of blocks(t,s).
	if depType == DepBlockedBy {
		source, target = target, source
		depType = DepBlocks
	}
	if source == target {
		return nil, errs.Validation("target_work_item_id", "an item cannot depend on itself")
	}

	mu := r.nsLock(ns)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.byID(ctx, ns, source); err != nil {
		return nil, err
	}
	if _, err := r.byID(ctx, ns, target); err != nil {
		return nil, err
	}

	edges, err := r.edges(ctx, ns)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if e.SourceID == source && e.TargetID == target && e.DependencyType == depType {
			return e, nil // idempotent: the edge already exists
		}
	}

	if depType == DepBlocks {
		if cycle := findCycle(edges, source, target); cycle != nil {
			return nil, errs.New(errs.CodeCycleDetected, "dependency would create a cycle").
				WithDetail("cycle", cycle)
		}
	}

	edge := &Dependency{
		ID:             uuid.NewString(),
		SourceID:       source,
		TargetID:       target,
		DependencyType: depType,
		CreatedAt:      time.Now().UTC(),
	}
	doc, err := toDoc(edge)
	if err != nil {
		return nil, err
	}
	err = r.store.Upsert(ctx, store.TableDependencies, []store.Row{{
		ID:        edge.ID,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: edge.CreatedAt,
	}})
	if err != nil {
		return nil, err
	}
	r.publish(events.DependencyAdded, ns, edge.ID, fmt.Sprintf("dependency added: %s %s %s", source, depType, target))
	return edge, nil
}

// RemoveDependency deletes a matching edge. Removing a nonexistent edge
// succeeds.
func (r *Repo) RemoveDependency(ctx context.Context, ns, source, target string, depType DependencyType) error {
	if depType == DepBlockedBy {
		source, target = target, source
		depType = DepBlocks
	}
	filter := store.Filter{
		"namespace": ns,
		"source_id": source,
		"target_id": target,
	}
	if depType != "" {
		filter["dependency_type"] = string(depType)
	}
	n, err := r.store.Delete(ctx, store.TableDependencies, filter)
	if err != nil {
		return err
	}
	if n > 0 {
		r.publish(events.DependencyRemoved, ns, "", fmt.Sprintf("dependency removed: %s -> %s", source, target))
	}
	return nil
}

// Direction selects which edges GetDependencies follows.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// GetDependencies returns edges touching the item; transitive walks the
// blocks subgraph breadth-first up to 10 hops.
func (r *Repo) GetDependencies(ctx context.Context, ns, id string, dir Direction, transitive bool) ([]*Dependency, error) {
	if dir == "" {
		dir = DirBoth
	}
	if _, err := r.byID(ctx, ns, id); err != nil {
		return nil, err
	}
	edges, err := r.edges(ctx, ns)
	if err != nil {
		return nil, err
	}

	if !transitive {
		var out []*Dependency
		for _, e := range edges {
			if (dir == DirOut || dir == DirBoth) && e.SourceID == id {
				out = append(out, e)
			} else if (dir == DirIn || dir == DirBoth) && e.TargetID == id {
				out = append(out, e)
			}
		}
		return out, nil
	}

	// BFS over blocks edges only; related/subtask_of are not transitive.
	visited := map[string]int{id: 0}
	queue := []string{id}
	var out []*Dependency
	collected := make(map[string]struct{})
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		hops := visited[current]
		if hops >= maxTransitiveHops {
			continue
		}
		for _, e := range edges {
			if e.DependencyType != DepBlocks {
				continue
			}
			var next string
			switch {
			case (dir == DirOut || dir == DirBoth) && e.SourceID == current:
				next = e.TargetID
			case (dir == DirIn || dir == DirBoth) && e.TargetID == current:
				next = e.SourceID
			default:
				continue
			}
			if _, dup := collected[e.ID]; !dup {
				collected[e.ID] = struct{}{}
				out = append(out, e)
			}
			if _, seen := visited[next]; !seen {
				visited[next] = hops + 1
				queue = append(queue, next)
			}
		}
	}
	return out, nil
}

// Violation is one inconsistency found by ValidateGraph.
type Violation struct {
	Kind     string `json:"kind"` // cycle, orphan, dangling_edge
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

// ValidateGraph checks the namespace (or one subtree) for cycles, orphaned
// items and dangling edges. With heal, dangling edges are deleted and
// orphans become roots — the self-healing pass run by the maintenance
// scheduler.
func (r *Repo) ValidateGraph(ctx context.Context, ns, scopeRoot string, heal bool) ([]Violation, error) {
	rows, err := r.store.Scan(ctx, store.TableWorkItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	items := make(map[string]*WorkItem, len(rows))
	for _, row := range rows {
		item, err := decodeItem(row)
		if err != nil {
			return nil, err
		}
		items[item.ID] = item
	}

	inScope := func(id string) bool { return true }
	if scopeRoot != "" {
		ids, err := r.subtreeIDs(ctx, ns, scopeRoot)
		if err != nil {
			return nil, err
		}
		scopeSet := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			scopeSet[id] = struct{}{}
		}
		inScope = func(id string) bool {
			_, ok := scopeSet[id]
			return ok
		}
	}

	var violations []Violation

	// Orphans: parent_id points at a missing item.
	for id, item := range items {
		if !inScope(id) || item.ParentID == nil {
			continue
		}
		if _, ok := items[*item.ParentID]; !ok {
			violations = append(violations, Violation{
				Kind:     "orphan",
				EntityID: id,
				Detail:   fmt.Sprintf("parent %s does not exist", *item.ParentID),
			})
			if heal {
				item.ParentID = nil
				item.UpdatedAt = time.Now().UTC()
				if err := r.persist(ctx, ns, item, false); err != nil {
					return violations, err
				}
				r.logger.Info("reparented orphan to root", zap.String("id", id), zap.String("namespace", ns))
			}
		}
	}

	edges, err := r.edges(ctx, ns)
	if err != nil {
		return violations, err
	}

	// Dangling edges: either endpoint missing.
	var live []*Dependency
	for _, e := range edges {
		_, srcOK := items[e.SourceID]
		_, dstOK := items[e.TargetID]
		if srcOK && dstOK {
			live = append(live, e)
			continue
		}
		if !inScope(e.SourceID) && !inScope(e.TargetID) {
			continue
		}
		violations = append(violations, Violation{
			Kind:     "dangling_edge",
			EntityID: e.ID,
			Detail:   fmt.Sprintf("edge %s -> %s references a missing item", e.SourceID, e.TargetID),
		})
		if heal {
			if _, err := r.store.Delete(ctx, store.TableDependencies, store.Filter{"namespace": ns, "id": e.ID}); err != nil {
				return violations, err
			}
			r.logger.Info("removed dangling edge", zap.String("edge", e.ID), zap.String("namespace", ns))
		}
	}

	// Cycles in the blocks subgraph.
	for _, cycle := range findAllCycles(live) {
		if len(cycle) > 0 && !inScope(cycle[0]) {
			continue
		}
		violations = append(violations, Violation{
			Kind:     "cycle",
			EntityID: cycle[0],
			Detail:   fmt.Sprintf("blocks cycle: %v", cycle),
		})
	}

	return violations, nil
}

// BlockedBy returns the ids of incomplete items that block the given item.
func (r *Repo) BlockedBy(ctx context.Context, ns, id string) ([]string, error) {
	edges, err := r.edges(ctx, ns)
	if err != nil {
		return nil, err
	}
	var blockers []string
	for _, e := range edges {
		if e.DependencyType != DepBlocks || e.TargetID != id {
			continue
		}
		blocker, err := r.byID(ctx, ns, e.SourceID)
		if err != nil {
			if store.IsNotFound(err) {
				continue // dangling; validate_graph will clean it
			}
			return nil, err
		}
		if blocker.Status != StatusCompleted {
			blockers = append(blockers, blocker.ID)
		}
	}
	return blockers, nil
}

func (r *Repo) edges(ctx context.Context, ns string) ([]*Dependency, error) {
	rows, err := r.store.Scan(ctx, store.TableDependencies, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*Dependency, 0, len(rows))
	for _, row := range rows {
		var dep Dependency
		if err := fromDoc(row.Doc, &dep); err != nil {
			return nil, fmt.Errorf("decode dependency %s: %w", row.ID, err)
		}
		out = append(out, &dep)
	}
	return out, nil
}

// findCycle checks whether adding source->target to the existing blocks
// edges creates a cycle: DFS from target; if source is reachable the new
// edge closes a loop. Returns the cycle path [target, ..., source, target].
func findCycle(edges []*Dependency, source, target string) []string {
	adj := blocksAdjacency(edges)
	adj[source] = append(adj[source], target)

	var path []string
	visited := make(map[string]bool)
	var dfs func(node string) []string
	dfs = func(node string) []string {
		if node == source {
			return append(append([]string{}, path...), node)
		}
		if visited[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range adj[node] {
			if cycle := dfs(next); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		return nil
	}

	if cycle := dfs(target); cycle != nil {
		return append(cycle, cycle[0])
	}
	return nil
}

// findAllCycles reports each directed cycle in the blocks subgraph once.
func findAllCycles(edges []*Dependency) [][]string {
	adj := blocksAdjacency(edges)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycles [][]string
	var stack []string

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case white:
				dfs(next)
			case gray:
				// Found a back edge; slice the cycle off the stack.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := append(append([]string{}, stack[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	// Deterministic traversal order.
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white {
			dfs(n)
		}
	}
	return cycles
}

func blocksAdjacency(edges []*Dependency) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.DependencyType == DepBlocks {
			adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		}
	}
	return adj
}
